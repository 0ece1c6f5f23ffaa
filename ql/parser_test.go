package ql

import (
	"testing"

	"github.com/entityql/coreql/bytecode"
	"github.com/stretchr/testify/require"
)

func parseSrc(t *testing.T, src string) []Stmt {
	t.Helper()
	toks, err := NewLexer(src).Tokens()
	require.NoError(t, err)
	stmts, err := NewParser(toks).ParseScript()
	require.NoError(t, err)
	return stmts
}

// intLit asserts e is an int literal and returns its value, ignoring
// the token's source location (irrelevant to AST shape).
func intLit(t *testing.T, e Expr) int64 {
	t.Helper()
	lit, ok := e.(LiteralExpr)
	require.True(t, ok)
	require.Equal(t, KindInt, lit.Tok.Kind)
	return lit.Tok.IntVal
}

func TestParserParsesSelectDecl(t *testing.T) {
	stmts := parseSrc(t, "select\nsum amount as total key user_id\nend")
	require.Len(t, stmts, 1)
	sel, ok := stmts[0].(SelectStmt)
	require.True(t, ok)
	require.Equal(t, []SelectDecl{
		{Modifier: bytecode.ModSum, Column: "amount", Alias: "total", DistinctKey: "user_id"},
	}, sel.Columns)
}

func TestParserSelectDeclDefaultsAliasToColumn(t *testing.T) {
	stmts := parseSrc(t, "select\ncount amount\nend")
	sel := stmts[0].(SelectStmt)
	require.Equal(t, "amount", sel.Columns[0].Alias)
}

func TestParserParsesTallyWithMultipleKeys(t *testing.T) {
	stmts := parseSrc(t, "<< a, b")
	tally, ok := stmts[0].(TallyStmt)
	require.True(t, ok)
	require.Equal(t, []Expr{IdentExpr{Name: "a"}, IdentExpr{Name: "b"}}, tally.Keys)
}

func TestParserParsesIfElsifElse(t *testing.T) {
	stmts := parseSrc(t, "if a == 1\n<< a\nelsif a == 2\n<< b\nelse\n<< c\nend")
	require.Len(t, stmts, 1)
	top, ok := stmts[0].(IfStmt)
	require.True(t, ok)
	topCond, ok := top.Cond.(BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "==", topCond.Op)
	require.Equal(t, IdentExpr{Name: "a"}, topCond.Left)
	require.Equal(t, int64(1), intLit(t, topCond.Right))
	require.Len(t, top.Else, 1)

	elsif, ok := top.Else[0].(IfStmt)
	require.True(t, ok)
	elsifCond, ok := elsif.Cond.(BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "==", elsifCond.Op)
	require.Equal(t, IdentExpr{Name: "a"}, elsifCond.Left)
	require.Equal(t, int64(2), intLit(t, elsifCond.Right))
	require.Equal(t, []Stmt{TallyStmt{Keys: []Expr{IdentExpr{Name: "c"}}}}, elsif.Else)
}

func TestParserBreakVariants(t *testing.T) {
	all := parseSrc(t, "break all")[0].(BreakStmt)
	require.True(t, all.All)

	n := parseSrc(t, "break 3")[0].(BreakStmt)
	require.Equal(t, 3, n.Depth)

	bare := parseSrc(t, "break")[0].(BreakStmt)
	require.Equal(t, 1, bare.Depth)
}

func TestParserBreakRejectsTooDeepLiteral(t *testing.T) {
	toks, err := NewLexer("break 1000").Tokens()
	require.NoError(t, err)
	_, err = NewParser(toks).ParseScript()
	require.Error(t, err)
	require.True(t, ErrTooDeepBreak.Is(err))
}

func TestParserAssignAndAugmentedAssign(t *testing.T) {
	a := parseSrc(t, "x = 1")[0].(AssignStmt)
	require.Equal(t, "x", a.Target)
	require.Equal(t, int64(1), intLit(t, a.Value))

	aug := parseSrc(t, "x += 2")[0].(AssignStmt)
	require.Equal(t, "x", aug.Target)
	augVal, ok := aug.Value.(BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "+", augVal.Op)
	require.Equal(t, IdentExpr{Name: "x"}, augVal.Left)
	require.Equal(t, int64(2), intLit(t, augVal.Right))
}

func TestParserEachRowWithChainsAndWhere(t *testing.T) {
	stmts := parseSrc(t, "each_row.next()\nwhere amount == 5\n<< amount\nend")
	er, ok := stmts[0].(EachRowStmt)
	require.True(t, ok)
	require.Len(t, er.Chains, 1)
	require.Equal(t, "next", er.Chains[0].Name)
	require.NotNil(t, er.Where)
	require.Len(t, er.Body, 1)
}

// Each rejected pair below must fail to parse, and only those pairs.
func TestParserRejectsBadFilterCombinations(t *testing.T) {
	bad := []string{
		"each_row.row.ever()\nend",
		"each_row.forward().reverse()\nend",
		"each_row.look_ahead().look_back()\nend",
		"each_row.next().from()\nend",
	}
	for _, src := range bad {
		toks, err := NewLexer(src).Tokens()
		require.NoError(t, err)
		_, err = NewParser(toks).ParseScript()
		require.Errorf(t, err, "expected %q to be rejected", src)
		require.True(t, ErrBadFilterCombination.Is(err))
	}
}

// `.next()` without `.continue()` is explicitly NOT a bad combination
// (only {"next","from"} is rejected) — it must parse cleanly on its
// own.
func TestParserAllowsNextWithoutContinue(t *testing.T) {
	stmts := parseSrc(t, "each_row.next()\nend")
	er := stmts[0].(EachRowStmt)
	require.Len(t, er.Chains, 1)
	require.Equal(t, "next", er.Chains[0].Name)
}
