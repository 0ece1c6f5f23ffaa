package ql

import (
	"testing"

	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
	"github.com/stretchr/testify/require"
)

func extractFrom(t *testing.T, cat *schema.Catalog, src string) (index.Node, bool) {
	t.Helper()
	toks, err := NewLexer(src).Tokens()
	require.NoError(t, err)
	stmts, err := NewParser(toks).ParseScript()
	require.NoError(t, err)
	return ExtractIndexExpr(stmts, cat)
}

func TestExtractIndexExprSimpleComparison(t *testing.T) {
	cat := schema.New()
	amount, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)

	n, countable := extractFrom(t, cat, "each_row\nwhere amount == 5\n<< amount\nend")
	require.True(t, countable)
	require.Equal(t, index.Term{Column: int32(amount.ID), Op: index.OpEq, Value: value.IntVal(5)}, n)
}

func TestExtractIndexExprAndStaysCountable(t *testing.T) {
	cat := schema.New()
	amount, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)
	kind, err := cat.Add("kind", schema.Text, false)
	require.NoError(t, err)

	n, countable := extractFrom(t, cat, `each_row
where amount > 5 && kind == "gift"
<< amount
end`)
	require.True(t, countable)
	require.Equal(t, index.And{
		Left:  index.Term{Column: int32(amount.ID), Op: index.OpGt, Value: value.IntVal(5)},
		Right: index.Term{Column: int32(kind.ID), Op: index.OpEq, Value: value.TextVal("gift")},
	}, n)
}

// An Or with one side unrepresentable (a user variable, not a column)
// widens to Void rather than narrowing, since the true candidate set
// could come entirely from the void branch.
func TestExtractIndexExprOrWithVoidSideWidensToVoid(t *testing.T) {
	cat := schema.New()
	_, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)

	n, countable := extractFrom(t, cat, `each_row
where amount == 5 || x == 1
<< amount
end`)
	require.False(t, countable)
	require.Equal(t, index.Void{}, n)
}

func TestExtractIndexExprInExpandsToOrChain(t *testing.T) {
	cat := schema.New()
	kind, err := cat.Add("kind", schema.Text, false)
	require.NoError(t, err)

	n, countable := extractFrom(t, cat, `each_row
where kind in ["gift", "refund"]
<< kind
end`)
	require.True(t, countable)
	require.Equal(t, index.Or{
		Left:  index.Term{Column: int32(kind.ID), Op: index.OpEq, Value: value.TextVal("gift")},
		Right: index.Term{Column: int32(kind.ID), Op: index.OpEq, Value: value.TextVal("refund")},
	}, n)
}

// No each_row at all: there is nothing to index, and the result must
// say so rather than fabricate a Void term.
func TestExtractIndexExprNoEachRowReturnsVoid(t *testing.T) {
	cat := schema.New()
	n, countable := extractFrom(t, cat, "select\nsum amount\nend")
	require.False(t, countable)
	require.Equal(t, index.Void{}, n)
}
