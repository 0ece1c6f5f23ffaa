package ql

import (
	"testing"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/schema"
	"github.com/stretchr/testify/require"
)

func TestCompileEndToEnd(t *testing.T) {
	cat := schema.New()
	amount, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)

	src := "select\nsum amount as total\nend\neach_row\n<< amount\nend"
	cq, err := Compile(src, cat)
	require.NoError(t, err)

	require.Equal(t, [][]bytecode.Instr{
		{{Op: bytecode.OpEachCall, Block: 1, Filter: 0}},
		{
			{Op: bytecode.OpPushColumn, ColumnID: int32(amount.ID)},
			{Op: bytecode.OpTally, Argc: 1},
		},
	}, cq.Program.Blocks)

	require.Equal(t, []bytecode.Filter{{
		EvalBlock: -1, LimitBlock: -1, RangeStartBlock: -1, RangeEndBlock: -1,
		WithinOriginBlock: -1, WithinWindowBlock: -1, ContinueBlock: -1,
		FromBlock: -1, ColumnID: -1,
	}}, cq.Program.Filters)

	require.Equal(t, []bytecode.SelectColumn{
		{Modifier: bytecode.ModSum, ColumnID: int32(amount.ID), ColumnName: "amount", Alias: "total", DistinctCol: -1},
	}, cq.Program.Selects)

	require.Equal(t, index.Void{}, cq.IndexExpr)
	require.False(t, cq.IndexIsCountable)
}

// A `where` clause narrows the index expression and, when fully
// representable, marks the query countable.
func TestCompileWithWhereProducesCountableIndex(t *testing.T) {
	cat := schema.New()
	amount, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)

	src := "each_row\nwhere amount == 5\n<< amount\nend"
	cq, err := Compile(src, cat)
	require.NoError(t, err)

	require.Equal(t, index.Term{Column: int32(amount.ID), Op: index.OpEq}, dropValue(cq.IndexExpr))
	require.True(t, cq.IndexIsCountable)
}

// dropValue zeroes Term.Value so callers can assert on column/op
// without repeating the literal's textValue encoding.
func dropValue(n index.Node) index.Node {
	if t, ok := n.(index.Term); ok {
		t.Value = index.Term{}.Value
		return t
	}
	return n
}

func TestCompileRejectsBadFilterCombination(t *testing.T) {
	cat := schema.New()
	_, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)

	_, err = Compile("each_row.forward().reverse()\nend", cat)
	require.Error(t, err)
	require.True(t, ErrBadFilterCombination.Is(err))
}

func TestCompileParsesSectionDirective(t *testing.T) {
	cat := schema.New()
	_, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)

	src := "@segment big_spenders ttl=30_minutes\neach_row\n<< amount\nend"
	cq, err := Compile(src, cat)
	require.NoError(t, err)
	require.NotNil(t, cq.Directive)
	require.Equal(t, "big_spenders", cq.Directive.Name)
	require.Equal(t, int64(30*60*1000), cq.Directive.TTLMs)
}
