package vm

import (
	"testing"

	"github.com/entityql/coreql/accum"
	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/grid"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
	"github.com/stretchr/testify/require"
)

func newAmountCatalog(t *testing.T) (*schema.Catalog, *schema.Column) {
	t.Helper()
	cat := schema.New()
	col, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)
	return cat, col
}

func noopFilter() bytecode.Filter {
	return bytecode.Filter{
		EvalBlock: -1, LimitBlock: -1, RangeStartBlock: -1, RangeEndBlock: -1,
		WithinOriginBlock: -1, WithinWindowBlock: -1, ContinueBlock: -1,
		FromBlock: -1, ColumnID: -1,
	}
}

// Running an each_row body over every grid row tallies a sum
// accumulator across all rows — spec.md §4.5/§4.6.
func TestVMEachRowTalliesSum(t *testing.T) {
	cat, amount := newAmountCatalog(t)
	g := grid.New("e1", cat, nil)
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 0, Event: "a", Columns: map[string]interface{}{"amount": 3.0}}))
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 1, Event: "b", Columns: map[string]interface{}{"amount": 4.0}}))

	prog := &bytecode.Program{
		Blocks: [][]bytecode.Instr{
			{{Op: bytecode.OpEachCall, Block: 1, Filter: 0}},
			{{Op: bytecode.OpTally, Argc: 0}},
		},
		Filters: []bytecode.Filter{noopFilter()},
		Selects: []bytecode.SelectColumn{
			{Modifier: bytecode.ModSum, ColumnID: int32(amount.ID), ColumnName: "amount", Alias: "total", DistinctCol: -1},
		},
	}

	tree := accum.NewTree(prog.Selects)
	m := New(prog, cat, g, tree, "e1")
	require.NoError(t, m.Run())

	leaf := tree.GetOrMakeLeaf(nil)
	require.Equal(t, value.DoubleVal(7), leaf.Slots[0].Finalize())
}

// Each row's tally is keyed by a per-row group path pushed before
// OpTally — spec.md §4.6 "tally(g1, ..., gk)".
func TestVMEachRowTalliesByGroupKey(t *testing.T) {
	cat, amount := newAmountCatalog(t)
	g := grid.New("e1", cat, nil)
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 0, Event: "a", Columns: map[string]interface{}{"amount": 3.0}}))
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 1, Event: "b", Columns: map[string]interface{}{"amount": 4.0}}))

	prog := &bytecode.Program{
		Blocks: [][]bytecode.Instr{
			{{Op: bytecode.OpEachCall, Block: 1, Filter: 0}},
			{
				{Op: bytecode.OpPushColumn, ColumnID: int32(amount.ID)},
				{Op: bytecode.OpTally, Argc: 1},
			},
		},
		Filters: []bytecode.Filter{noopFilter()},
		Selects: []bytecode.SelectColumn{
			{Modifier: bytecode.ModCount, ColumnID: int32(amount.ID), ColumnName: "amount", Alias: "cnt", DistinctCol: -1},
		},
	}

	tree := accum.NewTree(prog.Selects)
	m := New(prog, cat, g, tree, "e1")
	require.NoError(t, m.Run())

	rows := tree.Snapshot()
	require.Len(t, rows, 2)
}

// The terminal boolean expression's result becomes the entity's
// segment-compute bit — spec.md §4.8.
func TestVMResultReadsTerminalBoolean(t *testing.T) {
	cat, _ := newAmountCatalog(t)
	g := grid.New("e1", cat, nil)

	prog := &bytecode.Program{
		Blocks: [][]bytecode.Instr{
			{
				{Op: bytecode.OpPushLiteral, Literal: value.IntVal(2)},
				{Op: bytecode.OpPushLiteral, Literal: value.IntVal(3)},
				{Op: bytecode.OpAdd},
				{Op: bytecode.OpPushLiteral, Literal: value.IntVal(5)},
				{Op: bytecode.OpEq},
			},
		},
	}

	m := New(prog, cat, g, nil, "e1")
	require.NoError(t, m.Run())
	require.True(t, m.Result())
}

// evalColumnFilter's .ever/.row/.never modes must agree with
// ReferenceEverRowNever, the independently-computed check SPEC_FULL.md
// names for testing the filter algebra (spec.md §8 P7).
func TestColumnFilterMatchesReference(t *testing.T) {
	cat, amount := newAmountCatalog(t)
	g := grid.New("e1", cat, nil)
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 0, Event: "a", Columns: map[string]interface{}{"amount": 1.0}}))
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 1, Event: "b", Columns: map[string]interface{}{"amount": 5.0}}))
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 2, Event: "c", Columns: map[string]interface{}{"amount": 3.0}}))

	colID := int32(amount.ID)
	target := value.DoubleVal(4)

	prog := &bytecode.Program{
		Blocks: [][]bytecode.Instr{
			{{Op: bytecode.OpPushLiteral, Literal: target}},
		},
	}

	everFilter := bytecode.Filter{
		ColumnID: colID, Comparator: bytecode.CmpGte, EvalBlock: 0,
		LimitBlock: -1, RangeStartBlock: -1, RangeEndBlock: -1,
		WithinOriginBlock: -1, WithinWindowBlock: -1, ContinueBlock: -1, FromBlock: -1,
	}
	neverFilter := everFilter
	neverFilter.IsNever = true
	rowFilter := everFilter
	rowFilter.IsRow = true

	m := New(prog, cat, g, nil, "e1")
	ok, err := m.evalColumnFilter(&everFilter)
	require.NoError(t, err)
	require.Equal(t, ReferenceEverRowNever(g, colID, bytecode.CmpGte, target, m.cursor, "ever"), ok)
	require.True(t, ok)

	ok, err = m.evalColumnFilter(&neverFilter)
	require.NoError(t, err)
	require.Equal(t, ReferenceEverRowNever(g, colID, bytecode.CmpGte, target, m.cursor, "never"), ok)
	require.False(t, ok)

	for _, cursor := range []int{0, 1, 2} {
		m.cursor = cursor
		ok, err = m.evalColumnFilter(&rowFilter)
		require.NoError(t, err)
		require.Equal(t, ReferenceEverRowNever(g, colID, bytecode.CmpGte, target, cursor, "row"), ok)
	}
}

// A nil tree (segment-compute mode) makes OpTally a silent no-op
// rather than a nil-pointer panic.
func TestVMTallyWithNilTreeIsNoop(t *testing.T) {
	cat, amount := newAmountCatalog(t)
	g := grid.New("e1", cat, nil)
	require.NoError(t, g.Insert(grid.RawEvent{Stamp: 0, Event: "a", Columns: map[string]interface{}{"amount": 3.0}}))

	prog := &bytecode.Program{
		Blocks: [][]bytecode.Instr{
			{{Op: bytecode.OpEachCall, Block: 1, Filter: 0}},
			{{Op: bytecode.OpTally, Argc: 0}},
		},
		Filters: []bytecode.Filter{noopFilter()},
		Selects: []bytecode.SelectColumn{
			{Modifier: bytecode.ModSum, ColumnID: int32(amount.ID), ColumnName: "amount", Alias: "total", DistinctCol: -1},
		},
	}

	m := New(prog, cat, g, nil, "e1")
	require.NoError(t, m.Run())
}
