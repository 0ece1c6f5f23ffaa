package accum

import (
	"testing"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/value"
	"github.com/stretchr/testify/require"
)

func testSelects() []bytecode.SelectColumn {
	return []bytecode.SelectColumn{
		{Modifier: bytecode.ModCount, ColumnID: 1, ColumnName: "event", Alias: "cnt", DistinctCol: -1},
		{Modifier: bytecode.ModSum, ColumnID: 2, ColumnName: "amount", Alias: "total", DistinctCol: -1},
	}
}

// Tally applies every select slot's modifier rule — spec.md §4.6.
func TestTreeTallyAppliesModifiers(t *testing.T) {
	tree := NewTree(testSelects())
	key := []value.Value{value.TextVal("group-a")}

	tree.Tally(key, []value.Value{value.IntVal(1), value.DoubleVal(5)}, []value.Value{value.NilVal(), value.NilVal()}, 100, 1, value.TextVal("e1"))
	tree.Tally(key, []value.Value{value.IntVal(1), value.DoubleVal(3)}, []value.Value{value.NilVal(), value.NilVal()}, 200, 2, value.TextVal("e1"))

	leaf := tree.GetOrMakeLeaf(key)
	require.Equal(t, value.IntVal(2), leaf.Slots[0].Finalize())
	require.Equal(t, value.DoubleVal(8), leaf.Slots[1].Finalize())
}

// A single logical event that set-expanded into multiple physical
// rows (same distinct key, stamp, event) must not double-count —
// spec.md P6.
func TestTreeTallyDedupesRepeatedEvent(t *testing.T) {
	tree := NewTree(testSelects())
	key := []value.Value{value.IntVal(0)}

	tree.Tally(key, []value.Value{value.IntVal(1), value.DoubleVal(5)}, []value.Value{value.NilVal(), value.NilVal()}, 100, 42, value.TextVal("e1"))
	tree.Tally(key, []value.Value{value.IntVal(1), value.DoubleVal(5)}, []value.Value{value.NilVal(), value.NilVal()}, 100, 42, value.TextVal("e1"))

	leaf := tree.GetOrMakeLeaf(key)
	require.Equal(t, value.IntVal(1), leaf.Slots[0].Finalize())
}

// Snapshot returns groups in deterministic, key-sorted order —
// spec.md §4.6/P8.
func TestTreeSnapshotDeterministicOrder(t *testing.T) {
	tree := NewTree(testSelects())
	tree.Tally([]value.Value{value.IntVal(2)}, []value.Value{value.IntVal(1), value.DoubleVal(1)}, []value.Value{value.NilVal(), value.NilVal()}, 0, 1, value.TextVal("e1"))
	tree.Tally([]value.Value{value.IntVal(1)}, []value.Value{value.IntVal(1), value.DoubleVal(1)}, []value.Value{value.NilVal(), value.NilVal()}, 0, 2, value.TextVal("e1"))

	rows := tree.Snapshot()
	require.Len(t, rows, 2)
	require.Equal(t, value.IntVal(1), rows[0].Path[0])
	require.Equal(t, value.IntVal(2), rows[1].Path[0])
}
