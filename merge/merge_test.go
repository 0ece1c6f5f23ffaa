package merge

import (
	"testing"

	"github.com/entityql/coreql/accum"
	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/value"
	"github.com/stretchr/testify/require"
)

func selects() []bytecode.SelectColumn {
	return []bytecode.SelectColumn{
		{Modifier: bytecode.ModSum, ColumnID: 1, ColumnName: "amount", Alias: "total", DistinctCol: -1},
	}
}

func nils() []value.Value { return []value.Value{value.NilVal()} }

// Two partitions' trees fold into one result, sums combining
// additively — spec.md P5 (associative/commutative merge).
func TestMergeCombinesPartitionSums(t *testing.T) {
	t1 := accum.NewTree(selects())
	t1.Tally([]value.Value{value.TextVal("a")}, []value.Value{value.DoubleVal(3)}, nils(), 0, 1, value.TextVal("e1"))

	t2 := accum.NewTree(selects())
	t2.Tally([]value.Value{value.TextVal("a")}, []value.Value{value.DoubleVal(4)}, nils(), 0, 1, value.TextVal("e2"))

	result, err := Merge([]*accum.Tree{t1, t2}, Options{SortSlot: -1})
	require.NoError(t, err)
	require.Len(t, result.Children, 1)
	require.Equal(t, "a", result.Children[0].G)
	require.Equal(t, float64(7), result.Children[0].C[0])
}

// Each partition's local text hash resolves through the unified text
// table in the merged result, not just the hash — spec.md §4.7.
func TestMergeResolvesTextAcrossPartitions(t *testing.T) {
	t1 := accum.NewTree(selects())
	t1.Tally([]value.Value{value.TextVal("group-x")}, []value.Value{value.DoubleVal(1)}, nils(), 0, 1, value.TextVal("e1"))

	t2 := accum.NewTree(selects())
	t2.Tally([]value.Value{value.TextVal("group-y")}, []value.Value{value.DoubleVal(2)}, nils(), 0, 1, value.TextVal("e2"))

	result, err := Merge([]*accum.Tree{t1, t2}, Options{SortSlot: -1})
	require.NoError(t, err)
	require.Len(t, result.Children, 2)

	groups := map[string]float64{}
	for _, c := range result.Children {
		groups[c.G.(string)] = c.C[0].(float64)
	}
	require.Equal(t, float64(1), groups["group-x"])
	require.Equal(t, float64(2), groups["group-y"])
}

// Two partitions whose local tables map the same hash to different
// strings must fail the merge, never silently pick one — spec.md §9
// Open Questions ("fail the query with Internal/HashCollision").
func TestMergeDetectsHashCollision(t *testing.T) {
	t1 := accum.NewTree(selects())
	t1.Tally([]value.Value{value.TextVal("dup")}, []value.Value{value.DoubleVal(1)}, nils(), 0, 1, value.TextVal("e1"))

	t2 := accum.NewTree(selects())
	sameHash := value.TextVal("dup").TextHash()
	t2.Tally([]value.Value{value.TextHashVal(sameHash, "different")}, []value.Value{value.DoubleVal(1)}, nils(), 0, 1, value.TextVal("e2"))

	_, err := Merge([]*accum.Tree{t1, t2}, Options{SortSlot: -1})
	require.Error(t, err)
	require.True(t, accum.ErrHashCollision.Is(err))
}

// An empty partition set merges to an empty result rather than error.
func TestMergeEmptyPartitionList(t *testing.T) {
	result, err := Merge(nil, Options{SortSlot: -1})
	require.NoError(t, err)
	require.Len(t, result.Children, 0)
}

// Sort orders top-level groups by the requested slot, ascending or
// descending.
func TestMergeSortOrdersGroups(t *testing.T) {
	tr := accum.NewTree(selects())
	tr.Tally([]value.Value{value.TextVal("lo")}, []value.Value{value.DoubleVal(1)}, nils(), 0, 1, value.TextVal("e1"))
	tr.Tally([]value.Value{value.TextVal("hi")}, []value.Value{value.DoubleVal(9)}, nils(), 0, 2, value.TextVal("e1"))

	result, err := Merge([]*accum.Tree{tr}, Options{SortSlot: 0, SortAscending: false})
	require.NoError(t, err)
	require.Len(t, result.Children, 2)
	require.Equal(t, float64(9), result.Children[0].C[0])
	require.Equal(t, float64(1), result.Children[1].C[0])
}
