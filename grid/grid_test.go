package grid

import (
	"testing"

	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat := schema.New()
	_, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)
	_, err = cat.Add("tags", schema.Text, true)
	require.NoError(t, err)
	return cat
}

// Out-of-order inserts end up sorted by (stamp, z_order, event) —
// spec.md P1.
func TestGridInsertSortsByStamp(t *testing.T) {
	cat := newTestCatalog(t)
	g := New("e1", cat, nil)

	require.NoError(t, g.Insert(RawEvent{Stamp: 200, Event: "b", Columns: map[string]interface{}{"amount": 2.0}}))
	require.NoError(t, g.Insert(RawEvent{Stamp: 100, Event: "a", Columns: map[string]interface{}{"amount": 1.0}}))

	require.Equal(t, 2, g.RowCount())
	require.Equal(t, int64(100), g.Row(0).Stamp)
	require.Equal(t, int64(200), g.Row(1).Stamp)
}

// Set-valued columns expand into one physical row per value, sharing
// every other column, per spec.md §3/§4.2.
func TestGridSetValuedColumnExpands(t *testing.T) {
	cat := newTestCatalog(t)
	g := New("e1", cat, nil)

	require.NoError(t, g.Insert(RawEvent{
		Stamp: 100, Event: "tagged",
		Columns: map[string]interface{}{"tags": []interface{}{"x", "y"}},
	}))

	require.Equal(t, 2, g.RowCount())
	tagCol, err := cat.GetByName("tags")
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < g.RowCount(); i++ {
		v := g.Value(i, int32(tagCol.ID))
		seen[v.Text()] = true
		require.Equal(t, "tagged", g.Row(i).EventName)
	}
	require.True(t, seen["x"])
	require.True(t, seen["y"])
}

// Sessions advance monotonically, splitting only when the inter-event
// gap exceeds SessionGap — spec.md P3.
func TestGridSessionAssignment(t *testing.T) {
	cat := newTestCatalog(t)
	g := New("e1", cat, nil)
	g.SessionGap = 1000

	require.NoError(t, g.Insert(RawEvent{Stamp: 0, Event: "a"}))
	require.NoError(t, g.Insert(RawEvent{Stamp: 500, Event: "b"}))
	require.NoError(t, g.Insert(RawEvent{Stamp: 5000, Event: "c"}))

	require.Equal(t, g.Row(0).Session, g.Row(1).Session)
	require.Greater(t, g.Row(2).Session, g.Row(1).Session)
}

// Insert rejects a column name the catalog has never seen.
func TestGridInsertUnknownColumn(t *testing.T) {
	cat := newTestCatalog(t)
	g := New("e1", cat, nil)

	err := g.Insert(RawEvent{Stamp: 0, Event: "a", Columns: map[string]interface{}{"nope": 1.0}})
	require.Error(t, err)
}

// Value returns Nil for a column absent from a given row.
func TestGridValueMissingColumnIsNil(t *testing.T) {
	cat := newTestCatalog(t)
	g := New("e1", cat, nil)
	require.NoError(t, g.Insert(RawEvent{Stamp: 0, Event: "a"}))

	amount, err := cat.GetByName("amount")
	require.NoError(t, err)
	require.Equal(t, value.NilVal(), g.Value(0, int32(amount.ID)))
}
