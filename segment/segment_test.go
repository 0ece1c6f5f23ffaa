package segment

import (
	"testing"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/grid"
	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
	"github.com/stretchr/testify/require"
)

type memEntities struct {
	ids   []string
	grids map[string]*grid.Grid
}

func (m *memEntities) EntityID(linearID uint32) (string, bool) {
	if int(linearID) >= len(m.ids) {
		return "", false
	}
	return m.ids[linearID], true
}

func (m *memEntities) Grid(entityID string) (*grid.Grid, error) {
	return m.grids[entityID], nil
}

type captureSink struct {
	events []Event
}

func (s *captureSink) Emit(name string, ev Event) {
	s.events = append(s.events, ev)
}

// truthy program: push the entity's amount column, compare >= 4.
func thresholdProgram(colID int32) *bytecode.Program {
	return &bytecode.Program{
		Blocks: [][]bytecode.Instr{
			{
				{Op: bytecode.OpPushColumn, ColumnID: colID},
				{Op: bytecode.OpPushLiteral, Literal: value.DoubleVal(4)},
				{Op: bytecode.OpGte},
			},
		},
	}
}

func newFixture(t *testing.T) (*Partition, int32) {
	t.Helper()
	cat := schema.New()
	amount, err := cat.Add("amount", schema.Double, false)
	require.NoError(t, err)

	alice := grid.New("alice", cat, nil)
	require.NoError(t, alice.Insert(grid.RawEvent{Stamp: 0, Event: "a", Columns: map[string]interface{}{"amount": 3.0}}))
	bob := grid.New("bob", cat, nil)
	require.NoError(t, bob.Insert(grid.RawEvent{Stamp: 0, Event: "a", Columns: map[string]interface{}{"amount": 9.0}}))

	bi := index.NewBitIndex()
	bi.Add(int32(amount.ID), value.DoubleVal(3), 0)
	bi.Add(int32(amount.ID), value.DoubleVal(9), 1)

	p := &Partition{
		Catalog:  cat,
		BitIndex: bi,
		Entities: &memEntities{
			ids:   []string{"alice", "bob"},
			grids: map[string]*grid.Grid{"alice": alice, "bob": bob},
		},
	}
	return p, int32(amount.ID)
}

// Compute runs the program per candidate entity and sets the bit for
// every one whose terminal boolean is true — spec.md §4.8.
func TestComputeSetsBitsForMatchingEntities(t *testing.T) {
	p, colID := newFixture(t)
	bits, err := Compute(p, thresholdProgram(colID), index.Void{}, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), bits.Count())
	require.True(t, bits.Contains(1))
	require.False(t, bits.Contains(0))
}

// A named segment computes lazily on first Get, then reuses cached
// bits while fresh (use_cached, within refresh window).
func TestCacheGetComputesThenReusesWhileFresh(t *testing.T) {
	p, colID := newFixture(t)
	c := NewCache()
	c.Define("big_spenders", thresholdProgram(colID), index.Void{}, false, 0, 10_000, true)

	seg, err := c.Get("big_spenders", p, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seg.CachedPopulation)

	firstRefresh := seg.LastRefreshMs
	seg2, err := c.Get("big_spenders", p, 1500)
	require.NoError(t, err)
	require.Equal(t, firstRefresh, seg2.LastRefreshMs)
}

// Ingest touching a column a segment's index expression references
// marks it dirty, forcing recompute on the next Get even within the
// refresh window — spec.md §4.8.
func TestMarkDirtyForColumnForcesRecompute(t *testing.T) {
	p, colID := newFixture(t)
	c := NewCache()
	c.Define("big_spenders", thresholdProgram(colID), index.Term{Column: colID, Op: index.OpGte, Value: value.DoubleVal(0)}, false, 0, 10_000, true)

	_, err := c.Get("big_spenders", p, 1000)
	require.NoError(t, err)

	c.MarkDirtyForColumn(colID)
	seg, err := c.Get("big_spenders", p, 1001)
	require.NoError(t, err)
	require.Equal(t, int64(1001), seg.LastRefreshMs)
}

// EmitDelta reports exactly the entities whose membership flipped
// between two recomputes, as Enter/Exit events.
func TestEmitDeltaReportsEnterAndExit(t *testing.T) {
	p, colID := newFixture(t)
	sink := &captureSink{}
	c := NewCache()
	c.Sink = sink
	c.Define("big_spenders", thresholdProgram(colID), index.Void{}, false, 0, 0, false)

	_, err := c.Get("big_spenders", p, 0)
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	require.Equal(t, "bob", sink.events[0].EntityID)
	require.Equal(t, Enter, sink.events[0].Kind)

	alice, err := p.Entities.Grid("alice")
	require.NoError(t, err)
	amountCol, _ := p.Catalog.GetByName("amount")
	require.NoError(t, alice.Insert(grid.RawEvent{Stamp: 1, Event: "b", Columns: map[string]interface{}{"amount": 10.0}}))
	p.BitIndex.Add(int32(amountCol.ID), value.DoubleVal(10), 0)

	c.Invalidate("big_spenders")
	_, err = c.Get("big_spenders", p, 1)
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	require.Equal(t, "alice", sink.events[1].EntityID)
	require.Equal(t, Enter, sink.events[1].Kind)
}

// Get on an undefined segment name fails per spec.md §7's named error
// kinds.
func TestGetUnknownSegmentErrors(t *testing.T) {
	p, _ := newFixture(t)
	c := NewCache()
	_, err := c.Get("nope", p, 0)
	require.Error(t, err)
	require.True(t, ErrUnknownSegment.Is(err))
}
