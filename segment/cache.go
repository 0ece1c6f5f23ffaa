package segment

import (
	"sync"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/index"
)

// entry bundles a cached Segment with the compiled program it was
// defined from, so Cache can recompute it without the caller having to
// keep that bookkeeping itself.
type entry struct {
	seg       *Segment
	prog      *bytecode.Program
	idxExpr   index.Node
	countable bool
	columns   map[int32]struct{} // referenced columns, for ingest dirtying
}

// Cache is the per-partition segment store (spec.md §4.8 "Segment bits
// live for their TTL unless explicitly refreshed or invalidated by
// ingest").
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	// Sink receives Enter/Exit delta events on every recompute, if set.
	Sink Sink
}

// NewCache returns an empty per-partition segment cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Define registers (or replaces) a named segment's program, ready to
// be computed lazily on first Get/Refresh.
func (c *Cache) Define(name string, prog *bytecode.Program, idxExpr index.Node, countable bool, ttlMs, refreshMs int64, useCached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = &entry{
		seg: &Segment{
			Name:      name,
			Bits:      nil,
			TTLMs:     ttlMs,
			RefreshMs: refreshMs,
			UseCached: useCached,
			Dirty:     true,
		},
		prog:      prog,
		idxExpr:   idxExpr,
		countable: countable,
		columns:   collectColumns(idxExpr),
	}
}

// Get returns name's segment, computing or refreshing it against p as
// needed (spec.md §4.8 caching rules): a segment with no cached bits
// yet always computes; one with cached bits returns them as-is when
// `use_cached` and still fresh, otherwise it is recomputed.
func (c *Cache) Get(name string, p *Partition, nowMs int64) (*Segment, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSegment.New(name)
	}

	needsRefresh := e.seg.Bits == nil || e.seg.Expired(nowMs) || !(e.seg.UseCached && e.seg.Fresh(nowMs))
	if needsRefresh {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := Refresh(e.seg, p, e.prog, e.idxExpr, e.countable, nowMs); err != nil {
			return nil, err
		}
		EmitDelta(e.seg, p, c.Sink)
	}
	return e.seg, nil
}

// Invalidate marks name dirty so the next Get recomputes it
// (spec.md §4.8 "DELETE invalidates").
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok {
		e.seg.Dirty = true
	}
}

// MarkDirtyForColumn dirties every segment whose index expression
// references colID, called from the ingest path on each event
// (spec.md §4.8 "Ingest of any event touching a referenced column
// marks dependent segments dirty").
func (c *Cache) MarkDirtyForColumn(colID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if _, ok := e.columns[colID]; ok {
			e.seg.Dirty = true
		}
	}
}

func collectColumns(n index.Node) map[int32]struct{} {
	out := make(map[int32]struct{})
	var walk func(index.Node)
	walk = func(n index.Node) {
		switch t := n.(type) {
		case index.Term:
			out[t.Column] = struct{}{}
		case index.And:
			walk(t.Left)
			walk(t.Right)
		case index.Or:
			walk(t.Left)
			walk(t.Right)
		case index.Not:
			walk(t.X)
		}
	}
	walk(n)
	return out
}
