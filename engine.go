// Package coreql is the embedded per-entity analytics engine: it
// compiles QL queries (C4), runs the bytecode VM over each candidate
// entity's grid (C5), accumulates results (C6), merges per-partition
// trees (C7), and maintains named segment bitmaps (C8) — spec.md §1.
package coreql

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/entityql/coreql/accum"
	"github.com/entityql/coreql/grid"
	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/internal/tracing"
	"github.com/entityql/coreql/merge"
	"github.com/entityql/coreql/ql"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/segment"
	"github.com/entityql/coreql/value"
	"github.com/entityql/coreql/vm"
)

// GridSource is the external collaborator owning entity storage
// (spec.md §1 "persistence is an external collaborator"): given a
// table and entity id it returns that entity's grid, mounted but not
// necessarily prepared. Grids it returns must have been constructed
// against the same *schema.Catalog as the owning Partition, since
// Partition.Ingest resolves column names against that catalog (columns
// are registered with DefineColumn) before the grid ever sees them.
type GridSource interface {
	Grid(table, entityID string) (*grid.Grid, error)
}

// Partition is one partition's in-memory state: its column catalog,
// bit index, segment cache, and the entity-id <-> linear-id mapping
// the bit index and segment engine both key off of (spec.md §3
// "linear id", §5 "Shared resources").
type Partition struct {
	ID    string
	Table string

	Catalog  *schema.Catalog
	BitIndex *index.BitIndex
	Segments *segment.Cache
	Grids    GridSource

	// Persist durably mirrors BitIndex onto disk through a pilosa-backed
	// driver when the host opted in via OpenPersistentIndex. Nil means
	// the bit index is in-memory-only for this partition's lifetime.
	Persist *index.PersistentDriver

	mu       sync.RWMutex
	byLinear []string
	byEntity map[string]uint32
}

// NewPartition returns an empty partition reading/writing through
// grids for table.
func NewPartition(id, table string, grids GridSource) *Partition {
	return &Partition{
		ID:       id,
		Table:    table,
		Catalog:  schema.New(),
		BitIndex: index.NewBitIndex(),
		Segments: segment.NewCache(),
		Grids:    grids,
		byEntity: make(map[string]uint32),
	}
}

// OpenPersistentIndex opens (creating if absent) a pilosa-backed
// PersistentDriver rooted under dataDir for this partition's table,
// the directory the host's --data flag names (spec.md §6 CLI "locate
// the column catalog and segment caches at startup"). Subsequent
// Ingest calls mirror every bit-index write to it.
func (p *Partition) OpenPersistentIndex(dataDir string) error {
	driver, err := index.NewPersistentDriver(filepath.Join(dataDir, p.Table))
	if err != nil {
		return err
	}
	p.Persist = driver
	return nil
}

// Close releases the partition's durable index driver, if one was
// opened via OpenPersistentIndex.
func (p *Partition) Close() error {
	if p.Persist == nil {
		return nil
	}
	return p.Persist.Close()
}

// EntityID satisfies segment.EntitySource: resolve a linear id back to
// the entity id it was assigned to.
func (p *Partition) EntityID(linearID uint32) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(linearID) >= len(p.byLinear) {
		return "", false
	}
	return p.byLinear[linearID], true
}

// Grid satisfies segment.EntitySource: fetch and prepare entityID's
// grid through the external collaborator.
func (p *Partition) Grid(entityID string) (*grid.Grid, error) {
	g, err := p.Grids.Grid(p.Table, entityID)
	if err != nil {
		return nil, err
	}
	if err := g.Prepare(); err != nil {
		return nil, Wrap(err, "preparing entity grid")
	}
	return g, nil
}

// linearID returns entityID's linear id within this partition,
// assigning the next one on first sight.
func (p *Partition) linearID(entityID string) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byEntity[entityID]; ok {
		return id
	}
	id := uint32(len(p.byLinear))
	p.byLinear = append(p.byLinear, entityID)
	p.byEntity[entityID] = id
	return id
}

func (p *Partition) asSegmentPartition() *segment.Partition {
	return &segment.Partition{Catalog: p.Catalog, BitIndex: p.BitIndex, Entities: p}
}

// Ingest records one incoming event against entityID (spec.md §6
// "unknown columns are rejected"): every column name in ev must
// already be registered in p.Catalog via DefineColumn before ingest —
// Ingest only resolves, extends the bit index, and dirties any
// segment whose index expression depends on a touched column, then
// inserts the row into the entity's grid.
func (p *Partition) Ingest(entityID string, ev grid.RawEvent) error {
	linearID := p.linearID(entityID)

	for name, raw := range ev.Columns {
		col, err := p.Catalog.GetByName(name)
		if err != nil {
			return err
		}
		rowID := p.BitIndex.Add(int32(col.ID), coerceIndexValue(col.Type, raw), linearID)
		p.Segments.MarkDirtyForColumn(int32(col.ID))
		if p.Persist != nil {
			if err := p.Persist.SetBit(p.Table, name, rowID, linearID); err != nil {
				return Wrap(err, "mirroring bit index to durable store")
			}
		}
	}

	g, err := p.Grid(entityID)
	if err != nil {
		return err
	}
	return g.Insert(ev)
}

// DefineColumn registers name in the partition's catalog ahead of
// ingest (spec.md §4.1 catalog Add, §6 "unknown columns are
// rejected" — only a name the catalog already knows may appear in an
// incoming event's columns).
func (p *Partition) DefineColumn(name string, typ schema.Type, setValued bool) (*schema.Column, error) {
	return p.Catalog.Add(name, typ, setValued)
}

func coerceIndexValue(t schema.Type, raw interface{}) value.Value {
	switch t {
	case schema.Int, schema.Double:
		if f, ok := raw.(float64); ok {
			return value.DoubleVal(f)
		}
	case schema.Bool:
		if b, ok := raw.(bool); ok {
			return value.BoolVal(b)
		}
	case schema.Text:
		if s, ok := raw.(string); ok {
			return value.TextVal(s)
		}
	}
	return value.NilVal()
}

// Options configures an Engine's worker pool and cooperative time
// slice (spec.md §5 "Concurrency and resource model").
type Options struct {
	// Workers bounds the number of partitions evaluated concurrently.
	// Zero defaults to runtime.GOMAXPROCS(0).
	Workers int
	// SliceMs is how long an open loop runs before yielding at its
	// next slice_complete() checkpoint. Zero defaults to 10ms.
	SliceMs int64
}

// Engine orchestrates Compile, per-partition Evaluate, and Merge
// across a query's target partitions (spec.md §1/§5).
type Engine struct {
	opts Options
}

// New returns an Engine configured by opts.
func New(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.SliceMs <= 0 {
		opts.SliceMs = 10
	}
	return &Engine{opts: opts}
}

// Compile runs C4 over source against cat (spec.md §4.4).
func (e *Engine) Compile(source string, cat *schema.Catalog) (*ql.CompiledQuery, error) {
	return ql.Compile(source, cat)
}

// Evaluate runs cq against every partition, fanning out across a
// bounded worker pool with cooperative time-sliced yielding between
// entities, then merges the per-partition result trees into one
// (spec.md §4.7 "Result merge", §5 "Concurrency and resource model").
// A partition that fails with ErrPartitionMigrated is dropped from the
// merge — the caller retries it — every other partition's result
// still contributes.
func (e *Engine) Evaluate(ctx context.Context, cq *ql.CompiledQuery, partitions []*Partition) (*merge.GroupResult, error) {
	// queryID is the idempotent retry id a caller gets back inside a
	// resource error (spec.md §7), minted once per Evaluate call so
	// every partition's deadline/cancellation error names the same
	// retryable request.
	queryID := NewQueryID()

	trees := make([]*accum.Tree, len(partitions))
	errs := make([]error, len(partitions))

	sem := make(chan struct{}, e.opts.Workers)
	var wg sync.WaitGroup
	for i, p := range partitions {
		i, p := i, p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			trees[i], errs[i] = e.evaluatePartition(ctx, cq, p, queryID)
		}()
	}
	wg.Wait()

	live := make([]*accum.Tree, 0, len(partitions))
	for i, err := range errs {
		if err != nil {
			if ErrPartitionMigrated.Is(err) {
				continue
			}
			return nil, err
		}
		live = append(live, trees[i])
	}

	result, err := merge.Merge(live, merge.Options{SortSlot: -1})
	if err != nil {
		Logger.WithField("query_id", queryID).WithError(Cause(err)).Error("partition merge failed")
		return nil, Wrap(err, "merging partition results")
	}
	return result, nil
}

// evaluatePartition runs cq's program over every entity the bit index
// admits as a candidate, cooperatively yielding the goroutine every
// SliceMs of wall time between entities — never mid-entity — and
// checking ctx for cancellation/deadline at the same checkpoints
// (spec.md §5 "Open loops and time slicing"). A per-entity runtime
// error is query-fatal for this partition: it stops the candidate loop
// and propagates to Evaluate, which returns it to the caller rather
// than a partial result (spec.md §4.5, §7 "Runtime errors short-circuit
// the current query on the current partition"). queryID is the
// idempotent id a ErrDeadlineExceeded/ErrCancelled carries back so the
// caller can retry the same logical request.
func (e *Engine) evaluatePartition(ctx context.Context, cq *ql.CompiledQuery, p *Partition, queryID string) (*accum.Tree, error) {
	span, ctx := tracing.StartSpan(ctx, "partition.evaluate")
	defer span.Finish()

	tree := accum.NewTree(cq.Program.Selects)

	candidates := p.BitIndex.Evaluate(cq.IndexExpr)
	sliceStart := time.Now()

	for _, linearID := range candidates.ToArray() {
		if time.Since(sliceStart) >= time.Duration(e.opts.SliceMs)*time.Millisecond {
			select {
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return nil, ErrDeadlineExceeded.New(queryID)
				}
				return nil, ErrCancelled.New(queryID)
			default:
				runtime.Gosched()
			}
			sliceStart = time.Now()
		}

		entityID, ok := p.EntityID(linearID)
		if !ok {
			continue
		}
		g, err := p.Grid(entityID)
		if err != nil {
			return nil, err
		}

		m := vm.New(cq.Program, p.Catalog, g, tree, entityID)
		if err := m.Run(); err != nil {
			Logger.WithField("entity", entityID).WithField("query_id", queryID).WithError(Cause(err)).Warn("query aborted for partition")
			return nil, err
		}
	}

	return tree, nil
}

// Segment resolves or recomputes name against p (spec.md §4.8), using
// nowMs for TTL/refresh comparisons.
func (p *Partition) Segment(cq *ql.CompiledQuery, name string, ttlMs, refreshMs int64, useCached bool, nowMs int64) (*segment.Segment, error) {
	p.Segments.Define(name, cq.Program, cq.IndexExpr, cq.IndexIsCountable, ttlMs, refreshMs, useCached)
	return p.Segments.Get(name, p.asSegmentPartition(), nowMs)
}
