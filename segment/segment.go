// Package segment implements C8: named per-entity boolean bitmaps
// computed by running a compiled QL program over a partition, cached
// with a TTL/refresh window, and diff-emitted on recompute (spec.md
// §4.8).
package segment

import (
	"context"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/grid"
	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/internal/bitmap"
	"github.com/entityql/coreql/internal/tracing"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/vm"
	kinds "gopkg.in/src-d/go-errors.v1"
)

// Errors (spec.md §7 Runtime/Resource class).
var (
	ErrUnknownSegment = kinds.NewKind("segment %q not found")
)

// Segment is one named boolean bitmap over a partition's entities
// (spec.md §4.8 "Segment" type).
type Segment struct {
	Name string

	Bits             *bitmap.Bitmap
	PreviousBits     *bitmap.Bitmap
	CachedPopulation uint64

	TTLMs         int64 // <=0 means forever
	RefreshMs     int64
	LastRefreshMs int64
	UseCached     bool
	Dirty         bool
}

// Partition is the minimal view of a partition's entity set a segment
// compute needs: resolving candidates from the bit index, and walking
// every candidate's entity id + grid by its partition-local linear id.
type Partition struct {
	Catalog  *schema.Catalog
	BitIndex *index.BitIndex
	Entities EntitySource
}

// EntitySource resolves a partition-local linear id to the entity id
// and grid the VM evaluates (spec.md §3 "linear id").
type EntitySource interface {
	EntityID(linearID uint32) (string, bool)
	Grid(entityID string) (*grid.Grid, error)
}

// Compute runs prog per candidate entity (spec.md §4.8 "compute").
// When idxExpr reduces to an exact (index_is_countable) formula, the
// index's own candidate bitmap already is the answer and no entity is
// evaluated; otherwise the index bitmap narrows the candidate set and
// every candidate still runs through the VM for the exact answer.
func Compute(p *Partition, prog *bytecode.Program, idxExpr index.Node, countable bool) (*bitmap.Bitmap, error) {
	span, _ := tracing.StartSpan(context.Background(), "segment.compute")
	defer span.Finish()

	candidates := p.BitIndex.Evaluate(idxExpr)
	if countable {
		return candidates.Clone(), nil
	}

	out := bitmap.New()
	for _, id := range candidates.ToArray() {
		entityID, ok := p.Entities.EntityID(id)
		if !ok {
			continue
		}
		g, err := p.Entities.Grid(entityID)
		if err != nil {
			return nil, err
		}
		if err := g.Prepare(); err != nil {
			return nil, err
		}

		m := vm.New(prog, p.Catalog, g, nil, entityID)
		if err := m.Run(); err != nil {
			return nil, err
		}
		if m.Result() {
			out.Set(id)
		}
	}
	return out, nil
}

// Refresh recomputes seg in place, rolling Bits into PreviousBits for
// delta emission (spec.md §4.8 "Delta emission").
func Refresh(seg *Segment, p *Partition, prog *bytecode.Program, idxExpr index.Node, countable bool, nowMs int64) error {
	bits, err := Compute(p, prog, idxExpr, countable)
	if err != nil {
		return err
	}
	seg.PreviousBits = seg.Bits
	seg.Bits = bits
	seg.CachedPopulation = bits.Count()
	seg.LastRefreshMs = nowMs
	seg.Dirty = false
	return nil
}

// Fresh reports whether seg's cached bits are still within its
// refresh window as of nowMs (spec.md §4.8 "use_cached=true returns
// cached bits when within refresh window").
func (seg *Segment) Fresh(nowMs int64) bool {
	if seg.Dirty {
		return false
	}
	if seg.RefreshMs <= 0 {
		return seg.LastRefreshMs != 0
	}
	return nowMs-seg.LastRefreshMs < seg.RefreshMs
}

// Expired reports whether seg's TTL has elapsed (spec.md §4.8
// "ttl_ms (<=0 = forever)").
func (seg *Segment) Expired(nowMs int64) bool {
	if seg.TTLMs <= 0 {
		return false
	}
	return nowMs-seg.LastRefreshMs >= seg.TTLMs
}
