package segment

import (
	"github.com/entityql/coreql/internal/bitmap"
	"github.com/entityql/coreql/vm"
)

// MathSource adapts a Cache into vm.SegmentSource, the interface the
// `population`/`intersection`/`union`/`difference`/`complement`
// marshals resolve named segments through (spec.md §4.8 "If the
// program's top form uses only segment math marshals, computes the
// result directly from cached segment bitmaps without iterating
// entities").
type MathSource struct {
	Cache     *Cache
	Partition *Partition
	Universe  uint32
	NowMs     int64
}

var _ vm.SegmentSource = (*MathSource)(nil)

// Segment resolves name to a *vm.SegmentBits wrapping its current
// cached bitmap, recomputing through the ordinary Cache.Get path if
// stale. Returns nil if the segment is unknown, so the marshal surfaces
// that as a runtime error rather than panicking.
func (s *MathSource) Segment(name string) *vm.SegmentBits {
	seg, err := s.Cache.Get(name, s.Partition, s.NowMs)
	if err != nil {
		return nil
	}
	return wrap(seg.Bits, s.Universe)
}

func wrap(b *bitmap.Bitmap, universe uint32) *vm.SegmentBits {
	return &vm.SegmentBits{
		Raw:   b,
		Count: func() uint64 { return b.Count() },
		Intersect: func(other *vm.SegmentBits) *vm.SegmentBits {
			return wrap(bitmap.And(b, unwrap(other)), universe)
		},
		Union: func(other *vm.SegmentBits) *vm.SegmentBits {
			return wrap(bitmap.Or(b, unwrap(other)), universe)
		},
		Subtract: func(other *vm.SegmentBits) *vm.SegmentBits {
			return wrap(bitmap.AndNot(b, unwrap(other)), universe)
		},
		Invert: func() *vm.SegmentBits {
			return wrap(bitmap.Not(b, universe), universe)
		},
	}
}

// unwrap recovers the bitmap an earlier wrap stashed in Raw; the other
// operand of a binary segment-math op is always one produced by this
// same adapter.
func unwrap(s *vm.SegmentBits) *bitmap.Bitmap {
	if s == nil {
		return bitmap.New()
	}
	if b, ok := s.Raw.(*bitmap.Bitmap); ok {
		return b
	}
	return bitmap.New()
}
