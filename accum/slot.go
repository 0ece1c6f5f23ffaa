// Package accum implements C6: the hierarchical group tree of
// fixed-width accumulator slots, per-group distinct-key sets, and
// local text interning (spec.md §4.6).
package accum

import (
	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/value"
)

// dedupKey identifies one logical tally for count/sum dedup: a single
// logical event that set-expanded into several physical rows must not
// be double-counted (spec.md §4.6, P6).
type dedupKey struct {
	distinctKey value.Value
	stamp       int64
	event       uint64
}

// Slot is one select-column's running aggregate within a leaf.
type Slot struct {
	Modifier bytecode.Modifier

	count int64
	sum   float64

	minSet bool
	min    float64
	maxSet bool
	max    float64

	avgSum   float64
	avgCount int64

	last value.Value
	varv value.Value

	distinct map[value.Value]struct{}

	seen map[dedupKey]struct{}
}

func newSlot(mod bytecode.Modifier) *Slot {
	return &Slot{Modifier: mod, last: value.NilVal(), varv: value.NilVal()}
}

// Update applies one tallied value to the slot per the modifier table
// in spec.md §4.6. entityKey identifies the entity for
// dist_count_person; distinctKey/stamp/event form the dedup tuple for
// count/sum.
func (s *Slot) Update(v value.Value, distinctKey value.Value, stamp int64, event uint64, entityKey value.Value) {
	dk := dedupKey{distinctKey: distinctKey, stamp: stamp, event: event}

	switch s.Modifier {
	case bytecode.ModCount:
		if s.markSeen(dk) {
			s.count++
		}
	case bytecode.ModSum:
		if s.markSeen(dk) {
			f, _ := v.AsFloat()
			s.sum += f
		}
	case bytecode.ModMin:
		f, ok := v.AsFloat()
		if ok && (!s.minSet || f < s.min) {
			s.min, s.minSet = f, true
		}
	case bytecode.ModMax:
		f, ok := v.AsFloat()
		if ok && (!s.maxSet || f > s.max) {
			s.max, s.maxSet = f, true
		}
	case bytecode.ModAvg:
		f, ok := v.AsFloat()
		if ok {
			s.avgSum += f
			s.avgCount++
		}
	case bytecode.ModValue:
		s.last = v
	case bytecode.ModVar:
		s.varv = v
	case bytecode.ModDistCountPerson:
		if s.distinct == nil {
			s.distinct = make(map[value.Value]struct{})
		}
		s.distinct[entityKey] = struct{}{}
	}
}

// SetVar is the explicit user write path for a `var` modifier slot.
func (s *Slot) SetVar(v value.Value) { s.varv = v }

func (s *Slot) markSeen(dk dedupKey) bool {
	if s.seen == nil {
		s.seen = make(map[dedupKey]struct{})
	}
	if _, ok := s.seen[dk]; ok {
		return false
	}
	s.seen[dk] = struct{}{}
	return true
}

// Finalize resolves a slot to its emitted value (avg divides sum by
// count here; every other modifier's running state already is its
// value).
func (s *Slot) Finalize() value.Value {
	switch s.Modifier {
	case bytecode.ModCount:
		return value.IntVal(s.count)
	case bytecode.ModSum:
		return value.DoubleVal(s.sum)
	case bytecode.ModMin:
		if !s.minSet {
			return value.NilVal()
		}
		return value.DoubleVal(s.min)
	case bytecode.ModMax:
		if !s.maxSet {
			return value.NilVal()
		}
		return value.DoubleVal(s.max)
	case bytecode.ModAvg:
		if s.avgCount == 0 {
			return value.NilVal()
		}
		return value.DoubleVal(s.avgSum / float64(s.avgCount))
	case bytecode.ModValue:
		return s.last
	case bytecode.ModVar:
		return s.varv
	case bytecode.ModDistCountPerson:
		return value.IntVal(int64(len(s.distinct)))
	default:
		return value.NilVal()
	}
}

// Merge combines another partition's slot into s using the per-slot
// combine rule (spec.md §4.7): avg merges as (sum+sum, count+count);
// dist_count_person merges via set union.
func (s *Slot) Merge(other *Slot) {
	switch s.Modifier {
	case bytecode.ModCount:
		s.count += other.count
	case bytecode.ModSum:
		s.sum += other.sum
	case bytecode.ModMin:
		if other.minSet && (!s.minSet || other.min < s.min) {
			s.min, s.minSet = other.min, true
		}
	case bytecode.ModMax:
		if other.maxSet && (!s.maxSet || other.max > s.max) {
			s.max, s.maxSet = other.max, true
		}
	case bytecode.ModAvg:
		s.avgSum += other.avgSum
		s.avgCount += other.avgCount
	case bytecode.ModValue:
		if !other.last.IsNil() {
			s.last = other.last
		}
	case bytecode.ModVar:
		if !other.varv.IsNil() {
			s.varv = other.varv
		}
	case bytecode.ModDistCountPerson:
		if s.distinct == nil {
			s.distinct = make(map[value.Value]struct{})
		}
		for k := range other.distinct {
			s.distinct[k] = struct{}{}
		}
	}
}
