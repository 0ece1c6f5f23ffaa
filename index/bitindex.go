package index

import (
	"github.com/entityql/coreql/internal/bitmap"
	"github.com/entityql/coreql/value"
)

type valueBitmap struct {
	value value.Value
	bits  *bitmap.Bitmap
}

// BitIndex is the per-column inverted index for one partition: for
// each column, the set of distinct values seen and the bitmap of
// entities holding each one (spec.md §4.3 "Bit index").
type BitIndex struct {
	universe uint32 // highest linear id + 1 ever added
	byColumn map[int32][]valueBitmap
	present  map[int32]*bitmap.Bitmap
}

// NewBitIndex returns an empty per-partition bit index.
func NewBitIndex() *BitIndex {
	return &BitIndex{
		byColumn: make(map[int32][]valueBitmap),
		present:  make(map[int32]*bitmap.Bitmap),
	}
}

// Add records that entity linearID has value v in column colID, and
// returns the dense row id assigned to v within colID — the same
// row-id-per-distinct-value scheme a PersistentDriver uses to mirror
// this column's bits to disk. Called by the partition's ingest path as
// grids are built/updated.
func (bi *BitIndex) Add(colID int32, v value.Value, linearID uint32) uint64 {
	if linearID+1 > bi.universe {
		bi.universe = linearID + 1
	}
	pres, ok := bi.present[colID]
	if !ok {
		pres = bitmap.New()
		bi.present[colID] = pres
	}
	pres.Set(linearID)

	entries := bi.byColumn[colID]
	for i := range entries {
		if value.Equal(entries[i].value, v) {
			entries[i].bits.Set(linearID)
			return uint64(i)
		}
	}
	b := bitmap.New()
	b.Set(linearID)
	bi.byColumn[colID] = append(entries, valueBitmap{value: v, bits: b})
	return uint64(len(entries))
}

// Population returns the cardinality of a bitmap (spec.md §4.3
// "population(bitmap)").
func Population(b *bitmap.Bitmap) uint64 { return b.Count() }

// Build reads the per-column inverted index and returns the bitmap for
// `column OP value` (spec.md §4.3 "build(column_id, value, op)").
func (bi *BitIndex) Build(column int32, op TermOp, v value.Value) *bitmap.Bitmap {
	if op == OpPresent {
		if b, ok := bi.present[column]; ok {
			return b.Clone()
		}
		return bitmap.New()
	}

	entries := bi.byColumn[column]
	out := bitmap.New()
	switch op {
	case OpEq:
		for _, e := range entries {
			if value.Equal(e.value, v) {
				out = bitmap.Or(out, e.bits)
			}
		}
	case OpNeq:
		for _, e := range entries {
			if !value.Equal(e.value, v) {
				out = bitmap.Or(out, e.bits)
			}
		}
	case OpGt, OpGte, OpLt, OpLte:
		target, ok := v.AsFloat()
		for _, e := range entries {
			ev, eok := e.value.AsFloat()
			if !ok || !eok {
				continue
			}
			match := false
			switch op {
			case OpGt:
				match = ev > target
			case OpGte:
				match = ev >= target
			case OpLt:
				match = ev < target
			case OpLte:
				match = ev <= target
			}
			if match {
				out = bitmap.Or(out, e.bits)
			}
		}
	}
	return out
}

// Evaluate walks the reduced index expression and produces a bitmap
// using AND/OR/NOT over per-term bitmaps (spec.md §4.3
// "evaluate(expr)"). A Void anywhere returns the full universe (the
// safe superset: "never excludes a true hit").
func (bi *BitIndex) Evaluate(n Node) *bitmap.Bitmap {
	switch t := n.(type) {
	case Void:
		return bi.Universe()
	case Term:
		return bi.Build(t.Column, t.Op, t.Value)
	case And:
		return bitmap.And(bi.Evaluate(t.Left), bi.Evaluate(t.Right))
	case Or:
		return bitmap.Or(bi.Evaluate(t.Left), bi.Evaluate(t.Right))
	case Not:
		return bitmap.AndNot(bi.Universe(), bi.Evaluate(t.X))
	default:
		return bi.Universe()
	}
}

// UniverseSize returns the highest linear id ever added, plus one —
// the bound segment-math complement (spec.md §4.8 `complement`) needs
// to know how many entities the "everyone else" side covers.
func (bi *BitIndex) UniverseSize() uint32 { return bi.universe }

// Universe returns a bitmap with every linear id ever added set — the
// superset answer for an expression the index cannot evaluate exactly.
func (bi *BitIndex) Universe() *bitmap.Bitmap {
	all := bitmap.New()
	for id := uint32(0); id < bi.universe; id++ {
		all.Set(id)
	}
	return all
}
