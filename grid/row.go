package grid

import "github.com/entityql/coreql/value"

// Row is one physical row of an entity's grid: a row key plus a
// mapping from column id to value (spec.md §3 "Row key", "Entity
// grid"). Set-valued columns are represented by several physical Rows
// sharing Stamp/EventHash/every other column and differing only in
// the set column's single value (spec.md's "logically one event,
// physically N rows" invariant).
type Row struct {
	Stamp     int64
	EventHash uint64
	EventName string
	ZOrder    int32
	Session   int64
	Cells     map[int32]value.Value
}

// Value returns the value stored for colID, or Nil if the column is
// absent from this row.
func (r Row) Value(colID int32) value.Value {
	if v, ok := r.Cells[colID]; ok {
		return v
	}
	return value.NilVal()
}

// lessRowKey implements the grid's sort order: (stamp asc, z_order
// asc, event asc) (spec.md §3 "Row key").
func lessRowKey(a, b Row) bool {
	if a.Stamp != b.Stamp {
		return a.Stamp < b.Stamp
	}
	if a.ZOrder != b.ZOrder {
		return a.ZOrder < b.ZOrder
	}
	return a.EventHash < b.EventHash
}
