package grid

import "github.com/entityql/coreql/schema"

// Mapping is the pre-computed projection returned by MapTable: the
// set of column ids a compiled program actually touches, so
// evaluation only resolves relevant columns per spec.md §4.2.
type Mapping struct {
	Catalog *schema.Catalog
	Columns []int32
	isOfInterest map[int32]bool
}

// MapTable builds a Mapping restricted to columnsOfInterest (empty
// means "all live columns").
func MapTable(cat *schema.Catalog, columnsOfInterest []int32) *Mapping {
	m := &Mapping{Catalog: cat}
	if len(columnsOfInterest) == 0 {
		for _, col := range cat.Columns() {
			m.Columns = append(m.Columns, int32(col.ID))
		}
	} else {
		m.Columns = columnsOfInterest
	}
	m.isOfInterest = make(map[int32]bool, len(m.Columns))
	for _, id := range m.Columns {
		m.isOfInterest[id] = true
	}
	return m
}

// Interesting reports whether colID is part of the projection.
func (m *Mapping) Interesting(colID int32) bool {
	return m.isOfInterest[colID]
}
