package grid

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"sort"

	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
	kinds "gopkg.in/src-d/go-errors.v1"
)

// Failure modes named in spec.md §4.2.
var (
	ErrCorruptBlob    = kinds.NewKind("corrupt entity blob: %s")
	ErrSchemaMismatch = kinds.NewKind("blob references column %d not present in current schema")
)

// ZOrderTable breaks same-stamp row ties (spec.md §3 "z-order").
// Implementations return, for an event they do not know, a value above
// every known z-order so unknown events sort last; a nil table gives
// every row z-order 0.
type ZOrderTable interface {
	ZOrder(event string) int32
}

// RawEvent is the set-unexpanded, canonical JSON shape an event
// arrives in (spec.md §6 ingest shape, collaborator-owned transport).
type RawEvent struct {
	ID      string                 `json:"id"`
	Stamp   int64                  `json:"stamp"`
	Event   string                 `json:"event"`
	Columns map[string]interface{} `json:"_"`
}

// Grid is one entity's column-oriented view: rows sorted by (stamp,
// z_order, event), set-valued columns expanded into multiple physical
// rows (spec.md §3 "Entity grid").
type Grid struct {
	EntityID   string
	SessionGap int64

	catalog  *schema.Catalog
	zorder   ZOrderTable
	raw      []byte
	prepared bool
	rows     []Row
}

// New returns a grid ready to Mount a compressed blob or Insert fresh
// events directly.
func New(entityID string, catalog *schema.Catalog, zorder ZOrderTable) *Grid {
	return &Grid{
		EntityID:   entityID,
		SessionGap: DefaultSessionGapMS,
		catalog:    catalog,
		zorder:     zorder,
	}
}

// Mount attaches a compressed blob without decompressing it (spec.md
// §4.2 "mount(compressed_blob)").
func (g *Grid) Mount(blob []byte) {
	g.raw = blob
	g.prepared = false
	g.rows = nil
}

// Prepare decompresses and materializes the row sequence. Idempotent:
// calling it twice is a no-op once prepared.
func (g *Grid) Prepare() error {
	if g.prepared {
		return nil
	}
	if g.raw == nil {
		g.prepared = true
		return nil
	}

	events, err := decodeBlob(g.raw)
	if err != nil {
		return ErrCorruptBlob.New(err.Error())
	}

	for _, ev := range events {
		if err := g.insertCanonical(ev); err != nil {
			return err
		}
	}
	g.prepared = true
	return nil
}

func decodeBlob(blob []byte) ([]RawEvent, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	var events []RawEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// RowCount returns the number of physical rows.
func (g *Grid) RowCount() int { return len(g.rows) }

// Row returns the i'th physical row.
func (g *Grid) Row(i int) Row { return g.rows[i] }

// Value returns the value of colID in row i, or Nil.
func (g *Grid) Value(rowIdx int, colID int32) value.Value {
	return g.rows[rowIdx].Value(colID)
}

// Insert maintains the canonical set-expanded form and re-sorts,
// maintained by the collaborator ingest path (spec.md §4.2).
func (g *Grid) Insert(ev RawEvent) error {
	if err := g.Prepare(); err != nil {
		return err
	}
	return g.insertCanonical(ev)
}

func (g *Grid) insertCanonical(ev RawEvent) error {
	cells := map[int32]value.Value{}
	var setCol *schema.Column
	var setValues []interface{}

	for name, raw := range ev.Columns {
		col, err := g.catalog.GetByName(name)
		if err != nil {
			return err
		}
		if col.SetValued {
			if arr, ok := raw.([]interface{}); ok {
				setCol = col
				setValues = arr
				continue
			}
		}
		cells[int32(col.ID)] = coerce(col.Type, raw)
	}

	zorder := int32(0)
	if g.zorder != nil {
		zorder = g.zorder.ZOrder(ev.Event)
	}
	eventHash := value.Hash64(ev.Event)

	base := Row{
		Stamp:     ev.Stamp,
		EventHash: eventHash,
		EventName: ev.Event,
		ZOrder:    zorder,
		Cells:     cells,
	}

	if setCol == nil || len(setValues) == 0 {
		g.insertSorted(cloneRow(base, nil, 0, value.Value{}))
		return nil
	}

	for _, raw := range setValues {
		g.insertSorted(cloneRow(base, setCol, int32(setCol.ID), coerce(setCol.Type, raw)))
	}
	return nil
}

func cloneRow(base Row, setCol *schema.Column, colID int32, v value.Value) Row {
	cells := make(map[int32]value.Value, len(base.Cells)+1)
	for k, vv := range base.Cells {
		cells[k] = vv
	}
	if setCol != nil {
		cells[colID] = v
	}
	return Row{
		Stamp:     base.Stamp,
		EventHash: base.EventHash,
		EventName: base.EventName,
		ZOrder:    base.ZOrder,
		Cells:     cells,
	}
}

func coerce(t schema.Type, raw interface{}) value.Value {
	switch t {
	case schema.Int:
		switch n := raw.(type) {
		case int64:
			return value.IntVal(n)
		case float64:
			return value.IntVal(int64(n))
		}
	case schema.Double:
		if n, ok := raw.(float64); ok {
			return value.DoubleVal(n)
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

// insertSorted performs the binary-search insert spec.md §4.2
// describes, then reassigns sessions in one pass.
func (g *Grid) insertSorted(r Row) {
	idx := sort.Search(len(g.rows), func(i int) bool {
		return !lessRowKey(g.rows[i], r)
	})
	g.rows = append(g.rows, Row{})
	copy(g.rows[idx+1:], g.rows[idx:])
	g.rows[idx] = r

	assignSessions(g.rows, g.SessionGap)
}

// Resort re-establishes the sort invariant from scratch; used by
// tests validating P1 (sort stability) after arbitrary insert
// sequences.
func (g *Grid) Resort() {
	sort.SliceStable(g.rows, func(i, j int) bool { return lessRowKey(g.rows[i], g.rows[j]) })
	assignSessions(g.rows, g.SessionGap)
}
