package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pilosa/pilosa"

	"github.com/entityql/coreql/internal/bitmap"
)

// PersistentDriver is the on-disk-capable bit-index driver: it
// persists one pilosa frame per (table, column) so a bit index can
// survive process restarts and be rebuilt incrementally, mirroring
// the teacher's sql/index/pilosalib.Driver (Create/Get/LoadAll; see
// driver_test.go's TestLoadAll/TestSaveAndLoad). It is written only
// when a partition opens one via Partition.OpenPersistentIndex (Ingest
// mirrors each BitIndex.Add onto it); queries and segments always
// evaluate against the in-memory BitIndex.
type PersistentDriver struct {
	mu     sync.Mutex
	holder *pilosa.Holder
	frames map[string]*pilosa.Frame
}

// NewPersistentDriver opens (creating if absent) a pilosa holder
// rooted at dataDir, the directory the host's --data flag names
// (spec.md §6 CLI).
func NewPersistentDriver(dataDir string) (*PersistentDriver, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	h := pilosa.NewHolder()
	h.Path = dataDir
	if err := h.Open(); err != nil {
		return nil, err
	}
	return &PersistentDriver{holder: h, frames: make(map[string]*pilosa.Frame)}, nil
}

func frameKey(table, column string) string { return table + "." + column }

// frame returns (creating if absent) the pilosa frame backing one
// column's inverted index for one table.
func (d *PersistentDriver) frame(table, column string) (*pilosa.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := frameKey(table, column)
	if f, ok := d.frames[key]; ok {
		return f, nil
	}

	idx, err := d.holder.CreateIndexIfNotExists(table, pilosa.IndexOptions{})
	if err != nil {
		return nil, fmt.Errorf("pilosa index %s: %w", table, err)
	}
	frame, err := idx.CreateFrameIfNotExists(column, pilosa.FrameOptions{})
	if err != nil {
		return nil, fmt.Errorf("pilosa frame %s.%s: %w", table, column, err)
	}
	d.frames[key] = frame
	return frame, nil
}

// SetBit persists that entity linearID holds valueRowID in
// table.column (a dense id assigned by the caller to each distinct
// column value, the same row-id-per-distinct-value scheme the
// teacher's pilosalib.Driver uses internally).
func (d *PersistentDriver) SetBit(table, column string, valueRowID uint64, linearID uint32) error {
	frame, err := d.frame(table, column)
	if err != nil {
		return err
	}
	_, err = frame.SetBit(valueRowID, uint64(linearID), nil)
	return err
}

// Row returns the persisted bitmap for one distinct value's row id, as
// our own in-memory Bitmap so the rest of C3/C8 never imports pilosa
// types directly.
func (d *PersistentDriver) Row(table, column string, valueRowID uint64) (*bitmap.Bitmap, error) {
	frame, err := d.frame(table, column)
	if err != nil {
		return nil, err
	}
	row := frame.Row(valueRowID)
	out := bitmap.New()
	if row != nil {
		for _, id := range row.Bits() {
			out.Set(uint32(id))
		}
	}
	return out, nil
}

// Close flushes and releases the underlying pilosa holder.
func (d *PersistentDriver) Close() error {
	return d.holder.Close()
}

// DataPath returns the root directory a PersistentDriver was opened
// against, for diagnostics/tests.
func (d *PersistentDriver) DataPath() string {
	return filepath.Clean(d.holder.Path)
}
