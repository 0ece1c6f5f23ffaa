package accum

// TextTable is a partition-local hash->string side table; text values
// are hashes in rows/keys, unified only at merge (spec.md §4.6/§4.7).
type TextTable struct {
	byHash map[uint64]string
}

// NewTextTable returns an empty table.
func NewTextTable() *TextTable {
	return &TextTable{byHash: make(map[uint64]string)}
}

// AddLocalText records hash -> str (spec.md §4.6
// "add_local_text(hash, str)").
func (t *TextTable) AddLocalText(hash uint64, str string) {
	t.byHash[hash] = str
}

// Lookup resolves hash to its string, if known locally.
func (t *TextTable) Lookup(hash uint64) (string, bool) {
	s, ok := t.byHash[hash]
	return s, ok
}

// All returns the full local hash->string map (for merge unification).
func (t *TextTable) All() map[uint64]string { return t.byHash }
