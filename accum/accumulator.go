package accum

import (
	"sort"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/value"
)

// Leaf is the row of accumulator slots at one group-path's leaf,
// one slot per declared `select` column.
type Leaf struct {
	Slots []*Slot
}

func newLeaf(selects []bytecode.SelectColumn) *Leaf {
	slots := make([]*Slot, len(selects))
	for i, sc := range selects {
		slots[i] = newSlot(sc.Modifier)
	}
	return &Leaf{Slots: slots}
}

// node is one level of the hierarchical group tree.
type node struct {
	key      value.Value
	children map[value.Value]*node
	leaf     *Leaf
}

// Tree is the hierarchical group tree a single entity's `<<` tallies
// (and the final merge across entities/partitions) accumulate into
// (spec.md §4.6).
type Tree struct {
	selects []bytecode.SelectColumn
	root    *node
	text    *TextTable
}

// NewTree returns an empty accumulator tree for the given select
// declarations.
func NewTree(selects []bytecode.SelectColumn) *Tree {
	return &Tree{
		selects: selects,
		root:    &node{children: make(map[value.Value]*node)},
		text:    NewTextTable(),
	}
}

// Text returns the tree's local text table (spec.md "partition-local
// hash->string side table").
func (t *Tree) Text() *TextTable { return t.text }

// GetOrMakeLeaf walks keyPath, creating nodes as needed, and returns
// the leaf row at the end of the path (spec.md §4.6
// "get_or_make_leaf(key_path) -> row*").
func (t *Tree) GetOrMakeLeaf(keyPath []value.Value) *Leaf {
	n := t.root
	for _, k := range keyPath {
		child, ok := n.children[k]
		if !ok {
			child = &node{key: k, children: make(map[value.Value]*node)}
			n.children[k] = child
		}
		n = child
	}
	if n.leaf == nil {
		n.leaf = newLeaf(t.selects)
	}
	return n.leaf
}

// Tally pushes one row into the accumulator under group key path
// keyPath, updating every declared select slot (spec.md §4.6
// "tally(g1, g2, ..., gk)"). values and distinctKeys are aligned with
// the Program's Selects slice; the VM computed them for this row.
// Text keys in keyPath are recorded in the tree's text table.
func (t *Tree) Tally(keyPath []value.Value, values, distinctKeys []value.Value, stamp int64, event uint64, entityKey value.Value) {
	for _, k := range keyPath {
		if k.Tag() == value.TextTag {
			t.text.AddLocalText(k.TextHash(), k.Text())
		}
	}
	leaf := t.GetOrMakeLeaf(keyPath)
	for i, slot := range leaf.Slots {
		dk := distinctKeys[i]
		if dk.IsNil() {
			dk = values[i]
		}
		slot.Update(values[i], dk, stamp, event, entityKey)
	}
}

// Row is one emitted (group path, leaf) pair in deterministic order,
// the unit merge/serialization operate on.
type Row struct {
	Path     []value.Value
	Leaf     *Leaf
	Children []Row
}

// Snapshot returns the tree in deterministic, depth-first, key-sorted
// order (spec.md §4.6 "snapshot() -> SortedList").
func (t *Tree) Snapshot() []Row {
	return snapshotChildren(t.root, nil)
}

func snapshotChildren(n *node, path []value.Value) []Row {
	keys := make([]value.Value, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessValue(keys[i], keys[j]) })

	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		child := n.children[k]
		childPath := append(append([]value.Value{}, path...), k)
		row := Row{Path: childPath, Leaf: child.leaf}
		row.Children = snapshotChildren(child, childPath)
		out = append(out, row)
	}
	return out
}

// lessValue orders group keys deterministically: numeric keys by
// value, text keys by hash (spec.md §4.7 "no floating-point ordering
// ambiguity in keys; numeric keys are integers or hashed strings").
func lessValue(a, b value.Value) bool {
	if a.Tag() == value.TextTag && b.Tag() == value.TextTag {
		return a.TextHash() < b.TextHash()
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if aok && bok {
		return af < bf
	}
	return a.Tag() < b.Tag()
}
