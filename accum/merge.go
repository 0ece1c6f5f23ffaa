package accum

import (
	"github.com/entityql/coreql/value"
	kinds "gopkg.in/src-d/go-errors.v1"
)

// ErrHashCollision is raised when two partitions' local text tables
// map the same 64-bit hash to different strings (spec.md §9 Open
// Questions: "on merge, detect hash collisions ... and fail the query
// with Internal/HashCollision").
var ErrHashCollision = kinds.NewKind("hash collision merging text tables: hash %d maps to both %q and %q")

// MergeTrees folds N partition accumulator trees into one, combining
// leaf slots with the modifier's combine rule and unifying local text
// tables with collision detection (spec.md §4.7). The fold is
// commutative and associative for every modifier except `value`/`var`
// (last-writer-wins is inherently order sensitive, by spec), so P5
// holds for the countable aggregates.
func MergeTrees(trees []*Tree) (*Tree, error) {
	if len(trees) == 0 {
		return NewTree(nil), nil
	}

	out := NewTree(trees[0].selects)
	for _, t := range trees {
		if err := out.mergeTextFrom(t.text); err != nil {
			return nil, err
		}
		if err := mergeNode(out.root, t.root); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tree) mergeTextFrom(other *TextTable) error {
	for hash, str := range other.All() {
		if existing, ok := t.text.byHash[hash]; ok && existing != str {
			return ErrHashCollision.New(hash, existing, str)
		}
		t.text.AddLocalText(hash, str)
	}
	return nil
}

func mergeNode(dst, src *node) error {
	if src.leaf != nil {
		if dst.leaf == nil {
			dst.leaf = newLeaf(nil)
			dst.leaf.Slots = make([]*Slot, len(src.leaf.Slots))
			for i, s := range src.leaf.Slots {
				dst.leaf.Slots[i] = newSlot(s.Modifier)
			}
		}
		for i, s := range src.leaf.Slots {
			dst.leaf.Slots[i].Merge(s)
		}
	}
	for k, child := range src.children {
		dstChild, ok := dst.children[k]
		if !ok {
			dstChild = &node{key: k, children: make(map[value.Value]*node)}
			dst.children[k] = dstChild
		}
		if err := mergeNode(dstChild, child); err != nil {
			return err
		}
	}
	return nil
}
