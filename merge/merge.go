// Package merge implements C7: deterministic merge of N partition
// accumulator trees into one JSON-able result tree, with text
// unification and optional sort (spec.md §4.7).
package merge

import (
	"context"

	"github.com/entityql/coreql/accum"
	"github.com/entityql/coreql/internal/tracing"
	"github.com/entityql/coreql/value"
)

// GroupResult is one node of the merged, JSON-able output tree,
// matching spec.md §6's response shape: `{"g":..., "c":[...],
// "_":[...children...]}`.
type GroupResult struct {
	G        interface{}    `json:"g"`
	C        []interface{}  `json:"c"`
	Children []GroupResult  `json:"_,omitempty"`
}

// Options control the optional final sort (spec.md §4.7 step 3).
type Options struct {
	SortSlot      int // -1 = no sort
	SortAscending bool
}

// Merge folds partition accumulator trees into one deterministic
// result tree (spec.md P5: associative/commutative; P8: deterministic
// serialized output for a fixed input set and sort order).
func Merge(trees []*accum.Tree, opts Options) (*GroupResult, error) {
	span, _ := tracing.StartSpan(context.Background(), "result.merge")
	defer span.Finish()

	merged, err := accum.MergeTrees(trees)
	if err != nil {
		return nil, err
	}

	rows := merged.Snapshot()
	root := buildResult(rows, merged.Text())
	if opts.SortSlot >= 0 {
		sortChildren(root, opts.SortSlot, opts.SortAscending)
	}
	return &GroupResult{Children: root}, nil
}

func buildResult(rows []accum.Row, text *accum.TextTable) []GroupResult {
	out := make([]GroupResult, 0, len(rows))
	for _, r := range rows {
		gr := GroupResult{
			G:        resolve(r.Path[len(r.Path)-1], text),
			Children: buildResult(r.Children, text),
		}
		if r.Leaf != nil {
			gr.C = make([]interface{}, len(r.Leaf.Slots))
			for i, s := range r.Leaf.Slots {
				gr.C[i] = resolve(s.Finalize(), text)
			}
		}
		out = append(out, gr)
	}
	return out
}

// resolve renders a Value for JSON, looking up Text hashes in the
// unified text table.
func resolve(v value.Value, text *accum.TextTable) interface{} {
	switch v.Tag() {
	case value.Nil:
		return nil
	case value.IntTag:
		return v.Int()
	case value.DoubleTag:
		return v.Double()
	case value.BoolTag:
		return v.Bool()
	case value.TextTag:
		if s, ok := text.Lookup(v.TextHash()); ok {
			return s
		}
		return v.Text()
	default:
		return v.String()
	}
}
