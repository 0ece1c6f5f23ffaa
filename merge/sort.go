package merge

import "sort"

// sortChildren orders each level of the result tree by slot index
// slotIdx, ties broken by the group key, ascending or descending
// (spec.md §4.7 step 3). Applied recursively so every level is
// consistently ordered, keeping output byte-identical across runs
// (P8).
func sortChildren(rows []GroupResult, slotIdx int, ascending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessSlot(rows[i], rows[j], slotIdx)
		if ascending {
			return less
		}
		return !less && !equalSlot(rows[i], rows[j], slotIdx)
	})
	for i := range rows {
		sortChildren(rows[i].Children, slotIdx, ascending)
	}
}

func lessSlot(a, b GroupResult, slotIdx int) bool {
	av, aok := slotAt(a, slotIdx)
	bv, bok := slotAt(b, slotIdx)
	if aok && bok {
		if c, ok := compareAny(av, bv); ok {
			if c != 0 {
				return c < 0
			}
		}
	}
	return compareGroupKey(a.G, b.G) < 0
}

func equalSlot(a, b GroupResult, slotIdx int) bool {
	av, aok := slotAt(a, slotIdx)
	bv, bok := slotAt(b, slotIdx)
	if aok && bok {
		if c, ok := compareAny(av, bv); ok {
			return c == 0
		}
	}
	return compareGroupKey(a.G, b.G) == 0
}

func slotAt(r GroupResult, idx int) (interface{}, bool) {
	if idx < 0 || idx >= len(r.C) {
		return nil, false
	}
	return r.C[idx], true
}

func compareAny(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func compareGroupKey(a, b interface{}) int {
	c, ok := compareAny(a, b)
	if !ok {
		return 0
	}
	return c
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
