package vm

import (
	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/grid"
	"github.com/entityql/coreql/value"
)

// ReferenceEverRowNever evaluates `.ever`/`.row`/`.never` directly
// against a grid, bypassing the compiler and bytecode entirely. It
// exists only for _test.go files to assert the VM's OpColumnFilter
// path against a hand-computed expectation, matching the openset
// predecessor's test_osl_language.h habit of asserting query results
// against independently-computed values (SPEC_FULL.md supplement) —
// it is not part of the production evaluation path and nothing in
// vm.go calls it.
func ReferenceEverRowNever(g *grid.Grid, colID int32, cmp bytecode.Comparator, target value.Value, cursor int, mode string) bool {
	test := func(rowIdx int) bool {
		v := g.Value(rowIdx, colID)
		ok, _ := compareValues(cmp, v, target)
		return ok
	}

	switch mode {
	case "row":
		if cursor < 0 {
			return false
		}
		return test(cursor)
	case "never":
		for i := 0; i < g.RowCount(); i++ {
			if test(i) {
				return false
			}
		}
		return true
	default: // "ever"
		for i := 0; i < g.RowCount(); i++ {
			if test(i) {
				return true
			}
		}
		return false
	}
}
