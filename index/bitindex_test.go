package index

import (
	"testing"

	"github.com/entityql/coreql/value"
	"github.com/stretchr/testify/require"
)

func TestBitIndexBuildEq(t *testing.T) {
	bi := NewBitIndex()
	bi.Add(1, value.TextVal("red"), 0)
	bi.Add(1, value.TextVal("blue"), 1)
	bi.Add(1, value.TextVal("red"), 2)

	bits := bi.Build(1, OpEq, value.TextVal("red"))
	require.Equal(t, uint64(2), bits.Count())
	require.True(t, bits.Contains(0))
	require.True(t, bits.Contains(2))
	require.False(t, bits.Contains(1))
}

func TestBitIndexBuildNumericComparators(t *testing.T) {
	bi := NewBitIndex()
	bi.Add(1, value.DoubleVal(5), 0)
	bi.Add(1, value.DoubleVal(10), 1)
	bi.Add(1, value.DoubleVal(15), 2)

	gte := bi.Build(1, OpGte, value.DoubleVal(10))
	require.Equal(t, uint64(2), gte.Count())
	require.True(t, gte.Contains(1))
	require.True(t, gte.Contains(2))
}

// Evaluate combines per-term bitmaps with AND/OR/NOT — spec.md §4.3.
func TestBitIndexEvaluateLogic(t *testing.T) {
	bi := NewBitIndex()
	bi.Add(1, value.TextVal("red"), 0)
	bi.Add(1, value.TextVal("blue"), 1)
	bi.Add(2, value.DoubleVal(100), 0)
	bi.Add(2, value.DoubleVal(1), 1)

	expr := And{
		Left:  Term{Column: 1, Op: OpEq, Value: value.TextVal("red")},
		Right: Term{Column: 2, Op: OpGte, Value: value.DoubleVal(50)},
	}
	result := bi.Evaluate(expr)
	require.Equal(t, uint64(1), result.Count())
	require.True(t, result.Contains(0))
}

// Void (an index-inexpressible filter) evaluates to the full universe
// — the safe superset spec.md §4.3 requires.
func TestBitIndexEvaluateVoidIsUniverse(t *testing.T) {
	bi := NewBitIndex()
	bi.Add(1, value.TextVal("red"), 0)
	bi.Add(1, value.TextVal("blue"), 3)

	all := bi.Evaluate(Void{})
	require.Equal(t, bi.UniverseSize(), uint32(4))
	require.Equal(t, uint64(4), all.Count())
}

func TestBitIndexNot(t *testing.T) {
	bi := NewBitIndex()
	bi.Add(1, value.TextVal("red"), 0)
	bi.Add(1, value.TextVal("blue"), 1)

	notRed := bi.Evaluate(Not{X: Term{Column: 1, Op: OpEq, Value: value.TextVal("red")}})
	require.True(t, notRed.Contains(1))
	require.False(t, notRed.Contains(0))
}
