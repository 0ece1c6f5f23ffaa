// Package bytecode defines the final opcode set C4 (QL compiler) emits
// and C5 (the VM) executes, plus the filter-descriptor side table the
// VM consults for each_row/column dot-chains (spec.md §4.4.2 step 5,
// §4.5).
package bytecode

import "github.com/entityql/coreql/value"

// Op is one final-form instruction opcode.
type Op uint8

const (
	OpPushLiteral Op = iota
	OpPushColumn
	OpPushUserVar
	OpPushUserRef
	OpPushUserObj
	OpPushUserObjRef
	OpPopUserVar
	OpPopUserObj

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpNot
	OpIn
	OpContains
	OpAny

	OpMarshal
	OpColumnFilter
	OpIfCall
	OpForCall
	OpEachCall
	OpTally
	OpMakeList
	OpMakeDict
	OpSubscript
	OpRet
	OpBreak
	OpContinue
	OpPop
)

// Instr is one decoded bytecode instruction. Not every field applies
// to every Op; unused fields are zero.
type Instr struct {
	Op       Op
	Literal  value.Value
	ColumnID int32  // OpPushColumn / OpColumnFilter operand column
	VarID    int32  // user variable slot
	Depth    int32  // OpPushUserObj(depth) / OpPopUserObj(depth)
	Marshal  string // builtin function name for OpMarshal
	Argc     int32
	Block    int32 // index into Program.Blocks for OpIfCall/OpForCall/OpEachCall
	ElseBlock int32 // OpIfCall's else-branch block index, -1 when absent
	Filter   int32 // index into Program.Filters for OpColumnFilter/OpEachCall
	Unwind   int32 // OpBreak unwind depth (0 meaning "all")
	Debug    Loc
}

// Loc is a source location attached to each op for runtime error
// reporting (spec.md §4.5 "Failure semantics").
type Loc struct {
	Line, Column int
}

// Comparator identifies the operator a filter descriptor tests with.
type Comparator uint8

const (
	CmpEq Comparator = iota
	CmpNeq
	CmpLt
	CmpLte
	CmpGt
	CmpGte
	CmpPresent
)

// Filter is the descriptor compiled for a chained-filter expression
// (spec.md §4.4.1/§4.5): `.ever`, `.never`, `.row`, `.within`,
// `.range`, `.limit`, `.reverse`, `.next`, `.from`, `.look_ahead`,
// `.look_back`, `.continue`.
type Filter struct {
	IsEver, IsRow, IsNever       bool
	IsLimit, IsReverse, IsNext   bool
	IsRange, IsWithin            bool
	IsLookAhead, IsLookBack      bool
	IsContinue                   bool

	Comparator Comparator
	// Sub-program indices into Program.Blocks; -1 when absent.
	EvalBlock        int32
	LimitBlock       int32
	RangeStartBlock  int32
	RangeEndBlock    int32
	WithinOriginBlock int32
	WithinWindowBlock int32
	ContinueBlock    int32
	FromBlock        int32 // `.from(i)` initial cursor index, -1 when absent
	ColumnID         int32 // column this filter scans, -1 when not column-scoped
}

// Program is the compiled, immutable output of C4: the bytecode plus
// every side table the VM needs. Shared read-only across partitions
// (spec.md §3 lifecycles).
//
// Blocks holds one instruction slice per nested code block (spec.md
// §4.4.2 step 2: "each nested block becomes a numbered code block");
// Blocks[0] is the top-level statement sequence. OpIfCall/OpForCall/
// OpEachCall's Instr.Block field indexes into Blocks, and the VM
// recurses into runBlock rather than jumping within one flat
// instruction array — the direct Go equivalent of resolving block ids
// to instruction offsets.
type Program struct {
	Blocks  [][]Instr
	Filters []Filter
	Selects []SelectColumn
	NumVars int32
	Source  string
}

// Instrs is the top-level (block 0) instruction sequence.
func (p *Program) Instrs() []Instr { return p.Blocks[0] }

// SelectColumn is one declared `select` output slot (spec.md §4.5
// "Aggregation").
type SelectColumn struct {
	Modifier    Modifier
	ColumnID    int32
	ColumnName  string
	Alias       string
	DistinctCol int32 // -1 when no `key` clause; defaults to ColumnID
}

// Modifier is a `select` slot's aggregation kind.
type Modifier uint8

const (
	ModCount Modifier = iota
	ModSum
	ModMin
	ModMax
	ModAvg
	ModValue
	ModVar
	ModDistCountPerson
)

func (m Modifier) String() string {
	switch m {
	case ModCount:
		return "count"
	case ModSum:
		return "sum"
	case ModMin:
		return "min"
	case ModMax:
		return "max"
	case ModAvg:
		return "avg"
	case ModValue:
		return "value"
	case ModVar:
		return "var"
	case ModDistCountPerson:
		return "dist_count_person"
	default:
		return "unknown"
	}
}
