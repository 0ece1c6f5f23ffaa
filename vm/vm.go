package vm

import (
	"github.com/entityql/coreql/accum"
	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/grid"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
	kinds "gopkg.in/src-d/go-errors.v1"
)

// signal is what running a block handed back to its caller: normal
// fall-through, or an in-flight break/continue that still needs to
// propagate up to the loop frame it targets (spec.md §4.5 "Control
// flow").
type signal uint8

const (
	sigNone signal = iota
	sigBreak
	sigContinue
)

// VM executes one compiled bytecode.Program against one entity's grid
// (spec.md §4.5). Each VM evaluates a single entity single-threaded;
// the caller runs many VMs concurrently across workers (spec.md §5).
type VM struct {
	prog *bytecode.Program
	cat  *schema.Catalog
	grid *grid.Grid

	tree      *accum.Tree
	entityKey value.Value

	stack    []value.Value
	userVars []value.Value

	cursor    int // -1 when not inside an each_row/filter scan
	loopDepth int

	Segments SegmentSource // optional, for segment-math marshals (C8)
}

// SegmentSource resolves a named segment bitmap for the segment-math
// marshals (`population`, `intersection`, `union`, `difference`,
// `complement`); nil when the VM is not running in segment context.
type SegmentSource interface {
	Segment(name string) *SegmentBits
}

// SegmentBits is the minimal shape the vm package needs from a C8
// segment bitmap; package segment implements the concrete type and
// satisfies this via an adapter.
type SegmentBits struct {
	Count     func() uint64
	Intersect func(other *SegmentBits) *SegmentBits
	Union     func(other *SegmentBits) *SegmentBits
	Subtract  func(other *SegmentBits) *SegmentBits
	Invert    func() *SegmentBits

	// Raw is the adapter's own bitmap representation, opaque to this
	// package; Intersect/Union/Subtract need the other operand's
	// underlying bitmap, not just its closures, so package segment
	// stashes it here rather than reconstructing it from Count.
	Raw interface{}
}

// New returns a VM ready to Run prog against g for the given entity.
// tree may be nil when the program is only evaluated for its terminal
// boolean (segment compute mode, spec.md §4.8).
func New(prog *bytecode.Program, cat *schema.Catalog, g *grid.Grid, tree *accum.Tree, entityID string) *VM {
	return &VM{
		prog:      prog,
		cat:       cat,
		grid:      g,
		tree:      tree,
		entityKey: value.TextVal(entityID),
		userVars:  make([]value.Value, prog.NumVars),
		cursor:    -1,
	}
}

// Run executes the program's top-level block to completion.
func (m *VM) Run() error {
	_, _, err := m.runBlock(0)
	return err
}

// Result returns the boolean left on top of the stack after Run, used
// by segment compute (spec.md §4.8 "the top-of-stack boolean becomes
// that entity's bit"). An empty stack or non-bool top is false.
func (m *VM) Result() bool {
	if len(m.stack) == 0 {
		return false
	}
	top := m.stack[len(m.stack)-1]
	return top.Tag() == value.BoolTag && top.Bool()
}

func (m *VM) push(v value.Value) { m.stack = append(m.stack, v) }

func (m *VM) pop() value.Value {
	n := len(m.stack)
	v := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return v
}

func (m *VM) popN(n int) []value.Value {
	out := make([]value.Value, n)
	copy(out, m.stack[len(m.stack)-n:])
	m.stack = m.stack[:len(m.stack)-n]
	return out
}

// runBlock executes one instruction block by index, returning the
// control-flow signal (and, for sigBreak, how many more loop frames
// it still needs to unwind past) that should propagate to the caller.
func (m *VM) runBlock(blockIdx int32) (signal, int, error) {
	instrs := m.prog.Blocks[blockIdx]
	for i := range instrs {
		sig, unwind, err := m.exec(&instrs[i])
		if err != nil {
			return sigNone, 0, err
		}
		if sig != sigNone {
			return sig, unwind, nil
		}
	}
	return sigNone, 0, nil
}

func (m *VM) exec(ins *bytecode.Instr) (signal, int, error) {
	switch ins.Op {
	case bytecode.OpPushLiteral:
		m.push(ins.Literal)
	case bytecode.OpPushColumn:
		m.push(m.columnValue(ins.ColumnID))
	case bytecode.OpPushUserVar:
		m.push(m.userVars[ins.VarID])
	case bytecode.OpPopUserVar:
		m.userVars[ins.VarID] = m.pop()
	case bytecode.OpPushUserRef:
		m.push(value.RefVal(&m.userVars[ins.VarID]))
	case bytecode.OpPushUserObj, bytecode.OpPushUserObjRef:
		base := m.userVars[ins.VarID]
		idx := m.pop()
		v, err := m.index(base, idx)
		if err != nil {
			return sigNone, 0, err
		}
		m.push(v)
	case bytecode.OpPopUserObj:
		val := m.pop()
		idx := m.pop()
		if err := m.assignIndex(ins.VarID, idx, val); err != nil {
			return sigNone, 0, err
		}
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
		if err := m.arith(ins.Op); err != nil {
			return sigNone, 0, err
		}
	case bytecode.OpEq, bytecode.OpNeq:
		b, a := m.pop(), m.pop()
		eq := value.Equal(a, b)
		if ins.Op == bytecode.OpNeq {
			eq = !eq
		}
		m.push(value.BoolVal(eq))
	case bytecode.OpLt, bytecode.OpLte, bytecode.OpGt, bytecode.OpGte:
		if err := m.compare(ins.Op); err != nil {
			return sigNone, 0, err
		}
	case bytecode.OpAnd:
		b, a := m.pop(), m.pop()
		m.push(value.BoolVal(truthy(a) && truthy(b)))
	case bytecode.OpOr:
		b, a := m.pop(), m.pop()
		m.push(value.BoolVal(truthy(a) || truthy(b)))
	case bytecode.OpNot:
		m.push(value.BoolVal(!truthy(m.pop())))
	case bytecode.OpIn:
		if err := m.inOp(); err != nil {
			return sigNone, 0, err
		}
	case bytecode.OpContains:
		if err := m.containsOp(); err != nil {
			return sigNone, 0, err
		}
	case bytecode.OpAny:
		if err := m.anyOp(); err != nil {
			return sigNone, 0, err
		}
	case bytecode.OpMarshal:
		if err := m.marshal(ins); err != nil {
			return sigNone, 0, err
		}
	case bytecode.OpMakeList:
		m.push(value.ListVal(m.popN(int(ins.Argc))))
	case bytecode.OpMakeDict:
		items := m.popN(int(ins.Argc) * 2)
		dict := make(map[value.Value]value.Value, ins.Argc)
		for i := 0; i < len(items); i += 2 {
			dict[items[i]] = items[i+1]
		}
		m.push(value.DictVal(dict))
	case bytecode.OpSubscript:
		idx := m.pop()
		base := m.pop()
		v, err := m.index(base, idx)
		if err != nil {
			return sigNone, 0, err
		}
		m.push(v)
	case bytecode.OpPop:
		m.pop()
	case bytecode.OpTally:
		m.doTally(int(ins.Argc))
	case bytecode.OpColumnFilter:
		v, err := m.evalColumnFilter(&m.prog.Filters[ins.Filter])
		if err != nil {
			return sigNone, 0, err
		}
		m.push(value.BoolVal(v))
	case bytecode.OpIfCall:
		return m.runIf(ins)
	case bytecode.OpForCall:
		return m.runFor(ins)
	case bytecode.OpEachCall:
		return m.runEachRow(ins)
	case bytecode.OpBreak:
		return sigBreak, m.breakCount(ins), nil
	case bytecode.OpContinue:
		return sigContinue, 0, nil
	case bytecode.OpRet:
		// no-op placeholder: scripts run to the end of block 0.
	default:
		return sigNone, 0, kinds.NewKind("unhandled opcode %d").New(int(ins.Op))
	}
	return sigNone, 0, nil
}

// breakCount resolves `break n` / `break all` / `break top` into
// the number of enclosing loop frames it unwinds, counting the
// innermost as 1 (spec.md §4.5 "break n unwinds n iteration frames").
func (m *VM) breakCount(ins *bytecode.Instr) int {
	switch ins.Unwind {
	case 0:
		return m.loopDepth // "all"
	case -1:
		d := m.loopDepth - 1 // "top": every loop but the outermost
		if d < 0 {
			d = 0
		}
		return d
	default:
		return int(ins.Unwind)
	}
}

func (m *VM) runIf(ins *bytecode.Instr) (signal, int, error) {
	cond := m.pop()
	if truthy(cond) {
		return m.runBlock(ins.Block)
	}
	if ins.ElseBlock >= 0 {
		return m.runBlock(ins.ElseBlock)
	}
	return sigNone, 0, nil
}

func (m *VM) runFor(ins *bytecode.Instr) (signal, int, error) {
	iterable := m.pop()
	m.loopDepth++
	defer func() { m.loopDepth-- }()

	var items []value.Value
	switch iterable.Tag() {
	case value.ListTag:
		items = iterable.List()
	case value.SetTag:
		for k := range iterable.Set() {
			items = append(items, k)
		}
	case value.DictTag:
		for k := range iterable.Dict() {
			items = append(items, k)
		}
	default:
		return sigNone, 0, nil
	}

	for _, item := range items {
		m.userVars[ins.VarID] = item
		sig, unwind, err := m.runBlock(ins.Block)
		if err != nil {
			return sigNone, 0, err
		}
		switch sig {
		case sigContinue:
			continue
		case sigBreak:
			if unwind > 1 {
				return sigBreak, unwind - 1, nil
			}
			return sigNone, 0, nil
		}
	}
	return sigNone, 0, nil
}

// runEachRow iterates the grid's rows per the compiled filter
// descriptor, executing the body block with cursor pinned to each
// matching row (spec.md §4.5 "Iteration semantics").
func (m *VM) runEachRow(ins *bytecode.Instr) (signal, int, error) {
	f := &m.prog.Filters[ins.Filter]
	m.loopDepth++
	defer func() { m.loopDepth-- }()

	savedCursor := m.cursor
	defer func() { m.cursor = savedCursor }()

	n := m.grid.RowCount()
	if n == 0 {
		return sigNone, 0, nil
	}

	start, end, step := 0, n, 1
	if f.IsReverse {
		start, end, step = n-1, -1, -1
	}
	if f.FromBlock >= 0 {
		idx, err := m.evalBlockValue(f.FromBlock)
		if err != nil {
			return sigNone, 0, err
		}
		if iv, ok := idx.AsFloat(); ok {
			start = int(iv)
		}
	}
	if f.IsContinue {
		start = savedCursor
	}
	if f.IsNext {
		start = savedCursor + step
	}

	matches := 0
	for i := start; i != end; i += step {
		if i < 0 || i >= n {
			break
		}
		if f.IsRange || f.IsWithin {
			if ok, err := m.rowInWindow(f, i); err != nil {
				return sigNone, 0, err
			} else if !ok {
				continue
			}
		}
		m.cursor = i

		if f.EvalBlock >= 0 {
			ok, err := m.evalLogic(f.EvalBlock)
			if err != nil {
				return sigNone, 0, err
			}
			if !ok {
				continue
			}
		}

		sig, unwind, err := m.runBlock(ins.Block)
		if err != nil {
			return sigNone, 0, err
		}
		matches++

		switch sig {
		case sigContinue:
			// fall through to limit check then next row
		case sigBreak:
			if unwind > 1 {
				return sigBreak, unwind - 1, nil
			}
			return sigNone, 0, nil
		}

		if f.IsLimit {
			limit, err := m.filterLimit(f)
			if err != nil {
				return sigNone, 0, err
			}
			if matches >= limit {
				break
			}
		}
	}
	return sigNone, 0, nil
}

func (m *VM) filterLimit(f *bytecode.Filter) (int, error) {
	if f.LimitBlock < 0 {
		return 1, nil
	}
	v, err := m.evalBlockValue(f.LimitBlock)
	if err != nil {
		return 0, err
	}
	n, _ := v.AsFloat()
	return int(n), nil
}

func (m *VM) rowInWindow(f *bytecode.Filter, rowIdx int) (bool, error) {
	row := m.grid.Row(rowIdx)
	if f.IsRange {
		lo, hi := int64(0), int64(0)
		if f.RangeStartBlock >= 0 {
			v, err := m.evalBlockValue(f.RangeStartBlock)
			if err != nil {
				return false, err
			}
			lo = int64(v.Int())
			if v.Tag() != value.IntTag {
				f, _ := v.AsFloat()
				lo = int64(f)
			}
		}
		if f.RangeEndBlock >= 0 {
			v, err := m.evalBlockValue(f.RangeEndBlock)
			if err != nil {
				return false, err
			}
			hi = int64(v.Int())
			if v.Tag() != value.IntTag {
				fl, _ := v.AsFloat()
				hi = int64(fl)
			}
		}
		if row.Stamp < lo || row.Stamp > hi {
			return false, nil
		}
	}
	if f.IsWithin {
		origin, window := int64(0), int64(0)
		if f.WithinOriginBlock >= 0 {
			v, err := m.evalBlockValue(f.WithinOriginBlock)
			if err != nil {
				return false, err
			}
			fl, _ := v.AsFloat()
			origin = int64(fl)
		}
		if f.WithinWindowBlock >= 0 {
			v, err := m.evalBlockValue(f.WithinWindowBlock)
			if err != nil {
				return false, err
			}
			fl, _ := v.AsFloat()
			window = int64(fl)
		}
		delta := row.Stamp - origin
		if f.IsLookBack && (delta > 0 || -delta > window) {
			return false, nil
		}
		if f.IsLookAhead && (delta < 0 || delta > window) {
			return false, nil
		}
		if !f.IsLookBack && !f.IsLookAhead {
			if delta < -window || delta > window {
				return false, nil
			}
		}
	}
	return true, nil
}

// evalLogic runs a filter's eval_block and reports whether the value
// it leaves on the stack is truthy; the filter's comparator is not
// applied here. each_row uses it for its per-row `where` test.
func (m *VM) evalLogic(blockIdx int32) (bool, error) {
	v, err := m.evalBlockValue(blockIdx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// evalBlockValue runs a single-expression block and returns the value
// it leaves on the stack, restoring stack depth afterward.
func (m *VM) evalBlockValue(blockIdx int32) (value.Value, error) {
	base := len(m.stack)
	sig, _, err := m.runBlock(blockIdx)
	if err != nil {
		return value.Value{}, err
	}
	if sig != sigNone {
		return value.Value{}, nil
	}
	if len(m.stack) <= base {
		return value.NilVal(), nil
	}
	return m.pop(), nil
}

func (m *VM) columnValue(colID int32) value.Value {
	if m.cursor < 0 {
		return m.scanColumnEver(colID)
	}
	return m.grid.Value(m.cursor, colID)
}

// scanColumnEver returns the last non-nil value seen for colID across
// the whole grid, used when a bare column is referenced outside any
// each_row scope (no cursor pinned yet).
func (m *VM) scanColumnEver(colID int32) value.Value {
	for i := m.grid.RowCount() - 1; i >= 0; i-- {
		if v := m.grid.Value(i, colID); !v.IsNil() {
			return v
		}
	}
	return value.NilVal()
}

func truthy(v value.Value) bool {
	switch v.Tag() {
	case value.BoolTag:
		return v.Bool()
	case value.Nil:
		return false
	default:
		f, ok := v.AsFloat()
		return ok && f != 0
	}
}
