package vm

import (
	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/value"
)

func (m *VM) arith(op bytecode.Op) error {
	b, a := m.pop(), m.pop()
	if a.IsNil() || b.IsNil() {
		m.push(value.NilVal())
		return nil
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok {
		return ErrBadOperand.New(a.Tag().String())
	}
	if !bok {
		return ErrBadOperand.New(b.Tag().String())
	}

	var r float64
	switch op {
	case bytecode.OpAdd:
		r = af + bf
	case bytecode.OpSub:
		r = af - bf
	case bytecode.OpMul:
		r = af * bf
	case bytecode.OpDiv:
		if bf == 0 {
			return ErrDivideByZero.New()
		}
		r = af / bf
	}

	if a.Tag() == value.IntTag && b.Tag() == value.IntTag && op != bytecode.OpDiv {
		m.push(value.IntVal(int64(r)))
		return nil
	}
	m.push(value.DoubleVal(r))
	return nil
}

func (m *VM) compare(op bytecode.Op) error {
	b, a := m.pop(), m.pop()
	c, ok := value.Compare(a, b)
	if !ok {
		return ErrNotComparable.New(a.Tag().String(), b.Tag().String())
	}
	var res bool
	switch op {
	case bytecode.OpLt:
		res = c < 0
	case bytecode.OpLte:
		res = c <= 0
	case bytecode.OpGt:
		res = c > 0
	case bytecode.OpGte:
		res = c >= 0
	}
	m.push(value.BoolVal(res))
	return nil
}

func collectionItems(v value.Value) []value.Value {
	switch v.Tag() {
	case value.ListTag:
		return v.List()
	case value.SetTag:
		items := make([]value.Value, 0, len(v.Set()))
		for k := range v.Set() {
			items = append(items, k)
		}
		return items
	case value.DictTag:
		items := make([]value.Value, 0, len(v.Dict()))
		for k := range v.Dict() {
			items = append(items, k)
		}
		return items
	default:
		return nil
	}
}

// inOp implements `a in b`: b is the collection, a the needle
// (spec.md §4.5 "set-valued columns ... in").
func (m *VM) inOp() error {
	b, a := m.pop(), m.pop()
	for _, item := range collectionItems(b) {
		if value.Equal(item, a) {
			m.push(value.BoolVal(true))
			return nil
		}
	}
	m.push(value.BoolVal(false))
	return nil
}

// containsOp implements `a.contains(b)`: a is the collection, b the
// needle — the reverse operand order of `in`.
func (m *VM) containsOp() error {
	b, a := m.pop(), m.pop()
	for _, item := range collectionItems(a) {
		if value.Equal(item, b) {
			m.push(value.BoolVal(true))
			return nil
		}
	}
	m.push(value.BoolVal(false))
	return nil
}

// anyOp implements `a.any(b)`: true if the two collections intersect
// (spec.md §4.5 "contains/any, left-hand set must ... intersect
// right-hand collection").
func (m *VM) anyOp() error {
	b, a := m.pop(), m.pop()
	bItems := collectionItems(b)
	for _, x := range collectionItems(a) {
		for _, y := range bItems {
			if value.Equal(x, y) {
				m.push(value.BoolVal(true))
				return nil
			}
		}
	}
	m.push(value.BoolVal(false))
	return nil
}

func (m *VM) index(base, idx value.Value) (value.Value, error) {
	switch base.Tag() {
	case value.ListTag:
		items := base.List()
		n, ok := idx.AsFloat()
		i := int(n)
		if !ok || i < 0 || i >= len(items) {
			return value.Value{}, ErrBadSubscript.New(idx.String(), base.Tag().String())
		}
		return items[i], nil
	case value.DictTag:
		v, ok := base.Dict()[idx]
		if !ok {
			return value.NilVal(), nil
		}
		return v, nil
	default:
		return value.Value{}, ErrBadSubscript.New(idx.String(), base.Tag().String())
	}
}

// assignIndex writes var[idx] = val, copy-on-write so aliases of the
// pre-assignment list/dict value are unaffected.
func (m *VM) assignIndex(varID int32, idx, val value.Value) error {
	base := m.userVars[varID]
	switch base.Tag() {
	case value.ListTag:
		old := base.List()
		items := make([]value.Value, len(old))
		copy(items, old)
		n, ok := idx.AsFloat()
		i := int(n)
		if !ok || i < 0 || i >= len(items) {
			return ErrBadSubscript.New(idx.String(), base.Tag().String())
		}
		items[i] = val
		m.userVars[varID] = value.ListVal(items)
	case value.DictTag, value.Nil:
		d := make(map[value.Value]value.Value)
		if base.Tag() == value.DictTag {
			for k, v := range base.Dict() {
				d[k] = v
			}
		}
		d[idx] = val
		m.userVars[varID] = value.DictVal(d)
	default:
		return ErrBadSubscript.New(idx.String(), base.Tag().String())
	}
	return nil
}

// doTally reads the current select-column values off the row in scope
// (not the stack) and pushes them into the accumulator tree under the
// key path popped from the stack (spec.md §4.6 "tally(g1, ..., gk)").
func (m *VM) doTally(argc int) {
	keyPath := m.popN(argc)
	if m.tree == nil {
		return
	}

	var stamp int64
	var event uint64
	if m.cursor >= 0 {
		row := m.grid.Row(m.cursor)
		stamp, event = row.Stamp, row.EventHash
	}

	values := make([]value.Value, len(m.prog.Selects))
	distinct := make([]value.Value, len(m.prog.Selects))
	for i, sc := range m.prog.Selects {
		values[i] = m.columnValue(sc.ColumnID)
		if sc.DistinctCol >= 0 {
			distinct[i] = m.columnValue(sc.DistinctCol)
		} else {
			distinct[i] = value.NilVal()
		}
	}
	m.tree.Tally(keyPath, values, distinct, stamp, event, m.entityKey)
}

// evalColumnFilter evaluates a `.ever`/`.row`/`.never` descriptor
// scoped to a single column (spec.md §4.5 "A column reference with
// .ever(cmp v) scans the whole grid; .row(cmp v) tests only the
// current cursor row").
func (m *VM) evalColumnFilter(f *bytecode.Filter) (bool, error) {
	test := func(rowIdx int) (bool, error) {
		if f.IsRange || f.IsWithin {
			ok, err := m.rowInWindow(f, rowIdx)
			if err != nil || !ok {
				return false, err
			}
		}
		rowVal := m.grid.Value(rowIdx, f.ColumnID)
		if f.Comparator == bytecode.CmpPresent && f.EvalBlock < 0 {
			return !rowVal.IsNil(), nil
		}
		cmpVal, err := m.evalBlockValue(f.EvalBlock)
		if err != nil {
			return false, err
		}
		return compareValues(f.Comparator, rowVal, cmpVal)
	}

	if f.IsRow {
		if m.cursor < 0 {
			return false, nil
		}
		ok, err := test(m.cursor)
		if err != nil {
			return false, err
		}
		return ok, nil
	}

	any := false
	for i := 0; i < m.grid.RowCount(); i++ {
		ok, err := test(i)
		if err != nil {
			return false, err
		}
		if ok {
			any = true
			break
		}
	}
	if f.IsNever {
		return !any, nil
	}
	return any, nil
}

func compareValues(cmp bytecode.Comparator, a, b value.Value) (bool, error) {
	switch cmp {
	case bytecode.CmpEq:
		return value.Equal(a, b), nil
	case bytecode.CmpNeq:
		return !value.Equal(a, b), nil
	case bytecode.CmpPresent:
		return !a.IsNil(), nil
	}
	c, ok := value.Compare(a, b)
	if !ok {
		return false, ErrNotComparable.New(a.Tag().String(), b.Tag().String())
	}
	switch cmp {
	case bytecode.CmpLt:
		return c < 0, nil
	case bytecode.CmpLte:
		return c <= 0, nil
	case bytecode.CmpGt:
		return c > 0, nil
	case bytecode.CmpGte:
		return c >= 0, nil
	}
	return false, nil
}
