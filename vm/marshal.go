package vm

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/value"
	"github.com/sirupsen/logrus"
)

// Logger is the package-local structured logger the `log`/`debug`
// marshals write through; the host may repoint it the way root
// Logger is repointed (log.go).
var Logger = logrus.StandardLogger()

// marshal dispatches a builtin function call (spec.md §4.5 "marshal
// functions"): every CallExpr compiles to a single OpMarshal carrying
// the function name and argument count, so the whole builtin surface
// lives in this one table rather than one opcode per function.
func (m *VM) marshal(ins *bytecode.Instr) error {
	argc := int(ins.Argc)
	args := m.popN(argc)
	name := ins.Marshal

	fn, ok := marshalTable[name]
	if !ok {
		return ErrUnknownMarshal.New(name)
	}
	ret, err := fn(m, args)
	if err != nil {
		return err
	}
	m.push(ret)
	return nil
}

type marshalFunc func(m *VM, args []value.Value) (value.Value, error)

func arity(name string, args []value.Value, n int) error {
	if len(args) != n {
		return ErrArity.New(name, n, len(args))
	}
	return nil
}

var marshalTable map[string]marshalFunc

func init() {
	marshalTable = map[string]marshalFunc{
		"log":   mLog,
		"debug": mDebug,

		"len":        mLen,
		"round":      mRound,
		"bucket":     mBucket,
		"fix":        mFix,
		"url_decode": mURLDecode,

		"str":   mStr,
		"int":   mInt,
		"float": mFloat,
		"bool":  mBool,

		"event_count":   mEventCount,
		"session_count": mSessionCount,

		"make_list": mMakeList,
		"make_dict": mMakeDict,

		"append": mAppend,
		"pop":    mPop,
		"clear":  mClear,
		"keys":   mKeys,
		"add":    mAdd,
		"remove": mRemove,
		"update": mUpdate,
		"find":   mFind,
		"rfind":  mRfind,
		"split":  mSplit,
		"strip":  mStrip,

		"iter_get":        mIterGet,
		"iter_set":        mIterSet,
		"iter_move_first":  mIterMoveFirst,
		"iter_move_last":   mIterMoveLast,

		"population":   mPopulation,
		"intersection": mIntersection,
		"union":        mUnion,
		"difference":   mDifference,
		"complement":   mComplement,
	}
}

func mLog(m *VM, args []value.Value) (value.Value, error) {
	fields := logrus.Fields{"entity": m.entityKey.String()}
	for i, a := range args {
		fields[fmt.Sprintf("arg%d", i)] = a.String()
	}
	Logger.WithFields(fields).Info("query log")
	return value.NilVal(), nil
}

func mDebug(m *VM, args []value.Value) (value.Value, error) {
	fields := logrus.Fields{"entity": m.entityKey.String(), "cursor": m.cursor}
	for i, a := range args {
		fields[fmt.Sprintf("arg%d", i)] = a.String()
	}
	Logger.WithFields(fields).Debug("query debug")
	return value.NilVal(), nil
}

func mLen(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("len", args, 1); err != nil {
		return value.Value{}, err
	}
	switch args[0].Tag() {
	case value.ListTag:
		return value.IntVal(int64(len(args[0].List()))), nil
	case value.DictTag:
		return value.IntVal(int64(len(args[0].Dict()))), nil
	case value.SetTag:
		return value.IntVal(int64(len(args[0].Set()))), nil
	case value.TextTag:
		return value.IntVal(int64(len(args[0].Text()))), nil
	default:
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
}

func mRound(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("round", args, 1); err != nil {
		return value.Value{}, err
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	return value.IntVal(int64(math.Round(f))), nil
}

// bucket(v, size) floors v to the nearest multiple of size (spec.md
// §4.5 "histogram bucketing marshal").
func mBucket(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("bucket", args, 2); err != nil {
		return value.Value{}, err
	}
	v, ok1 := args[0].AsFloat()
	size, ok2 := args[1].AsFloat()
	if !ok1 || !ok2 || size == 0 {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	return value.DoubleVal(math.Floor(v/size) * size), nil
}

func mFix(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("fix", args, 2); err != nil {
		return value.Value{}, err
	}
	v, ok1 := args[0].AsFloat()
	prec, ok2 := args[1].AsFloat()
	if !ok1 || !ok2 {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	mult := math.Pow(10, prec)
	return value.DoubleVal(math.Round(v*mult) / mult), nil
}

func mURLDecode(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("url_decode", args, 1); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.TextTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	s, err := url.QueryUnescape(args[0].Text())
	if err != nil {
		return value.NilVal(), nil
	}
	return value.TextVal(s), nil
}

func mStr(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("str", args, 1); err != nil {
		return value.Value{}, err
	}
	return value.TextVal(args[0].String()), nil
}

func mInt(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("int", args, 1); err != nil {
		return value.Value{}, err
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	return value.IntVal(int64(f)), nil
}

func mFloat(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("float", args, 1); err != nil {
		return value.Value{}, err
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	return value.DoubleVal(f), nil
}

func mBool(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("bool", args, 1); err != nil {
		return value.Value{}, err
	}
	return value.BoolVal(truthy(args[0])), nil
}

func mEventCount(m *VM, args []value.Value) (value.Value, error) {
	return value.IntVal(int64(m.grid.RowCount())), nil
}

func mSessionCount(m *VM, args []value.Value) (value.Value, error) {
	seen := make(map[int64]struct{})
	for i := 0; i < m.grid.RowCount(); i++ {
		seen[m.grid.Row(i).Session] = struct{}{}
	}
	return value.IntVal(int64(len(seen))), nil
}

func mMakeList(m *VM, args []value.Value) (value.Value, error) {
	return value.ListVal(append([]value.Value{}, args...)), nil
}

func mMakeDict(m *VM, args []value.Value) (value.Value, error) {
	if len(args)%2 != 0 {
		return value.Value{}, ErrArity.New("make_dict", len(args)+1, len(args))
	}
	d := make(map[value.Value]value.Value, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		d[args[i]] = args[i+1]
	}
	return value.DictVal(d), nil
}

func mAppend(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("append", args, 2); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.ListTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	items := append([]value.Value{}, args[0].List()...)
	items = append(items, args[1])
	return value.ListVal(items), nil
}

func mPop(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("pop", args, 1); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.ListTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	items := args[0].List()
	if len(items) == 0 {
		return value.ListVal(nil), nil
	}
	return value.ListVal(append([]value.Value{}, items[:len(items)-1]...)), nil
}

func mClear(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("clear", args, 1); err != nil {
		return value.Value{}, err
	}
	switch args[0].Tag() {
	case value.ListTag:
		return value.ListVal(nil), nil
	case value.DictTag:
		return value.DictVal(make(map[value.Value]value.Value)), nil
	case value.SetTag:
		return value.SetVal(make(map[value.Value]struct{})), nil
	default:
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
}

func mKeys(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("keys", args, 1); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.DictTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	out := make([]value.Value, 0, len(args[0].Dict()))
	for k := range args[0].Dict() {
		out = append(out, k)
	}
	return value.ListVal(out), nil
}

func mAdd(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("add", args, 2); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.SetTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	s := make(map[value.Value]struct{}, len(args[0].Set())+1)
	for k := range args[0].Set() {
		s[k] = struct{}{}
	}
	s[args[1]] = struct{}{}
	return value.SetVal(s), nil
}

func mRemove(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("remove", args, 2); err != nil {
		return value.Value{}, err
	}
	switch args[0].Tag() {
	case value.SetTag:
		s := make(map[value.Value]struct{}, len(args[0].Set()))
		for k := range args[0].Set() {
			if !value.Equal(k, args[1]) {
				s[k] = struct{}{}
			}
		}
		return value.SetVal(s), nil
	case value.DictTag:
		d := make(map[value.Value]value.Value, len(args[0].Dict()))
		for k, v := range args[0].Dict() {
			if !value.Equal(k, args[1]) {
				d[k] = v
			}
		}
		return value.DictVal(d), nil
	default:
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
}

func mUpdate(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("update", args, 3); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.DictTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	d := make(map[value.Value]value.Value, len(args[0].Dict())+1)
	for k, v := range args[0].Dict() {
		d[k] = v
	}
	d[args[1]] = args[2]
	return value.DictVal(d), nil
}

func mFind(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("find", args, 2); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.TextTag || args[1].Tag() != value.TextTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	return value.IntVal(int64(strings.Index(args[0].Text(), args[1].Text()))), nil
}

func mRfind(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("rfind", args, 2); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.TextTag || args[1].Tag() != value.TextTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	return value.IntVal(int64(strings.LastIndex(args[0].Text(), args[1].Text()))), nil
}

func mSplit(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("split", args, 2); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.TextTag || args[1].Tag() != value.TextTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	parts := strings.Split(args[0].Text(), args[1].Text())
	out := make([]value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.TextVal(p)
	}
	return value.ListVal(out), nil
}

func mStrip(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("strip", args, 1); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.TextTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	return value.TextVal(strings.TrimSpace(args[0].Text())), nil
}

// iter_get/iter_set/iter_move_first/iter_move_last operate on list
// values as an explicit cursor-free iterator (spec.md §4.5 "iterator
// marshals"): index-by-position reads/writes and first/last element
// access.
func mIterGet(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("iter_get", args, 2); err != nil {
		return value.Value{}, err
	}
	return m.index(args[0], args[1])
}

func mIterSet(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("iter_set", args, 3); err != nil {
		return value.Value{}, err
	}
	if args[0].Tag() != value.ListTag {
		return value.Value{}, ErrBadOperand.New(args[0].Tag().String())
	}
	old := args[0].List()
	n, ok := args[1].AsFloat()
	idx := int(n)
	if !ok || idx < 0 || idx >= len(old) {
		return value.Value{}, ErrBadSubscript.New(args[1].String(), args[0].Tag().String())
	}
	items := make([]value.Value, len(old))
	copy(items, old)
	items[idx] = args[2]
	return value.ListVal(items), nil
}

func mIterMoveFirst(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("iter_move_first", args, 1); err != nil {
		return value.Value{}, err
	}
	items := args[0].List()
	if len(items) == 0 {
		return value.NilVal(), nil
	}
	return items[0], nil
}

func mIterMoveLast(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("iter_move_last", args, 1); err != nil {
		return value.Value{}, err
	}
	items := args[0].List()
	if len(items) == 0 {
		return value.NilVal(), nil
	}
	return items[len(items)-1], nil
}

// Segment-math marshals (spec.md §4.8 "C8 segment engine"): they
// resolve named segments' bitmaps through VM.Segments and return the
// member count of one segment (population), of its complement, or of
// the combination of two segments, so a query can reference other
// segments as pre-materialized sets.
func mPopulation(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("population", args, 1); err != nil {
		return value.Value{}, err
	}
	bits, err := m.resolveSegment(args[0])
	if err != nil {
		return value.Value{}, err
	}
	return value.IntVal(int64(bits.Count())), nil
}

func mIntersection(m *VM, args []value.Value) (value.Value, error) {
	return m.segmentBinOp("intersection", args, func(a, b *SegmentBits) *SegmentBits { return a.Intersect(b) })
}

func mUnion(m *VM, args []value.Value) (value.Value, error) {
	return m.segmentBinOp("union", args, func(a, b *SegmentBits) *SegmentBits { return a.Union(b) })
}

func mDifference(m *VM, args []value.Value) (value.Value, error) {
	return m.segmentBinOp("difference", args, func(a, b *SegmentBits) *SegmentBits { return a.Subtract(b) })
}

func mComplement(m *VM, args []value.Value) (value.Value, error) {
	if err := arity("complement", args, 1); err != nil {
		return value.Value{}, err
	}
	bits, err := m.resolveSegment(args[0])
	if err != nil {
		return value.Value{}, err
	}
	inv := bits.Invert()
	return value.IntVal(int64(inv.Count())), nil
}

func (m *VM) segmentBinOp(name string, args []value.Value, combine func(a, b *SegmentBits) *SegmentBits) (value.Value, error) {
	if err := arity(name, args, 2); err != nil {
		return value.Value{}, err
	}
	a, err := m.resolveSegment(args[0])
	if err != nil {
		return value.Value{}, err
	}
	b, err := m.resolveSegment(args[1])
	if err != nil {
		return value.Value{}, err
	}
	return value.IntVal(int64(combine(a, b).Count())), nil
}

func (m *VM) resolveSegment(v value.Value) (*SegmentBits, error) {
	if m.Segments == nil || v.Tag() != value.TextTag {
		return nil, ErrBadOperand.New(v.Tag().String())
	}
	bits := m.Segments.Segment(v.Text())
	if bits == nil {
		return nil, ErrBadOperand.New(v.Text())
	}
	return bits, nil
}
