// Package value implements the dynamic tagged value type shared by the
// entity grid, the bytecode VM, the result accumulator and the index
// expression evaluator (spec.md §9 "Dynamic variant value").
package value

import (
	"fmt"
	"strconv"
)

// Tag identifies which field of a Value is live.
type Tag uint8

const (
	Nil Tag = iota
	IntTag
	DoubleTag
	BoolTag
	TextTag
	ListTag
	DictTag
	SetTag
	RefTag
)

func (t Tag) String() string {
	switch t {
	case Nil:
		return "nil"
	case IntTag:
		return "int"
	case DoubleTag:
		return "double"
	case BoolTag:
		return "bool"
	case TextTag:
		return "text"
	case ListTag:
		return "list"
	case DictTag:
		return "dict"
	case SetTag:
		return "set"
	case RefTag:
		return "ref"
	default:
		return "unknown"
	}
}

// Value is the dynamic variant every opcode operates on. Text is
// stored as a 64-bit hash with a back-pointer to the string so
// equality tests never have to resolve it (spec.md §3 "text values are
// stored as 64-bit hashes in rows").
type Value struct {
	tag Tag
	i   int64
	f   float64
	b   bool
	h   uint64
	s   string // resolved string for Text, only valid if non-empty or Hash==0
	list *[]Value
	dict *map[Value]Value
	set  *map[Value]struct{}
	ref  *Value
}

func IntVal(i int64) Value      { return Value{tag: IntTag, i: i} }
func DoubleVal(f float64) Value { return Value{tag: DoubleTag, f: f} }
func BoolVal(b bool) Value      { return Value{tag: BoolTag, b: b} }
func NilVal() Value             { return Value{tag: Nil} }
func ListVal(items []Value) Value {
	l := items
	return Value{tag: ListTag, list: &l}
}
func DictVal(m map[Value]Value) Value {
	return Value{tag: DictTag, dict: &m}
}
func SetVal(m map[Value]struct{}) Value {
	return Value{tag: SetTag, set: &m}
}
func RefVal(v *Value) Value { return Value{tag: RefTag, ref: v} }

// TextVal wraps a resolved string and computes its hash with Hash64.
func TextVal(s string) Value {
	return Value{tag: TextTag, h: Hash64(s), s: s}
}

// TextHashVal constructs a Text value from a hash whose string is not
// yet resolved (e.g. while scanning a compressed blob before the
// partition-local hash table is consulted).
func TextHashVal(h uint64, resolved string) Value {
	return Value{tag: TextTag, h: h, s: resolved}
}

func (v Value) Tag() Tag { return v.tag }
func (v Value) IsNil() bool { return v.tag == Nil }

func (v Value) Int() int64 { return v.i }
func (v Value) Double() float64 { return v.f }
func (v Value) Bool() bool { return v.b }
func (v Value) TextHash() uint64 { return v.h }
func (v Value) Text() string { return v.s }
func (v Value) List() []Value {
	if v.list == nil {
		return nil
	}
	return *v.list
}
func (v Value) Dict() map[Value]Value {
	if v.dict == nil {
		return nil
	}
	return *v.dict
}
func (v Value) Set() map[Value]struct{} {
	if v.set == nil {
		return nil
	}
	return *v.set
}
func (v Value) Ref() *Value { return v.ref }

// Hash64 is the FNV-1a 64-bit hash used for interned text (spec.md §3,
// §9 "text equality relies on 64-bit hashes").
func Hash64(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// AsFloat coerces numeric-ish values to float64 for arithmetic and
// comparison, implementing the cross-tag coercion rules of spec.md §9:
// numeric<->numeric coerces, string<->numeric parses, bool<->numeric
// maps false=0/true=1.
func (v Value) AsFloat() (float64, bool) {
	switch v.tag {
	case IntTag:
		return float64(v.i), true
	case DoubleTag:
		return v.f, true
	case BoolTag:
		if v.b {
			return 1, true
		}
		return 0, true
	case TextTag:
		f, err := strconv.ParseFloat(v.s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// IsNumericCompatible reports whether v can participate in arithmetic
// or ordered comparison under the coercion rules above.
func (v Value) IsNumericCompatible() bool {
	_, ok := v.AsFloat()
	return ok
}

// Equal implements spec.md §9's cross-tag equality: numeric<->numeric
// and numeric<->bool/string coerce; all other cross-tag pairs are
// false. Nil equals only Nil.
func Equal(a, b Value) bool {
	if a.tag == Nil || b.tag == Nil {
		return a.tag == b.tag
	}
	if a.tag == TextTag && b.tag == TextTag {
		return a.h == b.h
	}
	if isScalarNumericish(a.tag) && isScalarNumericish(b.tag) {
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
		if aok && bok {
			return af == bf
		}
	}
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case BoolTag:
		return a.b == b.b
	case ListTag:
		al, bl := a.List(), b.List()
		if len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isScalarNumericish(t Tag) bool {
	return t == IntTag || t == DoubleTag || t == BoolTag || t == TextTag
}

// Compare implements ordered comparison (<, <=, >, >=). Returns
// (cmp, ok); ok is false when the pair cannot be ordered (e.g.
// cross-tag list/dict), which the VM turns into a runtime error.
func Compare(a, b Value) (int, bool) {
	if isScalarNumericish(a.tag) && isScalarNumericish(b.tag) {
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
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
	}
	return 0, false
}

// key renders a scalar v into a comparable Go value (Text by its
// hash). Containers have no such key and panic. Nothing in the module
// calls it: dict/set storage and the accumulator's distinct-key sets
// use Value itself as the Go map key.
func (v Value) key() interface{} {
	switch v.tag {
	case Nil:
		return nil
	case IntTag:
		return v.i
	case DoubleTag:
		return v.f
	case BoolTag:
		return v.b
	case TextTag:
		return v.h
	default:
		panic(fmt.Sprintf("value: %s is not usable as a map key", v.tag))
	}
}

func (v Value) String() string {
	switch v.tag {
	case Nil:
		return "nil"
	case IntTag:
		return strconv.FormatInt(v.i, 10)
	case DoubleTag:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case BoolTag:
		return strconv.FormatBool(v.b)
	case TextTag:
		return v.s
	case ListTag:
		return fmt.Sprintf("%v", v.List())
	default:
		return fmt.Sprintf("<%s>", v.tag)
	}
}
