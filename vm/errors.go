// Package vm implements C5: the stack machine that executes a
// compiled bytecode.Program against one entity's grid, writing into a
// result accumulator and, in segment mode, a single terminal bit
// (spec.md §4.5, §4.8).
package vm

import kinds "gopkg.in/src-d/go-errors.v1"

// Runtime error kinds (spec.md §7 Runtime class).
var (
	ErrDivideByZero  = kinds.NewKind("division by zero")
	ErrBadSubscript  = kinds.NewKind("subscript %v not valid for %s")
	ErrArity         = kinds.NewKind("marshal %s expects %d args, got %d")
	ErrTooDeepBreak  = kinds.NewKind("break unwinds past the outermost loop")
	ErrNotComparable = kinds.NewKind("values of type %s and %s are not comparable")
	ErrUnknownMarshal = kinds.NewKind("unknown marshal function %q")
	ErrBadOperand    = kinds.NewKind("operand of type %s not valid for this operation")
)
