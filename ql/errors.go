package ql

import kinds "gopkg.in/src-d/go-errors.v1"

// Parse/Compile error kinds (spec.md §4.4.2). ErrSyntax lives in
// lexer.go alongside the scanner that raises it most often.
var (
	ErrUnmatchedBracket     = kinds.NewKind("unmatched bracket near %s")
	ErrUndefinedVariable    = kinds.NewKind("undefined variable %q")
	ErrUnknownColumn        = kinds.NewKind("unknown column %q")
	ErrBadFilterCombination = kinds.NewKind("incompatible filters: %s")
	ErrInvalidTimeShorthand = kinds.NewKind("invalid time shorthand %q")
	ErrReservedWord         = kinds.NewKind("%q is a reserved word")
	ErrTooDeepBreak         = kinds.NewKind("break %d exceeds loop nesting depth %d")
	ErrUnsupportedModifier  = kinds.NewKind("%s is not valid here")
)
