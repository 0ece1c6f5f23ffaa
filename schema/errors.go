package schema

import kinds "gopkg.in/src-d/go-errors.v1"

// Failure modes named in spec.md §4.1.
var (
	ErrDuplicateName = kinds.NewKind("duplicate column name %q")
	ErrUnknownColumn = kinds.NewKind("unknown column %q")
	ErrInvalidName   = kinds.NewKind("invalid column name %q")
)
