package coreql

import (
	"fmt"

	"github.com/pkg/errors"
	kinds "gopkg.in/src-d/go-errors.v1"
)

// Class names the six error families of spec.md §7. Parse/Compile
// kinds live in package ql, Schema kinds in package schema, Runtime
// kinds in package vm — each close to the component that raises them.
// Resource and Internal are cross-cutting (raised by the partition
// coordinator itself), so they live here at the root.
type Class string

const (
	ClassParse    Class = "Parse"
	ClassCompile  Class = "Compile"
	ClassSchema   Class = "Schema"
	ClassRuntime  Class = "Runtime"
	ClassResource Class = "Resource"
	ClassInternal Class = "Internal"
)

// Resource errors (transient; retried by the caller on an idempotent
// request id, spec.md §7).
var (
	ErrPartitionMigrated = kinds.NewKind("partition migrated, retry request %s")
	ErrDeadlineExceeded  = kinds.NewKind("deadline exceeded for query %s")
	ErrCancelled         = kinds.NewKind("query %s cancelled")
	ErrNodeUnavailable   = kinds.NewKind("node unavailable")
)

// Internal errors (fatal; the supervisor restarts the worker).
var (
	ErrHashCollision = kinds.NewKind("hash collision merging text tables: hash %d maps to both %q and %q")
)

// SourceError decorates a Parse/Compile error with the location it was
// raised at, matching spec.md §4.4.2's error shape
// ({class, code, message, source_excerpt, caret_column}).
type SourceError struct {
	class  Class
	cause  error
	Source string
	Line   int
	Column int
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.class, e.Line, e.Column, e.cause)
}

func (e *SourceError) Unwrap() error { return e.cause }

// Excerpt returns the offending source line with a caret under Column.
func (e *SourceError) Excerpt() (line string, caret int) {
	return e.Source, e.Column
}

// WrapSource attaches a source location to a Parse/Compile error.
func WrapSource(class Class, cause error, source string, line, column int) error {
	return &SourceError{class: class, cause: cause, Source: source, Line: line, Column: column}
}

// Wrap adds call-site context the way the teacher's engine.go wraps
// lower-layer failures before they reach the caller.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Cause unwraps to the root error, e.g. to recover the *kinds.Kind.
func Cause(err error) error { return errors.Cause(err) }
