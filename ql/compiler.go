package ql

import (
	"context"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/internal/tracing"
	"github.com/entityql/coreql/schema"
)

// CompiledQuery is C4's output: the bytecode C5 executes, the
// directive C8 reads for segment caching policy, and the index
// expression C3 evaluates to narrow the candidate entity set before
// the VM ever runs (spec.md §4.3/§4.4).
type CompiledQuery struct {
	Directive        *Directive
	Program          *bytecode.Program
	IndexExpr        index.Node
	IndexIsCountable bool
}

// Compile runs the full C4 pipeline over source against cat: parse the
// optional `@section` directive, tokenize, parse statements, extract
// the index expression, and emit bytecode (spec.md §4.4.2).
func Compile(source string, cat *schema.Catalog) (*CompiledQuery, error) {
	span, _ := tracing.StartSpan(context.Background(), "ql.compile")
	defer span.Finish()

	directive, body, err := ParseDirective(source)
	if err != nil {
		return nil, err
	}

	lexer := NewLexer(body)
	toks, err := lexer.Tokens()
	if err != nil {
		return nil, err
	}

	parser := NewParser(toks)
	stmts, err := parser.ParseScript()
	if err != nil {
		return nil, err
	}

	// `select` blocks are ordinary statements the emitter registers via
	// addSelect as it walks the body (including ones nested in `if`),
	// so Script.Selects is left for a future directive-level syntax
	// rather than populated here.
	script := &Script{Directive: directive, Body: stmts}

	prog, err := Emit(script, cat, source)
	if err != nil {
		return nil, err
	}

	idxExpr, countable := ExtractIndexExpr(stmts, cat)

	return &CompiledQuery{
		Directive:        directive,
		Program:          prog,
		IndexExpr:        idxExpr,
		IndexIsCountable: countable,
	}, nil
}
