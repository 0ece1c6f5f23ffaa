// Package ql implements C4: the QL compiler pipeline — tokenize,
// block-extract, statement-parse, emit middle ops, lower to bytecode,
// and extract the index expression (spec.md §4.4).
package ql

import "fmt"

// Kind identifies a lexical token category.
type Kind uint8

const (
	KindEOF Kind = iota
	KindIdent
	KindChain // a `.foo` dot-chain call, rewritten from member access
	KindInt
	KindFloat
	KindString
	KindTrue
	KindFalse
	KindNil
	KindKeyword
	KindOp
	KindLParen
	KindRParen
	KindLBracket
	KindRBracket
	KindLBrace
	KindRBrace
	KindComma
	KindColon
	KindNewline
	KindTimeUnit
)

// Token is one lexical token with its source location for error
// reporting (spec.md §4.4.2 "caret_column").
type Token struct {
	Kind   Kind
	Text   string
	IntVal int64
	FltVal float64
	Line   int
	Column int
}

func (t Token) String() string {
	return fmt.Sprintf("%v(%q)@%d:%d", t.Kind, t.Text, t.Line, t.Column)
}

var keywords = map[string]bool{
	"if": true, "else": true, "elsif": true, "end": true,
	"for": true, "in": true, "each_row": true, "select": true,
	"where": true, "as": true, "key": true, "break": true,
	"continue": true, "all": true, "top": true,
}

// multiChar operators, longest first so the lexer matches greedily
// (spec.md §4.4.2 step 1: "multi-char operators ... recognized
// greedily").
var multiCharOps = []string{
	"==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "<<", "<>", "&&", "||",
}
