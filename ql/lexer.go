package ql

import (
	"strconv"
	"strings"

	"github.com/entityql/coreql/value"
	kinds "gopkg.in/src-d/go-errors.v1"
)

var ErrSyntax = kinds.NewKind("syntax error: %s")

// timeUnits maps a literal suffix to its millisecond multiplier
// (spec.md §4.4.1 "Time literals"; §9 Open Questions: months=31d,
// years=365d, calendar-unaware, fixed).
var timeUnits = map[string]int64{
	"_ms":      1,
	"_seconds": 1000,
	"_minutes": 60 * 1000,
	"_hours":   60 * 60 * 1000,
	"_days":    24 * 60 * 60 * 1000,
	"_weeks":   7 * 24 * 60 * 60 * 1000,
	"_months":  31 * 24 * 60 * 60 * 1000,
	"_years":   365 * 24 * 60 * 60 * 1000,
}

// Lexer tokenizes QL source. Whitespace/comments are stripped;
// member access `x.foo` is rewritten to a KindChain token so dot-chain
// filters are lexically distinct from decimal points (spec.md
// §4.4.2 step 1).
type Lexer struct {
	src    string
	pos    int
	line   int
	col    int
}

func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

func (l *Lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) advance() byte {
	c := l.src[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }

// Tokens lexes the entire source into a flat token list terminated by
// a KindEOF token.
func (l *Lexer) Tokens() ([]Token, error) {
	var out []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == KindEOF {
			return out, nil
		}
	}
}

func (l *Lexer) next() (Token, error) {
	l.skipSpaceAndComments()
	if l.pos >= len(l.src) {
		return Token{Kind: KindEOF, Line: l.line, Column: l.col}, nil
	}

	line, col := l.line, l.col
	c := l.peekByte()

	switch {
	case c == '\n':
		l.advance()
		return Token{Kind: KindNewline, Line: line, Column: col}, nil
	case c == '.':
		return l.lexChainOrDot(line, col)
	case isDigit(c):
		return l.lexNumber(line, col)
	case isAlpha(c):
		return l.lexIdentOrKeyword(line, col)
	case c == '"' || c == '\'':
		return l.lexString(line, col, c)
	case c == '(':
		l.advance()
		return Token{Kind: KindLParen, Text: "(", Line: line, Column: col}, nil
	case c == ')':
		l.advance()
		return Token{Kind: KindRParen, Text: ")", Line: line, Column: col}, nil
	case c == '[':
		l.advance()
		return Token{Kind: KindLBracket, Text: "[", Line: line, Column: col}, nil
	case c == ']':
		l.advance()
		return Token{Kind: KindRBracket, Text: "]", Line: line, Column: col}, nil
	case c == '{':
		l.advance()
		return Token{Kind: KindLBrace, Text: "{", Line: line, Column: col}, nil
	case c == '}':
		l.advance()
		return Token{Kind: KindRBrace, Text: "}", Line: line, Column: col}, nil
	case c == ',':
		l.advance()
		return Token{Kind: KindComma, Text: ",", Line: line, Column: col}, nil
	case c == ':':
		l.advance()
		if l.peekByte() == ':' {
			l.advance()
			return Token{Kind: KindOp, Text: "::", Line: line, Column: col}, nil
		}
		return Token{Kind: KindColon, Text: ":", Line: line, Column: col}, nil
	default:
		return l.lexOperator(line, col)
	}
}

func (l *Lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.peekByte()
		if c == ' ' || c == '\t' || c == '\r' {
			l.advance()
			continue
		}
		if c == '#' {
			for l.pos < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

// lexChainOrDot distinguishes `x.foo` (member access, rewritten to a
// chain token) from a leading decimal point, which never occurs at
// statement level in QL so any '.' here begins a chain.
func (l *Lexer) lexChainOrDot(line, col int) (Token, error) {
	l.advance() // consume '.'
	start := l.pos
	for l.pos < len(l.src) && isAlnum(l.peekByte()) {
		l.advance()
	}
	name := l.src[start:l.pos]
	if name == "" {
		return Token{}, ErrSyntax.New("unexpected '.'")
	}
	return Token{Kind: KindChain, Text: name, Line: line, Column: col}, nil
}

func (l *Lexer) lexNumber(line, col int) (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.peekByte()) {
		l.advance()
	}
	isFloat := false
	if l.peekByte() == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
		isFloat = true
		l.advance()
		for l.pos < len(l.src) && isDigit(l.peekByte()) {
			l.advance()
		}
	}
	numText := l.src[start:l.pos]

	// Time literal suffix, e.g. `30_minutes`.
	if l.peekByte() == '_' {
		unitStart := l.pos
		for l.pos < len(l.src) && isAlnum(l.peekByte()) {
			l.advance()
		}
		suffix := l.src[unitStart:l.pos]
		mult, ok := timeUnits["_"+suffix]
		if !ok {
			return Token{}, ErrSyntax.New("invalid time shorthand _" + suffix)
		}
		n, _ := strconv.ParseInt(numText, 10, 64)
		return Token{Kind: KindInt, IntVal: n * mult, Line: line, Column: col}, nil
	}

	if isFloat {
		f, _ := strconv.ParseFloat(numText, 64)
		return Token{Kind: KindFloat, FltVal: f, Line: line, Column: col}, nil
	}
	n, _ := strconv.ParseInt(numText, 10, 64)
	return Token{Kind: KindInt, IntVal: n, Line: line, Column: col}, nil
}

func (l *Lexer) lexIdentOrKeyword(line, col int) (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isAlnum(l.peekByte()) {
		l.advance()
	}
	text := l.src[start:l.pos]
	switch text {
	case "true":
		return Token{Kind: KindTrue, Text: text, Line: line, Column: col}, nil
	case "false":
		return Token{Kind: KindFalse, Text: text, Line: line, Column: col}, nil
	case "nil":
		return Token{Kind: KindNil, Text: text, Line: line, Column: col}, nil
	case "contains", "any":
		return Token{Kind: KindOp, Text: text, Line: line, Column: col}, nil
	}
	if keywords[text] {
		return Token{Kind: KindKeyword, Text: text, Line: line, Column: col}, nil
	}
	return Token{Kind: KindIdent, Text: text, Line: line, Column: col}, nil
}

func (l *Lexer) lexString(line, col int, quote byte) (Token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return Token{}, ErrSyntax.New("unterminated string literal")
		}
		c := l.advance()
		if c == quote {
			break
		}
		if c == '\\' {
			if l.pos >= len(l.src) {
				return Token{}, ErrSyntax.New("unterminated escape")
			}
			e := l.advance()
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\'':
				sb.WriteByte('\'')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case '/':
				sb.WriteByte('/')
			default:
				sb.WriteByte(e)
			}
			continue
		}
		sb.WriteByte(c)
	}
	return Token{Kind: KindString, Text: sb.String(), Line: line, Column: col}, nil
}

func (l *Lexer) lexOperator(line, col int) (Token, error) {
	rest := l.src[l.pos:]
	for _, op := range multiCharOps {
		if strings.HasPrefix(rest, op) {
			for range op {
				l.advance()
			}
			return Token{Kind: KindOp, Text: op, Line: line, Column: col}, nil
		}
	}
	c := l.advance()
	switch c {
	case '+', '-', '*', '/', '=', '<', '>', '!', '&', '|':
		return Token{Kind: KindOp, Text: string(c), Line: line, Column: col}, nil
	}
	return Token{}, ErrSyntax.New("unexpected character " + string(c))
}

// textValue renders a literal token into its value.Value form, used
// by the parser when lowering push_literal.
func textValue(t Token) value.Value {
	switch t.Kind {
	case KindInt:
		return value.IntVal(t.IntVal)
	case KindFloat:
		return value.DoubleVal(t.FltVal)
	case KindString:
		return value.TextVal(t.Text)
	case KindTrue:
		return value.BoolVal(true)
	case KindFalse:
		return value.BoolVal(false)
	default:
		return value.NilVal()
	}
}
