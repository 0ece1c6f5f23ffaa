package ql

import (
	"github.com/entityql/coreql/bytecode"
)

// Parser is a hand-written recursive-descent parser: the statement
// splitter (spec.md §4.4.2 step 2, "block extraction") and the
// expression reducer (step 3) are combined into one pass, which is
// the idiomatic Go shape for a small DSL — the teacher's own
// multi-stage `parse/` -> plan -> rowexec split exists because SQL
// needs a separate logical-plan stage for optimization; QL has none,
// so there is nothing to gain from splitting block extraction out.
type Parser struct {
	toks []Token
	pos  int
}

func NewParser(toks []Token) *Parser {
	// Statement boundaries are newlines; strip them here except where
	// the grammar cares (it doesn't — every statement is one line in
	// QL, and blocks are delimited by keywords, not indentation).
	filtered := make([]Token, 0, len(toks))
	for _, t := range toks {
		if t.Kind == KindNewline {
			continue
		}
		filtered = append(filtered, t)
	}
	return &Parser{toks: filtered}
}

func (p *Parser) cur() Token  { return p.toks[p.pos] }
func (p *Parser) at(k Kind) bool { return p.cur().Kind == k }
func (p *Parser) atKw(kw string) bool {
	return p.cur().Kind == KindKeyword && p.cur().Text == kw
}
func (p *Parser) atOp(op string) bool {
	return p.cur().Kind == KindOp && p.cur().Text == op
}

func (p *Parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expectOp(op string) error {
	if !p.atOp(op) {
		return ErrSyntax.New("expected '" + op + "' near " + p.cur().Text)
	}
	p.advance()
	return nil
}

func (p *Parser) expectKw(kw string) error {
	if !p.atKw(kw) {
		return ErrSyntax.New("expected '" + kw + "' near " + p.cur().Text)
	}
	p.advance()
	return nil
}

// ParseScript parses a full body (directive already stripped).
func (p *Parser) ParseScript() ([]Stmt, error) {
	var stmts []Stmt
	for !p.at(KindEOF) {
		if p.atKw("end") {
			return nil, ErrUnmatchedBracket.New("unexpected 'end'")
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *Parser) parseBlockUntilEnd(terminators ...string) ([]Stmt, error) {
	var stmts []Stmt
	for {
		if p.at(KindEOF) {
			return nil, ErrUnmatchedBracket.New("missing 'end'")
		}
		for _, term := range terminators {
			if p.atKw(term) {
				return stmts, nil
			}
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch {
	case p.atKw("if"):
		return p.parseIf()
	case p.atKw("for"):
		return p.parseFor()
	case p.atKw("each_row"):
		return p.parseEachRow()
	case p.atKw("select"):
		return p.parseSelect()
	case p.atKw("break"):
		return p.parseBreak()
	case p.atKw("continue"):
		p.advance()
		return ContinueStmt{}, nil
	case p.atOp("<<"):
		return p.parseTally()
	default:
		return p.parseAssignOrExpr()
	}
}

func (p *Parser) parseIf() (Stmt, error) {
	p.advance() // 'if'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlockUntilEnd("else", "elsif", "end")
	if err != nil {
		return nil, err
	}
	stmt := IfStmt{Cond: cond, Then: then}

	if p.atKw("elsif") {
		p.toks[p.pos] = Token{Kind: KindKeyword, Text: "if", Line: p.cur().Line, Column: p.cur().Column}
		elseBranch, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		stmt.Else = []Stmt{elseBranch}
		return stmt, nil
	}
	if p.atKw("else") {
		p.advance()
		elseBody, err := p.parseBlockUntilEnd("end")
		if err != nil {
			return nil, err
		}
		stmt.Else = elseBody
		if err := p.expectKw("end"); err != nil {
			return nil, err
		}
		return stmt, nil
	}
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	p.advance() // 'for'
	if !p.at(KindIdent) {
		return nil, ErrSyntax.New("expected loop variable after 'for'")
	}
	varName := p.advance().Text
	if err := p.expectKw("in"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlockUntilEnd("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	return ForStmt{Var: varName, Iter: iter, Body: body}, nil
}

func (p *Parser) parseEachRow() (Stmt, error) {
	p.advance() // 'each_row'
	var chains []Chain
	for p.at(KindChain) {
		c, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	var where Expr
	if p.atKw("where") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	if err := checkFilterCombination(chains); err != nil {
		return nil, err
	}
	body, err := p.parseBlockUntilEnd("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	return EachRowStmt{Where: where, Chains: chains, Body: body}, nil
}

// checkFilterCombination rejects compile-time impossible chain
// combinations (spec.md §4.4.2 BadFilterCombination examples).
func checkFilterCombination(chains []Chain) error {
	has := map[string]bool{}
	for _, c := range chains {
		has[c.Name] = true
	}
	bad := [][2]string{
		{"row", "ever"}, {"forward", "reverse"},
		{"look_ahead", "look_back"}, {"next", "from"},
	}
	for _, pair := range bad {
		if has[pair[0]] && has[pair[1]] {
			return ErrBadFilterCombination.New(pair[0] + " + " + pair[1])
		}
	}
	return nil
}

func (p *Parser) parseChain() (Chain, error) {
	name := p.advance().Text // KindChain token already consumed name
	c := Chain{Name: name}
	if !p.at(KindLParen) {
		return c, nil
	}
	p.advance() // '('
	if p.at(KindRParen) {
		p.advance()
		return c, nil
	}

	switch name {
	case "ever", "never", "row":
		if p.at(KindOp) {
			c.Comparator = p.advance().Text
		}
		v, err := p.parseExpr()
		if err != nil {
			return c, err
		}
		c.Value = v
	default:
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return c, err
			}
			c.Args = append(c.Args, arg)
			if p.at(KindComma) {
				p.advance()
				continue
			}
			break
		}
	}
	if !p.at(KindRParen) {
		return c, ErrUnmatchedBracket.New("chain " + name)
	}
	p.advance()
	return c, nil
}

func (p *Parser) parseSelect() (Stmt, error) {
	p.advance() // 'select'
	var decls []SelectDecl
	for !p.atKw("end") {
		if p.at(KindEOF) {
			return nil, ErrUnmatchedBracket.New("missing 'end' for select")
		}
		d, err := p.parseSelectDecl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, d)
	}
	p.advance() // 'end'
	return SelectStmt{Columns: decls}, nil
}

var selectModifiers = map[string]bytecode.Modifier{
	"count":             bytecode.ModCount,
	"sum":               bytecode.ModSum,
	"min":               bytecode.ModMin,
	"max":               bytecode.ModMax,
	"avg":               bytecode.ModAvg,
	"value":             bytecode.ModValue,
	"var":               bytecode.ModVar,
	"dist_count_person": bytecode.ModDistCountPerson,
}

func (p *Parser) parseSelectDecl() (SelectDecl, error) {
	if !p.at(KindIdent) {
		return SelectDecl{}, ErrSyntax.New("expected select modifier")
	}
	modName := p.advance().Text
	mod, ok := selectModifiers[modName]
	if !ok {
		return SelectDecl{}, ErrSyntax.New("unknown select modifier " + modName)
	}
	if !p.at(KindIdent) {
		return SelectDecl{}, ErrSyntax.New("expected column after select modifier")
	}
	col := p.advance().Text
	decl := SelectDecl{Modifier: mod, Column: col, Alias: col}

	if p.atKw("as") {
		p.advance()
		decl.Alias = p.advance().Text
	}
	if p.atKw("key") {
		p.advance()
		decl.DistinctKey = p.advance().Text
	}
	return decl, nil
}

func (p *Parser) parseTally() (Stmt, error) {
	p.advance() // '<<'
	var keys []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		keys = append(keys, e)
		if p.at(KindComma) {
			p.advance()
			continue
		}
		break
	}
	return TallyStmt{Keys: keys}, nil
}

func (p *Parser) parseBreak() (Stmt, error) {
	p.advance() // 'break'
	if p.at(KindInt) {
		n := int(p.advance().IntVal)
		if n > maxBreakDepth {
			return nil, ErrTooDeepBreak.New(n, maxBreakDepth)
		}
		return BreakStmt{Depth: n}, nil
	}
	if p.atKw("all") {
		p.advance()
		return BreakStmt{All: true}, nil
	}
	if p.atKw("top") {
		p.advance()
		return BreakStmt{Top: true}, nil
	}
	return BreakStmt{Depth: 1}, nil
}

// maxBreakDepth bounds a single `break n` literal; deeper nesting is
// still reachable via `break all`.
const maxBreakDepth = 64

// augAssignOps maps a lexed augmented-assignment operator to the
// binary op its desugared `x = x <op> v` form uses.
var augAssignOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/",
}

func (p *Parser) parseAssignOrExpr() (Stmt, error) {
	if p.at(KindIdent) {
		save := p.pos
		name := p.advance().Text
		var idx Expr
		if p.at(KindLBracket) {
			p.advance()
			i, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			idx = i
			if err := p.expectRBracket(); err != nil {
				return nil, err
			}
		}
		if p.atOp("=") {
			p.advance()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return AssignStmt{Target: name, Index: idx, Value: v}, nil
		}
		if aug, ok := augAssignOps[p.cur().Text]; ok && p.at(KindOp) {
			p.advance()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			lhs := Expr(IdentExpr{Name: name})
			if idx != nil {
				lhs = SubscriptExpr{Base: lhs, Index: idx}
			}
			return AssignStmt{Target: name, Index: idx, Value: BinaryExpr{Op: aug, Left: lhs, Right: v}}, nil
		}
		p.pos = save
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return ExprStmt{X: e}, nil
}

func (p *Parser) expectRBracket() error {
	if !p.at(KindRBracket) {
		return ErrUnmatchedBracket.New("expected ']'")
	}
	p.advance()
	return nil
}

func (p *Parser) expectRParen() error {
	if !p.at(KindRParen) {
		return ErrUnmatchedBracket.New("expected ')'")
	}
	p.advance()
	return nil
}
