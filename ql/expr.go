package ql

// Expression parsing: precedence climbing, lowest to highest —
// ||, &&, equality, relational/membership, additive, multiplicative,
// unary, postfix (chains/subscript), primary.

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atOp("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.atOp("&&") {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.atOp("==") || p.atOp("!=") {
		op := p.advance().Text
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseRelational() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.atOp("<") || p.atOp("<=") || p.atOp(">") || p.atOp(">=") ||
		p.atKw("in") || p.atOp("contains") || p.atOp("any") {
		op := p.advance().Text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") {
		op := p.advance().Text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") {
		op := p.advance().Text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.atOp("!") || p.atOp("-") {
		op := p.advance().Text
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: op, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(KindChain):
			chains, err := p.parseChainRun()
			if err != nil {
				return nil, err
			}
			switch base := e.(type) {
			case IdentExpr:
				e = ColumnExpr{Name: base.Name, Chains: chains}
			case ColumnExpr:
				base.Chains = append(base.Chains, chains...)
				e = base
			default:
				e = ChainOnExpr{Base: e, Chains: chains}
			}
		case p.at(KindLBracket):
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectRBracket(); err != nil {
				return nil, err
			}
			e = SubscriptExpr{Base: e, Index: idx}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parseChainRun() ([]Chain, error) {
	var chains []Chain
	for p.at(KindChain) {
		c, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	return chains, nil
}

func isModifierName(name string) bool {
	_, ok := selectModifiers[name]
	return ok
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case KindInt, KindFloat, KindString, KindTrue, KindFalse, KindNil:
		p.advance()
		return LiteralExpr{Tok: tok}, nil

	case KindLParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return e, nil

	case KindLBracket:
		return p.parseListLiteral()

	case KindLBrace:
		return p.parseDictLiteral()

	case KindIdent:
		name := p.advance().Text
		if p.at(KindLParen) && isModifierName(name) {
			return p.parseInlineAgg(name)
		}
		if p.at(KindLParen) {
			return p.parseCall(name)
		}
		return IdentExpr{Name: name}, nil

	default:
		return nil, ErrSyntax.New("unexpected token " + tok.Text)
	}
}

func (p *Parser) parseListLiteral() (Expr, error) {
	p.advance() // '['
	var items []Expr
	if p.at(KindRBracket) {
		p.advance()
		return ListExpr{}, nil
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
		if p.at(KindComma) {
			p.advance()
			continue
		}
		break
	}
	if !p.at(KindRBracket) {
		return nil, ErrUnmatchedBracket.New("list literal")
	}
	p.advance()
	return ListExpr{Items: items}, nil
}

func (p *Parser) parseDictLiteral() (Expr, error) {
	p.advance() // '{'
	var keys, vals []Expr
	if p.at(KindRBrace) {
		p.advance()
		return DictExpr{}, nil
	}
	for {
		k, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !p.at(KindColon) {
			return nil, ErrSyntax.New("expected ':' in dict literal")
		}
		p.advance()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		vals = append(vals, v)
		if p.at(KindComma) {
			p.advance()
			continue
		}
		break
	}
	if !p.at(KindRBrace) {
		return nil, ErrUnmatchedBracket.New("dict literal")
	}
	p.advance()
	return DictExpr{Keys: keys, Values: vals}, nil
}

func (p *Parser) parseCall(name string) (Expr, error) {
	p.advance() // '('
	var args []Expr
	if !p.at(KindRParen) {
		for {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.at(KindComma) {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	return CallExpr{Name: name, Args: args}, nil
}

// parseInlineAgg parses `sum(expr) where cond` (spec.md §4.5 "Inline
// aggregators"), desugared at emit time into a temporary each_row
// loop over the statement's current row context.
func (p *Parser) parseInlineAgg(modName string) (Expr, error) {
	p.advance() // '('
	var val Expr
	if !p.at(KindRParen) {
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		val = v
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	agg := InlineAggExpr{Modifier: selectModifiers[modName], Value: val}
	if p.atKw("where") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		agg.Where = w
	}
	return agg, nil
}
