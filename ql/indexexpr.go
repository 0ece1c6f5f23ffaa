package ql

import (
	"github.com/entityql/coreql/index"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
)

// ExtractIndexExpr derives the index expression (C3) from a script's
// primary each_row filter's `where` clause (spec.md §4.3 step 1-5).
// Only the first top-level
// each_row reached by walking straight-line statements and `if` bodies
// is considered: that is the scan QL programs are written around, and
// everything else (for loops, nested aggregation, marshal calls)
// cannot be proven to only narrow the candidate set, so it is left out
// of the formula rather than risk excluding rows the query would
// otherwise visit.
func ExtractIndexExpr(body []Stmt, cat *schema.Catalog) (index.Node, bool) {
	er := findFirstEachRow(body)
	if er == nil {
		return index.Void{}, false
	}

	var n index.Node = index.Void{}
	first := true
	addTerm := func(t index.Node) {
		if first {
			n = t
			first = false
			return
		}
		n = index.And{Left: n, Right: t}
	}

	if er.Where != nil {
		addTerm(exprToIndexNode(er.Where, cat))
	}
	if first {
		return index.Void{}, false
	}

	reduced, hasVoid := index.Reduce(n)
	return reduced, !hasVoid
}

func findFirstEachRow(body []Stmt) *EachRowStmt {
	for _, s := range body {
		switch st := s.(type) {
		case EachRowStmt:
			cp := st
			return &cp
		case IfStmt:
			if found := findFirstEachRow(st.Then); found != nil {
				return found
			}
			if found := findFirstEachRow(st.Else); found != nil {
				return found
			}
		}
	}
	return nil
}

// chainToIndexNode reduces a `.ever`/`.never`/`.row` chain attached to
// column col against a literal to a single-column index term
// (spec.md §4.3 step 6). Any other chain, or a non-literal comparison
// value, contributes nothing (left to the caller to treat as Void).
func chainToIndexNode(col *schema.Column, c Chain) (index.Node, bool) {
	switch c.Name {
	case "row", "ever", "never":
		if c.Value == nil {
			return nil, false
		}
		lit, ok := c.Value.(LiteralExpr)
		if !ok {
			return nil, false
		}
		op, ok := termOpFor(c.Comparator)
		if !ok {
			return nil, false
		}
		term := index.Term{Column: int32(col.ID), Op: op, Value: textValue(lit.Tok)}
		if c.Name == "never" {
			return index.NegateEver(term), true
		}
		return term, true
	default:
		return nil, false
	}
}

func termOpFor(cmp string) (index.TermOp, bool) {
	switch cmp {
	case "==", "":
		return index.OpEq, true
	case "!=":
		return index.OpNeq, true
	case "<":
		return index.OpLt, true
	case "<=":
		return index.OpLte, true
	case ">":
		return index.OpGt, true
	case ">=":
		return index.OpGte, true
	}
	return index.OpEq, false
}

func exprToIndexNode(e Expr, cat *schema.Catalog) index.Node {
	switch x := e.(type) {
	case BinaryExpr:
		switch x.Op {
		case "&&":
			return index.And{Left: exprToIndexNode(x.Left, cat), Right: exprToIndexNode(x.Right, cat)}
		case "||":
			return index.Or{Left: exprToIndexNode(x.Left, cat), Right: exprToIndexNode(x.Right, cat)}
		case "==", "!=", "<", "<=", ">", ">=":
			return comparisonToIndexNode(x, cat)
		case "in", "contains", "any":
			return membershipToIndexNode(x, cat)
		default:
			return index.Void{}
		}
	case UnaryExpr:
		if x.Op == "!" {
			return index.Not{X: exprToIndexNode(x.X, cat)}
		}
		return index.Void{}
	case ColumnExpr:
		return columnChainsToIndexNode(x, cat)
	default:
		return index.Void{}
	}
}

// columnChainsToIndexNode ANDs together every `.ever`/`.row`/`.never`
// chain on a column reference used as a boolean subexpression (e.g.
// `fruit.ever(== "banana")` inside a `where` clause); any other chain
// present (`.within`, `.look_ahead`, ...) is ignored rather than
// voiding the whole term, since dropping a window restriction only
// widens the candidate set (still a safe superset).
func columnChainsToIndexNode(x ColumnExpr, cat *schema.Catalog) index.Node {
	col, err := cat.GetByName(x.Name)
	if err != nil {
		return index.Void{}
	}
	var n index.Node
	found := false
	for _, c := range x.Chains {
		if t, ok := chainToIndexNode(col, c); ok {
			if !found {
				n = t
				found = true
				continue
			}
			n = index.And{Left: n, Right: t}
		}
	}
	if !found {
		return index.Void{}
	}
	return n
}

func comparisonToIndexNode(x BinaryExpr, cat *schema.Catalog) index.Node {
	col, lit, colWasRight, ok := splitColumnLiteral(x.Left, x.Right, cat)
	if !ok {
		return index.Void{}
	}
	op, ok := termOpFor(x.Op)
	if !ok {
		return index.Void{}
	}
	return index.NewTerm(int32(col.ID), op, lit, colWasRight)
}

func membershipToIndexNode(x BinaryExpr, cat *schema.Catalog) index.Node {
	ident, ok := x.Left.(IdentExpr)
	if !ok {
		return index.Void{}
	}
	col, err := cat.GetByName(ident.Name)
	if err != nil {
		return index.Void{}
	}
	list, ok := x.Right.(ListExpr)
	if !ok {
		return index.Void{}
	}
	vals := make([]value.Value, 0, len(list.Items))
	for _, item := range list.Items {
		lit, ok := item.(LiteralExpr)
		if !ok {
			return index.Void{}
		}
		vals = append(vals, textValue(lit.Tok))
	}
	return index.NormalizeIn(int32(col.ID), vals)
}

func splitColumnLiteral(l, r Expr, cat *schema.Catalog) (*schema.Column, value.Value, bool, bool) {
	if ident, ok := l.(IdentExpr); ok {
		if col, err := cat.GetByName(ident.Name); err == nil {
			if lit, ok := r.(LiteralExpr); ok {
				return col, textValue(lit.Tok), false, true
			}
		}
	}
	if ident, ok := r.(IdentExpr); ok {
		if col, err := cat.GetByName(ident.Name); err == nil {
			if lit, ok := l.(LiteralExpr); ok {
				return col, textValue(lit.Tok), true, true
			}
		}
	}
	return nil, value.Value{}, false, false
}
