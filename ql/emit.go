package ql

import (
	"strconv"

	"github.com/entityql/coreql/bytecode"
	"github.com/entityql/coreql/schema"
	"github.com/entityql/coreql/value"
)

// emitter walks a parsed Script and lowers it to a bytecode.Program
// (spec.md §4.4.2 steps 4-5: middle ops then final bytecode, collapsed
// into a single pass since QL has no optimization stage between them).
type emitter struct {
	cat     *schema.Catalog
	blocks  [][]bytecode.Instr
	filters []bytecode.Filter
	selects []bytecode.SelectColumn
	vars    map[string]int32
	nextVar int32
	tmpSeq  int
	source  string
}

func newEmitter(cat *schema.Catalog, source string) *emitter {
	return &emitter{
		cat:    cat,
		blocks: [][]bytecode.Instr{nil}, // reserve block 0 for top level
		vars:   make(map[string]int32),
		source: source,
	}
}

// Emit lowers a parsed script into a Program.
func Emit(script *Script, cat *schema.Catalog, source string) (*bytecode.Program, error) {
	e := newEmitter(cat, source)

	for _, d := range script.Selects {
		if err := e.addSelect(d); err != nil {
			return nil, err
		}
	}

	top, err := e.emitStmts(script.Body)
	if err != nil {
		return nil, err
	}
	e.blocks[0] = top

	return &bytecode.Program{
		Blocks:  e.blocks,
		Filters: e.filters,
		Selects: e.selects,
		NumVars: e.nextVar,
		Source:  source,
	}, nil
}

func (e *emitter) addSelect(d SelectDecl) error {
	col, err := e.cat.GetByName(d.Column)
	if err != nil {
		return err
	}
	sc := bytecode.SelectColumn{
		Modifier:   d.Modifier,
		ColumnID:   int32(col.ID),
		ColumnName: d.Column,
		Alias:      d.Alias,
	}
	if d.DistinctKey != "" {
		kc, err := e.cat.GetByName(d.DistinctKey)
		if err != nil {
			return err
		}
		sc.DistinctCol = int32(kc.ID)
	} else {
		sc.DistinctCol = -1
	}
	e.selects = append(e.selects, sc)
	return nil
}

// newBlock allocates a fresh instruction block and returns its index.
func (e *emitter) newBlock() int32 {
	e.blocks = append(e.blocks, nil)
	return int32(len(e.blocks) - 1)
}

func (e *emitter) varID(name string) int32 {
	if id, ok := e.vars[name]; ok {
		return id
	}
	id := e.nextVar
	e.vars[name] = id
	e.nextVar++
	return id
}

// emitStmts lowers a statement list into its own block and returns it.
func (e *emitter) emitStmts(stmts []Stmt) ([]bytecode.Instr, error) {
	var out []bytecode.Instr
	for _, s := range stmts {
		if err := e.emitStmt(&out, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *emitter) emitBlockStmts(stmts []Stmt) (int32, error) {
	body, err := e.emitStmts(stmts)
	if err != nil {
		return 0, err
	}
	idx := e.newBlock()
	e.blocks[idx] = body
	return idx, nil
}

func (e *emitter) emitStmt(out *[]bytecode.Instr, s Stmt) error {
	switch st := s.(type) {
	case AssignStmt:
		return e.emitAssign(out, st)
	case IfStmt:
		return e.emitIf(out, st)
	case ForStmt:
		return e.emitFor(out, st)
	case EachRowStmt:
		return e.emitEachRow(out, st)
	case SelectStmt:
		// Compile leaves script.Selects empty, so every `select` block
		// in the body, at any nesting, declares its output columns here.
		for _, d := range st.Columns {
			if err := e.addSelect(d); err != nil {
				return err
			}
		}
		return nil
	case TallyStmt:
		return e.emitTally(out, st)
	case BreakStmt:
		unwind := int32(st.Depth)
		if st.All {
			unwind = 0
		}
		if st.Top {
			unwind = -1
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpBreak, Unwind: unwind})
		return nil
	case ContinueStmt:
		*out = append(*out, bytecode.Instr{Op: bytecode.OpContinue})
		return nil
	case ExprStmt:
		if err := e.emitExpr(out, st.X); err != nil {
			return err
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpPop})
		return nil
	default:
		return ErrSyntax.New("unhandled statement type")
	}
}

func (e *emitter) emitAssign(out *[]bytecode.Instr, st AssignStmt) error {
	id := e.varID(st.Target)
	if st.Index == nil {
		if err := e.emitExpr(out, st.Value); err != nil {
			return err
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpPopUserVar, VarID: id})
		return nil
	}
	// a[i] = v: push index, then value, then pop both into var[index].
	if err := e.emitExpr(out, st.Index); err != nil {
		return err
	}
	if err := e.emitExpr(out, st.Value); err != nil {
		return err
	}
	*out = append(*out, bytecode.Instr{Op: bytecode.OpPopUserObj, VarID: id})
	return nil
}

func (e *emitter) emitIf(out *[]bytecode.Instr, st IfStmt) error {
	if err := e.emitExpr(out, st.Cond); err != nil {
		return err
	}
	thenBlk, err := e.emitBlockStmts(st.Then)
	if err != nil {
		return err
	}
	instr := bytecode.Instr{Op: bytecode.OpIfCall, Block: thenBlk, ElseBlock: -1}
	if st.Else != nil {
		elseBlk, err := e.emitBlockStmts(st.Else)
		if err != nil {
			return err
		}
		instr.ElseBlock = elseBlk
	}
	*out = append(*out, instr)
	return nil
}

func (e *emitter) emitFor(out *[]bytecode.Instr, st ForStmt) error {
	if err := e.emitExpr(out, st.Iter); err != nil {
		return err
	}
	bodyBlk, err := e.emitBlockStmts(st.Body)
	if err != nil {
		return err
	}
	loopVar := e.varID(st.Var)
	*out = append(*out, bytecode.Instr{Op: bytecode.OpForCall, Block: bodyBlk, VarID: loopVar})
	return nil
}

func (e *emitter) emitEachRow(out *[]bytecode.Instr, st EachRowStmt) error {
	filter, err := e.buildFilter(st.Chains, st.Where)
	if err != nil {
		return err
	}
	bodyBlk, err := e.emitBlockStmts(st.Body)
	if err != nil {
		return err
	}
	e.filters = append(e.filters, filter)
	fidx := int32(len(e.filters) - 1)
	*out = append(*out, bytecode.Instr{Op: bytecode.OpEachCall, Block: bodyBlk, Filter: fidx})
	return nil
}

// buildFilter compiles each_row's dot-chains plus its `where` clause
// into one Filter descriptor (spec.md §4.4.2 step 5 / §4.5). The
// `where` expression, if present, is compiled into its own
// EvalBlock: a block that leaves a bool on the
// stack for the VM to test per candidate row.
func (e *emitter) buildFilter(chains []Chain, where Expr) (bytecode.Filter, error) {
	f := bytecode.Filter{
		EvalBlock: -1, LimitBlock: -1, RangeStartBlock: -1, RangeEndBlock: -1,
		WithinOriginBlock: -1, WithinWindowBlock: -1, ContinueBlock: -1,
		FromBlock: -1, ColumnID: -1,
	}
	for _, c := range chains {
		if err := e.applyChain(&f, c); err != nil {
			return f, err
		}
	}
	if where != nil {
		instrs, err := e.emitStmts([]Stmt{ExprStmt{X: where}})
		if err != nil {
			return f, err
		}
		// drop the trailing OpPop the ExprStmt path added: the VM needs
		// the bool left on the stack, not popped.
		if n := len(instrs); n > 0 && instrs[n-1].Op == bytecode.OpPop {
			instrs = instrs[:n-1]
		}
		idx := e.newBlock()
		e.blocks[idx] = instrs
		f.EvalBlock = idx
	}
	return f, nil
}

var chainComparators = map[string]bytecode.Comparator{
	"==": bytecode.CmpEq, "!=": bytecode.CmpNeq,
	"<": bytecode.CmpLt, "<=": bytecode.CmpLte,
	">": bytecode.CmpGt, ">=": bytecode.CmpGte,
}

func (e *emitter) applyChain(f *bytecode.Filter, c Chain) error {
	switch c.Name {
	case "ever", "never", "row":
		f.IsEver = c.Name == "ever"
		f.IsNever = c.Name == "never"
		f.IsRow = c.Name == "row"
		if cmp, ok := chainComparators[c.Comparator]; ok {
			f.Comparator = cmp
		} else {
			f.Comparator = bytecode.CmpPresent
		}
		if c.Value != nil {
			blk, err := e.singleExprBlock(c.Value)
			if err != nil {
				return err
			}
			f.EvalBlock = blk
		}
	case "limit":
		f.IsLimit = true
		if len(c.Args) > 0 {
			blk, err := e.singleExprBlock(c.Args[0])
			if err != nil {
				return err
			}
			f.LimitBlock = blk
		}
	case "reverse":
		f.IsReverse = true
	case "forward":
		f.IsReverse = false
	case "next":
		f.IsNext = true
	case "range":
		f.IsRange = true
		if len(c.Args) > 0 {
			blk, err := e.singleExprBlock(c.Args[0])
			if err != nil {
				return err
			}
			f.RangeStartBlock = blk
		}
		if len(c.Args) > 1 {
			blk, err := e.singleExprBlock(c.Args[1])
			if err != nil {
				return err
			}
			f.RangeEndBlock = blk
		}
	case "within":
		f.IsWithin = true
		if len(c.Args) > 0 {
			blk, err := e.singleExprBlock(c.Args[0])
			if err != nil {
				return err
			}
			f.WithinOriginBlock = blk
		}
		if len(c.Args) > 1 {
			blk, err := e.singleExprBlock(c.Args[1])
			if err != nil {
				return err
			}
			f.WithinWindowBlock = blk
		}
	case "look_ahead":
		f.IsLookAhead = true
	case "look_back":
		f.IsLookBack = true
	case "continue":
		f.IsContinue = true
		if len(c.Args) > 0 {
			blk, err := e.singleExprBlock(c.Args[0])
			if err != nil {
				return err
			}
			f.ContinueBlock = blk
		}
	case "from":
		if len(c.Args) > 0 {
			blk, err := e.singleExprBlock(c.Args[0])
			if err != nil {
				return err
			}
			f.FromBlock = blk
		}
	default:
		return ErrSyntax.New("unknown chain " + c.Name)
	}
	return nil
}

func (e *emitter) singleExprBlock(x Expr) (int32, error) {
	instrs, err := e.emitStmts([]Stmt{ExprStmt{X: x}})
	if err != nil {
		return -1, err
	}
	if n := len(instrs); n > 0 && instrs[n-1].Op == bytecode.OpPop {
		instrs = instrs[:n-1]
	}
	idx := e.newBlock()
	e.blocks[idx] = instrs
	return idx, nil
}

func (e *emitter) emitTally(out *[]bytecode.Instr, st TallyStmt) error {
	for _, k := range st.Keys {
		if err := e.emitExpr(out, k); err != nil {
			return err
		}
	}
	*out = append(*out, bytecode.Instr{Op: bytecode.OpTally, Argc: int32(len(st.Keys))})
	return nil
}

// emitExpr lowers an expression, leaving exactly one value on the
// VM's operand stack.
func (e *emitter) emitExpr(out *[]bytecode.Instr, expr Expr) error {
	switch x := expr.(type) {
	case LiteralExpr:
		*out = append(*out, bytecode.Instr{Op: bytecode.OpPushLiteral, Literal: textValue(x.Tok)})
		return nil

	case IdentExpr:
		if col, err := e.cat.GetByName(x.Name); err == nil {
			*out = append(*out, bytecode.Instr{Op: bytecode.OpPushColumn, ColumnID: int32(col.ID)})
			return nil
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpPushUserVar, VarID: e.varID(x.Name)})
		return nil

	case ColumnExpr:
		return e.emitColumnFilter(out, x)

	case ChainOnExpr:
		// Chains on a non-bare expression evaluate the base and ignore
		// the chain set for value purposes; the chains only matter when
		// attached to an each_row-scoped column (spec.md §4.4.1).
		return e.emitExpr(out, x.Base)

	case SubscriptExpr:
		if err := e.emitExpr(out, x.Base); err != nil {
			return err
		}
		if err := e.emitExpr(out, x.Index); err != nil {
			return err
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpSubscript})
		return nil

	case ListExpr:
		for _, item := range x.Items {
			if err := e.emitExpr(out, item); err != nil {
				return err
			}
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpMakeList, Argc: int32(len(x.Items))})
		return nil

	case DictExpr:
		for i := range x.Keys {
			if err := e.emitExpr(out, x.Keys[i]); err != nil {
				return err
			}
			if err := e.emitExpr(out, x.Values[i]); err != nil {
				return err
			}
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpMakeDict, Argc: int32(len(x.Keys))})
		return nil

	case UnaryExpr:
		if x.Op == "!" {
			if err := e.emitExpr(out, x.X); err != nil {
				return err
			}
			*out = append(*out, bytecode.Instr{Op: bytecode.OpNot})
			return nil
		}
		// unary minus: 0 - x
		*out = append(*out, bytecode.Instr{Op: bytecode.OpPushLiteral, Literal: value.IntVal(0)})
		if err := e.emitExpr(out, x.X); err != nil {
			return err
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpSub})
		return nil

	case BinaryExpr:
		return e.emitBinary(out, x)

	case CallExpr:
		for _, a := range x.Args {
			if err := e.emitExpr(out, a); err != nil {
				return err
			}
		}
		*out = append(*out, bytecode.Instr{Op: bytecode.OpMarshal, Marshal: x.Name, Argc: int32(len(x.Args))})
		return nil

	case InlineAggExpr:
		return e.emitInlineAgg(out, x)

	default:
		return ErrSyntax.New("unhandled expression type")
	}
}

// emitColumnFilter lowers a bare column reference that carries
// dot-chains. Outside an each_row body these chains describe a
// one-shot predicate over the entity's full history, compiled the
// same way as an each_row filter but evaluated eagerly by the VM via
// OpColumnFilter rather than iterated via OpEachCall.
func (e *emitter) emitColumnFilter(out *[]bytecode.Instr, x ColumnExpr) error {
	col, err := e.cat.GetByName(x.Name)
	if err != nil {
		return err
	}
	if len(x.Chains) == 0 {
		*out = append(*out, bytecode.Instr{Op: bytecode.OpPushColumn, ColumnID: int32(col.ID)})
		return nil
	}
	f, err := e.buildFilter(x.Chains, nil)
	if err != nil {
		return err
	}
	f.ColumnID = int32(col.ID)
	e.filters = append(e.filters, f)
	*out = append(*out, bytecode.Instr{Op: bytecode.OpColumnFilter, Filter: int32(len(e.filters) - 1), ColumnID: int32(col.ID)})
	return nil
}

var binOps = map[string]bytecode.Op{
	"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul, "/": bytecode.OpDiv,
	"==": bytecode.OpEq, "!=": bytecode.OpNeq,
	"<": bytecode.OpLt, "<=": bytecode.OpLte, ">": bytecode.OpGt, ">=": bytecode.OpGte,
	"&&": bytecode.OpAnd, "||": bytecode.OpOr,
	"in": bytecode.OpIn, "contains": bytecode.OpContains, "any": bytecode.OpAny,
}

// emitBinary lowers a binary expression. Per spec.md §4.5 "Logical
// operators", `&&`/`||` are NOT short-circuited: both operands are
// always evaluated before OpAnd/OpOr combines them, so side effects
// in either operand (marshal calls, inline aggregators) always run.
func (e *emitter) emitBinary(out *[]bytecode.Instr, x BinaryExpr) error {
	if err := e.emitExpr(out, x.Left); err != nil {
		return err
	}
	if err := e.emitExpr(out, x.Right); err != nil {
		return err
	}
	op, ok := binOps[x.Op]
	if !ok {
		return ErrSyntax.New("unknown operator " + x.Op)
	}
	*out = append(*out, bytecode.Instr{Op: op})
	return nil
}

// emitInlineAgg desugars `mod(expr) where cond` into a hidden
// temporary variable accumulated over a synthetic each_row loop, then
// leaves the accumulated value on the stack (spec.md §4.5 "Inline
// aggregators"). Supported modifiers: count, sum, min, max, avg.
func (e *emitter) emitInlineAgg(out *[]bytecode.Instr, agg InlineAggExpr) error {
	switch agg.Modifier {
	case bytecode.ModCount, bytecode.ModSum:
		return e.emitAccumulatingAgg(out, agg)
	case bytecode.ModMin, bytecode.ModMax:
		return e.emitMinMaxAgg(out, agg)
	case bytecode.ModAvg:
		return e.emitAvgAgg(out, agg)
	default:
		return ErrUnsupportedModifier.New(agg.Modifier.String())
	}
}

func (e *emitter) synthName(prefix string) string {
	e.tmpSeq++
	return prefix + "_" + strconv.Itoa(e.tmpSeq)
}

func (e *emitter) emitAccumulatingAgg(out *[]bytecode.Instr, agg InlineAggExpr) error {
	tmp := e.synthName("__agg")
	zeroStmt := AssignStmt{Target: tmp, Value: LiteralExpr{Tok: Token{Kind: KindInt, IntVal: 0}}}
	if err := e.emitAssign(out, zeroStmt); err != nil {
		return err
	}

	addend := agg.Value
	if agg.Modifier == bytecode.ModCount || addend == nil {
		addend = LiteralExpr{Tok: Token{Kind: KindInt, IntVal: 1}}
	}
	incr := AssignStmt{Target: tmp, Value: BinaryExpr{Op: "+", Left: IdentExpr{Name: tmp}, Right: addend}}
	body := []Stmt{Stmt(incr)}
	if agg.Where != nil {
		body = []Stmt{IfStmt{Cond: agg.Where, Then: body}}
	}
	each := EachRowStmt{Body: body}
	if err := e.emitEachRow(out, each); err != nil {
		return err
	}
	*out = append(*out, bytecode.Instr{Op: bytecode.OpPushUserVar, VarID: e.varID(tmp)})
	return nil
}

func (e *emitter) emitMinMaxAgg(out *[]bytecode.Instr, agg InlineAggExpr) error {
	tmp := e.synthName("__agg")
	seen := e.synthName("__seen")
	if err := e.emitAssign(out, AssignStmt{Target: seen, Value: LiteralExpr{Tok: Token{Kind: KindFalse}}}); err != nil {
		return err
	}
	if err := e.emitAssign(out, AssignStmt{Target: tmp, Value: LiteralExpr{Tok: Token{Kind: KindInt, IntVal: 0}}}); err != nil {
		return err
	}
	op := "<"
	if agg.Modifier == bytecode.ModMax {
		op = ">"
	}
	take := []Stmt{
		AssignStmt{Target: tmp, Value: agg.Value},
		AssignStmt{Target: seen, Value: LiteralExpr{Tok: Token{Kind: KindTrue}}},
	}
	better := IfStmt{
		Cond: BinaryExpr{Op: op, Left: agg.Value, Right: IdentExpr{Name: tmp}},
		Then: take,
	}
	first := IfStmt{
		Cond: UnaryExpr{Op: "!", X: IdentExpr{Name: seen}},
		Then: take,
		Else: []Stmt{better},
	}
	body := []Stmt{first}
	if agg.Where != nil {
		body = []Stmt{IfStmt{Cond: agg.Where, Then: body}}
	}
	if err := e.emitEachRow(out, EachRowStmt{Body: body}); err != nil {
		return err
	}
	*out = append(*out, bytecode.Instr{Op: bytecode.OpPushUserVar, VarID: e.varID(tmp)})
	return nil
}

func (e *emitter) emitAvgAgg(out *[]bytecode.Instr, agg InlineAggExpr) error {
	sumTmp := e.synthName("__sum")
	cntTmp := e.synthName("__cnt")
	if err := e.emitAssign(out, AssignStmt{Target: sumTmp, Value: LiteralExpr{Tok: Token{Kind: KindInt, IntVal: 0}}}); err != nil {
		return err
	}
	if err := e.emitAssign(out, AssignStmt{Target: cntTmp, Value: LiteralExpr{Tok: Token{Kind: KindInt, IntVal: 0}}}); err != nil {
		return err
	}
	body := []Stmt{
		AssignStmt{Target: sumTmp, Value: BinaryExpr{Op: "+", Left: IdentExpr{Name: sumTmp}, Right: agg.Value}},
		AssignStmt{Target: cntTmp, Value: BinaryExpr{Op: "+", Left: IdentExpr{Name: cntTmp}, Right: LiteralExpr{Tok: Token{Kind: KindInt, IntVal: 1}}}},
	}
	if agg.Where != nil {
		body = []Stmt{IfStmt{Cond: agg.Where, Then: body}}
	}
	if err := e.emitEachRow(out, EachRowStmt{Body: body}); err != nil {
		return err
	}
	if err := e.emitExpr(out, BinaryExpr{Op: "/", Left: IdentExpr{Name: sumTmp}, Right: IdentExpr{Name: cntTmp}}); err != nil {
		return err
	}
	return nil
}
