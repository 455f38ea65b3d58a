package lang

import (
	"fmt"
	"os"

	"go.starlark.net/syntax"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

// Lower reduces a parsed source file to the primitive AST. isBuiltin
// classifies free names against the dispatch registry so that builtin calls
// are marked for receiver write-back; it is the only registry knowledge the
// front end needs.
func Lower(file *syntax.File, isBuiltin func(string) bool) (*Program, error) {
	l := &lowerer{isBuiltin: isBuiltin, defs: map[string]bool{}}
	l.push()

	// Declared functions are visible before their definition.
	for _, s := range file.Stmts {
		if def, ok := s.(*syntax.DefStmt); ok {
			l.defs[def.Name.Name] = true
		}
	}

	prog := &Program{Path: file.Path}
	main := &Block{}
	for _, s := range file.Stmts {
		if def, ok := s.(*syntax.DefStmt); ok {
			fn, err := l.funcLit(def.Name.Name, def.Params, def.Body, spanOf(def))
			if err != nil {
				return nil, err
			}
			prog.Decls = append(prog.Decls, &FuncDecl{base: bat(def), Name: def.Name.Name, Fn: fn})
			continue
		}
		out, err := l.stmt(s)
		if err != nil {
			return nil, err
		}
		main.Stmts = append(main.Stmts, out...)
	}
	prog.Main = main
	return prog, nil
}

// LowerSource parses and lowers source text. src follows the conventions of
// the underlying parser (string, []byte, or nil to read the file at path).
func LowerSource(path string, src any, isBuiltin func(string) bool) (*Program, error) {
	opts := syntax.FileOptions{}
	file, err := opts.Parse(path, src, 0)
	if err != nil {
		return nil, err
	}
	return Lower(file, isBuiltin)
}

// LowerPath reads and lowers a source file.
func LowerPath(path string, isBuiltin func(string) bool) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LowerSource(path, f, isBuiltin)
}

type lowerer struct {
	isBuiltin func(string) bool
	defs      map[string]bool
	scopes    []map[string]bool
	tmp       int
}

func (l *lowerer) push() { l.scopes = append(l.scopes, map[string]bool{}) }
func (l *lowerer) pop()  { l.scopes = l.scopes[:len(l.scopes)-1] }
func (l *lowerer) fresh(hint string) string {
	l.tmp++
	return fmt.Sprintf("$%s%d", hint, l.tmp)
}

func (l *lowerer) declare(name string) {
	l.scopes[len(l.scopes)-1][name] = true
}

func (l *lowerer) declared(name string) bool {
	_, ok := l.declaredAt(name)
	return ok
}

// declaredAt returns the innermost scope index binding name. Scope 0 is the
// module frame; the last scope is the function being lowered.
func (l *lowerer) declaredAt(name string) (int, bool) {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		if l.scopes[i][name] {
			return i, true
		}
	}
	return 0, false
}

// captured reports whether scope index i belongs to an enclosing function.
// Closures capture such bindings by value, so assigning through them is
// rejected during lowering rather than left to diverge at run time.
func (l *lowerer) captured(i int) bool {
	return i != 0 && i != len(l.scopes)-1
}

func spanOf(n syntax.Node) sem.Span {
	start, _ := n.Span()
	return sem.Span{Line: start.Line, Col: start.Col}
}

func bat(n syntax.Node) base { return base{Span: spanOf(n)} }

func identName(e syntax.Expr) string {
	if id, ok := e.(*syntax.Ident); ok {
		return id.Name
	}
	return ""
}

func unparen(e syntax.Expr) syntax.Expr {
	if p, ok := e.(*syntax.ParenExpr); ok {
		return unparen(p.X)
	}
	return e
}

func (l *lowerer) stmts(in []syntax.Stmt) ([]Stmt, error) {
	var out []Stmt
	for _, s := range in {
		lowered, err := l.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, lowered...)
	}
	return out, nil
}

func (l *lowerer) block(in []syntax.Stmt, at syntax.Node) (*Block, error) {
	stmts, err := l.stmts(in)
	if err != nil {
		return nil, err
	}
	return &Block{base: bat(at), Stmts: stmts}, nil
}

func (l *lowerer) stmt(s syntax.Stmt) ([]Stmt, error) {
	switch v := s.(type) {
	case *syntax.AssignStmt:
		return l.assign(v)
	case *syntax.ExprStmt:
		return l.exprStmt(v)
	case *syntax.IfStmt:
		test, err := l.expr(v.Cond)
		if err != nil {
			return nil, err
		}
		then, err := l.block(v.True, v)
		if err != nil {
			return nil, err
		}
		var els Stmt
		if len(v.False) > 0 {
			fb, err := l.block(v.False, v)
			if err != nil {
				return nil, err
			}
			els = fb
		}
		return []Stmt{&If{base: bat(v), Test: test, Then: then, Else: els}}, nil
	case *syntax.WhileStmt:
		test, err := l.expr(v.Cond)
		if err != nil {
			return nil, err
		}
		body, err := l.block(v.Body, v)
		if err != nil {
			return nil, err
		}
		return []Stmt{&While{base: bat(v), Test: test, Body: body}}, nil
	case *syntax.ForStmt:
		return l.forLoop(v)
	case *syntax.BranchStmt:
		switch v.Token {
		case syntax.BREAK:
			return []Stmt{&Break{base: bat(v)}}, nil
		case syntax.CONTINUE:
			return []Stmt{&Continue{base: bat(v)}}, nil
		case syntax.PASS:
			return nil, nil
		}
		return nil, fmt.Errorf("%s: unhandled branch statement", spanOf(v))
	case *syntax.ReturnStmt:
		var x Expr
		if v.Result != nil {
			var err error
			x, err = l.expr(v.Result)
			if err != nil {
				return nil, err
			}
		}
		return []Stmt{&Return{base: bat(v), X: x}}, nil
	case *syntax.DefStmt:
		// Nested function definition lowers to a binding holding a closure.
		fn, err := l.funcLit(v.Name.Name, v.Params, v.Body, spanOf(v))
		if err != nil {
			return nil, err
		}
		l.declare(v.Name.Name)
		return []Stmt{&Let{base: bat(v), Name: v.Name.Name, Mode: ModeExclusive, Init: fn}}, nil
	case *syntax.LoadStmt:
		return nil, fmt.Errorf("%s: module loading is resolved upstream of the execution core", spanOf(v))
	default:
		return nil, fmt.Errorf("%s: unhandled statement type %T", spanOf(s), s)
	}
}

var augOps = map[syntax.Token]sem.BinOp{
	syntax.PLUS_EQ:    sem.OpAdd,
	syntax.MINUS_EQ:   sem.OpSub,
	syntax.STAR_EQ:    sem.OpMul,
	syntax.SLASH_EQ:   sem.OpDiv,
	syntax.PERCENT_EQ: sem.OpMod,
}

func (l *lowerer) assign(v *syntax.AssignStmt) ([]Stmt, error) {
	lhs := unparen(v.LHS)

	// Augmented assignment desugars to a plain binary + assign.
	rhsExpr := v.RHS
	var rhs Expr
	var err error
	if v.Op != syntax.EQ {
		cur, err := l.expr(lhs)
		if err != nil {
			return nil, err
		}
		r, err := l.expr(rhsExpr)
		if err != nil {
			return nil, err
		}
		if v.Op == syntax.SLASHSLASH_EQ {
			rhs = &BuiltinCall{base: bat(v), Name: "idiv", Args: []Expr{cur, r}}
		} else {
			op, ok := augOps[v.Op]
			if !ok {
				return nil, fmt.Errorf("%s: unsupported augmented assignment %s", spanOf(v), v.Op)
			}
			rhs = &Binary{base: bat(v), Op: op, X: cur, Y: r}
		}
	} else {
		rhs, err = l.expr(rhsExpr)
		if err != nil {
			return nil, err
		}
	}

	switch target := lhs.(type) {
	case *syntax.Ident:
		if i, ok := l.declaredAt(target.Name); ok {
			if l.captured(i) {
				return nil, fmt.Errorf("%s: cannot assign to captured name %q", spanOf(v), target.Name)
			}
			return []Stmt{&Assign{base: bat(v), Name: target.Name, Val: rhs}}, nil
		}
		l.declare(target.Name)
		return []Stmt{&Let{base: bat(v), Name: target.Name, Mode: ModeExclusive, Init: rhs}}, nil
	case *syntax.IndexExpr:
		return l.indexAssign(target, rhs, spanOf(v))
	default:
		return nil, fmt.Errorf("%s: cannot assign to %T", spanOf(v), lhs)
	}
}

// indexAssign rewrites nested index paths through temporaries so both
// engines only ever see one index level over a named binding.
func (l *lowerer) indexAssign(target *syntax.IndexExpr, rhs Expr, span sem.Span) ([]Stmt, error) {
	idx, err := l.expr(target.Y)
	if err != nil {
		return nil, err
	}
	b := base{Span: span}
	switch x := unparen(target.X).(type) {
	case *syntax.Ident:
		if i, ok := l.declaredAt(x.Name); ok && l.captured(i) {
			return nil, fmt.Errorf("%s: cannot assign through captured name %q", span, x.Name)
		}
		return []Stmt{&IndexAssign{base: b, Name: x.Name, Idx: idx, Val: rhs}}, nil
	case *syntax.IndexExpr:
		tmp := l.fresh("t")
		l.declare(tmp)
		inner, err := l.expr(target.X)
		if err != nil {
			return nil, err
		}
		out := []Stmt{
			&Let{base: b, Name: tmp, Mode: ModeExclusive, Init: inner},
			&IndexAssign{base: b, Name: tmp, Idx: idx, Val: rhs},
		}
		rest, err := l.indexAssign(x, &Ident{base: b, Name: tmp}, span)
		if err != nil {
			return nil, err
		}
		return append(out, rest...), nil
	default:
		return nil, fmt.Errorf("%s: cannot assign through %T", span, target.X)
	}
}

// exprStmt handles the statement-position rewrite for mutating calls whose
// receiver is an index path: the receiver is loaded into a temporary, the
// call writes back to the temporary, and the temporary is stored back
// through the index.
func (l *lowerer) exprStmt(v *syntax.ExprStmt) ([]Stmt, error) {
	if call, ok := unparen(v.X).(*syntax.CallExpr); ok {
		var recvExpr syntax.Expr
		if dot, ok := call.Fn.(*syntax.DotExpr); ok {
			recvExpr = unparen(dot.X)
		} else if id, ok := call.Fn.(*syntax.Ident); ok && !l.declared(id.Name) && !l.defs[id.Name] && l.isBuiltin(id.Name) && len(call.Args) > 0 {
			recvExpr = unparen(call.Args[0])
		}
		if ix, ok := recvExpr.(*syntax.IndexExpr); ok {
			return l.rewriteIndexReceiver(call, ix, v)
		}
	}
	x, err := l.expr(v.X)
	if err != nil {
		return nil, err
	}
	return []Stmt{&ExprStmt{base: bat(v), X: x}}, nil
}

func (l *lowerer) rewriteIndexReceiver(call *syntax.CallExpr, ix *syntax.IndexExpr, at syntax.Node) ([]Stmt, error) {
	b := bat(at)
	tmp := l.fresh("recv")
	l.declare(tmp)

	loaded, err := l.expr(ix)
	if err != nil {
		return nil, err
	}

	var name string
	var rest []syntax.Expr
	if dot, ok := call.Fn.(*syntax.DotExpr); ok {
		name = dot.Name.Name
		rest = call.Args
	} else {
		name = call.Fn.(*syntax.Ident).Name
		rest = call.Args[1:]
	}
	args := []Expr{&Ident{base: b, Name: tmp}}
	for _, a := range rest {
		la, err := l.expr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, la)
	}

	out := []Stmt{
		&Let{base: b, Name: tmp, Mode: ModeExclusive, Init: loaded},
		&ExprStmt{base: b, X: &BuiltinCall{base: b, Name: name, Args: args, Recv: tmp}},
	}
	store, err := l.indexAssign(ix, &Ident{base: b, Name: tmp}, b.Span)
	if err != nil {
		return nil, err
	}
	return append(out, store...), nil
}

// forLoop desugars iteration into the counted-loop primitive. The index
// increments at the top of the loop so `continue` cannot skip it.
func (l *lowerer) forLoop(v *syntax.ForStmt) ([]Stmt, error) {
	varIdent, ok := v.Vars.(*syntax.Ident)
	if !ok {
		return nil, fmt.Errorf("%s: only single-variable iteration is supported", spanOf(v))
	}
	b := bat(v)

	seqExpr, err := l.expr(v.X)
	if err != nil {
		return nil, err
	}
	seq := l.fresh("seq")
	idx := l.fresh("i")
	l.declare(seq)
	l.declare(idx)

	var bindLoopVar Stmt
	loopVal := &Index{base: b, X: &Ident{base: b, Name: seq}, Idx: &Ident{base: b, Name: idx}}
	if l.declared(varIdent.Name) {
		bindLoopVar = &Assign{base: b, Name: varIdent.Name, Val: loopVal}
	} else {
		l.declare(varIdent.Name)
		bindLoopVar = &Let{base: b, Name: varIdent.Name, Mode: ModeExclusive, Init: loopVal}
	}

	body, err := l.stmts(v.Body)
	if err != nil {
		return nil, err
	}

	inc := &Assign{base: b, Name: idx, Val: &Binary{
		base: b, Op: sem.OpAdd,
		X: &Ident{base: b, Name: idx},
		Y: &Lit{base: b, Val: value.Num(1)},
	}}
	exit := &If{base: b,
		Test: &Binary{base: b, Op: sem.OpGe,
			X: &Ident{base: b, Name: idx},
			Y: &BuiltinCall{base: b, Name: "len", Args: []Expr{&Ident{base: b, Name: seq}}},
		},
		Then: &Block{base: b, Stmts: []Stmt{&Break{base: b}}},
	}

	loopBody := &Block{base: b}
	loopBody.Stmts = append(loopBody.Stmts, inc, exit, bindLoopVar)
	loopBody.Stmts = append(loopBody.Stmts, body...)

	return []Stmt{
		&Let{base: b, Name: seq, Mode: ModeExclusive,
			Init: &BuiltinCall{base: b, Name: "iterseq", Args: []Expr{seqExpr}}},
		&Let{base: b, Name: idx, Mode: ModeExclusive, Init: &Lit{base: b, Val: value.Num(-1)}},
		&While{base: b, Test: &Lit{base: b, Val: value.True}, Body: loopBody},
	}, nil
}

func (l *lowerer) funcLit(name string, params []syntax.Expr, body []syntax.Stmt, span sem.Span) (*FuncLit, error) {
	l.push()
	defer l.pop()

	var ps []Param
	for _, p := range params {
		id, ok := p.(*syntax.Ident)
		if !ok {
			return nil, fmt.Errorf("%s: unsupported parameter form %T", span, p)
		}
		ps = append(ps, Param{Name: id.Name, Mode: ModeBorrowed})
		l.declare(id.Name)
	}
	stmts, err := l.stmts(body)
	if err != nil {
		return nil, err
	}
	return &FuncLit{
		base:   base{Span: span},
		Name:   name,
		Params: ps,
		Body:   &Block{base: base{Span: span}, Stmts: stmts},
	}, nil
}

var binOps = map[syntax.Token]sem.BinOp{
	syntax.PLUS:     sem.OpAdd,
	syntax.MINUS:    sem.OpSub,
	syntax.STAR:     sem.OpMul,
	syntax.SLASH:    sem.OpDiv,
	syntax.PERCENT:  sem.OpMod,
	syntax.STARSTAR: sem.OpPow,
	syntax.EQL:      sem.OpEq,
	syntax.NEQ:      sem.OpNe,
	syntax.LT:       sem.OpLt,
	syntax.LE:       sem.OpLe,
	syntax.GT:       sem.OpGt,
	syntax.GE:       sem.OpGe,
	syntax.IN:       sem.OpIn,
	syntax.AND:      sem.OpAnd,
	syntax.OR:       sem.OpOr,
}

func (l *lowerer) expr(e syntax.Expr) (Expr, error) {
	switch v := unparen(e).(type) {
	case *syntax.Literal:
		val, err := litValue(v)
		if err != nil {
			return nil, err
		}
		return &Lit{base: bat(v), Val: val}, nil
	case *syntax.Ident:
		switch v.Name {
		case "True":
			return &Lit{base: bat(v), Val: value.True}, nil
		case "False":
			return &Lit{base: bat(v), Val: value.False}, nil
		case "None":
			return &Lit{base: bat(v), Val: value.NullValue}, nil
		}
		return &Ident{base: bat(v), Name: v.Name}, nil
	case *syntax.UnaryExpr:
		x, err := l.expr(v.X)
		if err != nil {
			return nil, err
		}
		switch v.Op {
		case syntax.MINUS:
			return &Unary{base: bat(v), Op: sem.OpNeg, X: x}, nil
		case syntax.PLUS:
			return x, nil
		case syntax.NOT:
			return &Unary{base: bat(v), Op: sem.OpNot, X: x}, nil
		default:
			return nil, fmt.Errorf("%s: unsupported unary operator %s", spanOf(v), v.Op)
		}
	case *syntax.BinaryExpr:
		x, err := l.expr(v.X)
		if err != nil {
			return nil, err
		}
		y, err := l.expr(v.Y)
		if err != nil {
			return nil, err
		}
		if v.Op == syntax.NOT_IN {
			in := &Binary{base: bat(v), Op: sem.OpIn, X: x, Y: y}
			return &Unary{base: bat(v), Op: sem.OpNot, X: in}, nil
		}
		if v.Op == syntax.SLASHSLASH {
			// Integer division is a builtin so zero divisors raise E_DIV_ZERO.
			return &BuiltinCall{base: bat(v), Name: "idiv", Args: []Expr{x, y}}, nil
		}
		op, ok := binOps[v.Op]
		if !ok {
			return nil, fmt.Errorf("%s: unsupported binary operator %s", spanOf(v), v.Op)
		}
		return &Binary{base: bat(v), Op: op, X: x, Y: y}, nil
	case *syntax.CondExpr:
		test, err := l.expr(v.Cond)
		if err != nil {
			return nil, err
		}
		then, err := l.expr(v.True)
		if err != nil {
			return nil, err
		}
		els, err := l.expr(v.False)
		if err != nil {
			return nil, err
		}
		return &Cond{base: bat(v), Test: test, Then: then, Else: els}, nil
	case *syntax.IndexExpr:
		x, err := l.expr(v.X)
		if err != nil {
			return nil, err
		}
		idx, err := l.expr(v.Y)
		if err != nil {
			return nil, err
		}
		return &Index{base: bat(v), X: x, Idx: idx}, nil
	case *syntax.SliceExpr:
		if v.Step != nil {
			return nil, fmt.Errorf("%s: stepped slices are unsupported", spanOf(v))
		}
		x, err := l.expr(v.X)
		if err != nil {
			return nil, err
		}
		var lo, hi Expr
		if v.Lo != nil {
			if lo, err = l.expr(v.Lo); err != nil {
				return nil, err
			}
		}
		if v.Hi != nil {
			if hi, err = l.expr(v.Hi); err != nil {
				return nil, err
			}
		}
		return &SliceExpr{base: bat(v), X: x, Lo: lo, Hi: hi}, nil
	case *syntax.ListExpr:
		elems := make([]Expr, 0, len(v.List))
		for _, el := range v.List {
			le, err := l.expr(el)
			if err != nil {
				return nil, err
			}
			elems = append(elems, le)
		}
		return &ArrayLit{base: bat(v), Elems: elems}, nil
	case *syntax.DictExpr:
		ml := &MapLit{base: bat(v)}
		for _, entry := range v.List {
			de, ok := entry.(*syntax.DictEntry)
			if !ok {
				return nil, fmt.Errorf("%s: malformed dict entry %T", spanOf(v), entry)
			}
			k, err := l.expr(de.Key)
			if err != nil {
				return nil, err
			}
			val, err := l.expr(de.Value)
			if err != nil {
				return nil, err
			}
			ml.Keys = append(ml.Keys, k)
			ml.Vals = append(ml.Vals, val)
		}
		return ml, nil
	case *syntax.LambdaExpr:
		span := spanOf(v)
		l.push()
		var ps []Param
		for _, p := range v.Params {
			id, ok := p.(*syntax.Ident)
			if !ok {
				l.pop()
				return nil, fmt.Errorf("%s: unsupported parameter form %T", span, p)
			}
			ps = append(ps, Param{Name: id.Name, Mode: ModeBorrowed})
			l.declare(id.Name)
		}
		bodyExpr, err := l.expr(v.Body)
		l.pop()
		if err != nil {
			return nil, err
		}
		body := &Block{base: base{Span: span}, Stmts: []Stmt{&Return{base: base{Span: span}, X: bodyExpr}}}
		return &FuncLit{base: base{Span: span}, Params: ps, Body: body}, nil
	case *syntax.CallExpr:
		return l.call(v)
	default:
		return nil, fmt.Errorf("%s: unhandled expression type %T", spanOf(e), e)
	}
}

func (l *lowerer) call(v *syntax.CallExpr) (Expr, error) {
	// Method-call syntax: receiver becomes the first builtin argument.
	if dot, ok := callFn(v); ok {
		args := []Expr{}
		recvX := unparen(dot.X)
		rx, err := l.expr(recvX)
		if err != nil {
			return nil, err
		}
		args = append(args, rx)
		for _, a := range v.Args {
			la, err := l.expr(a)
			if err != nil {
				return nil, err
			}
			args = append(args, la)
		}
		return &BuiltinCall{base: bat(v), Name: dot.Name.Name, Args: args, Recv: identName(recvX)}, nil
	}

	args := make([]Expr, 0, len(v.Args))
	for _, a := range v.Args {
		la, err := l.expr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, la)
	}

	if id, ok := unparen(v.Fn).(*syntax.Ident); ok {
		if !l.declared(id.Name) && !l.defs[id.Name] && l.isBuiltin(id.Name) {
			recv := ""
			if len(v.Args) > 0 {
				recv = identName(unparen(v.Args[0]))
			}
			return &BuiltinCall{base: bat(v), Name: id.Name, Args: args, Recv: recv}, nil
		}
	}

	callee, err := l.expr(v.Fn)
	if err != nil {
		return nil, err
	}
	return &Call{base: bat(v), Callee: callee, Args: args}, nil
}

func callFn(v *syntax.CallExpr) (*syntax.DotExpr, bool) {
	dot, ok := unparen(v.Fn).(*syntax.DotExpr)
	return dot, ok
}

func litValue(v *syntax.Literal) (value.Value, error) {
	switch raw := v.Value.(type) {
	case int64:
		return value.Num(float64(raw)), nil
	case float64:
		return value.Num(raw), nil
	case string:
		return value.Str(raw), nil
	default:
		return nil, fmt.Errorf("%s: unsupported literal type %T", spanOf(v), v.Value)
	}
}
