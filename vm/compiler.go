package vm

import (
	"fmt"
	"math"

	"github.com/strand-lang/strand/lang"
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

const placeholder = 0xFFFF

// Compiler turns a primitive AST into a Program. It is single-use.
type Compiler struct {
	reg      *sem.Registry
	consts   []value.Value
	interned map[constKey]int
	globals  *symtab
}

type constKey struct {
	kind value.Kind
	num  float64
	str  string
}

// Compile builds an immutable Program. The registry is consulted only to
// classify free names; all dispatch stays a runtime concern.
func Compile(prog *lang.Program, reg *sem.Registry) (*Program, error) {
	c := &Compiler{reg: reg, interned: make(map[constKey]int), globals: newSymtab(nil)}

	// Declared functions occupy global slots before any body compiles, so
	// forward references resolve. Main's bindings are hoisted the same way:
	// a declaration may reference them, and a call before the binding runs
	// fails at run time exactly like an unbound name.
	for _, d := range prog.Decls {
		c.globals.define(d.Name)
	}
	hoistLets(prog.Main, c.globals)

	main := &funcCompiler{c: c, syms: c.globals}
	for _, d := range prog.Decls {
		fnIdx, _, err := c.compileFunc(d.Fn, c.globals, d.Name)
		if err != nil {
			return nil, err
		}
		sym, _ := c.globals.resolve(d.Name)
		main.code = emit(main.code, OpClosure, fnIdx, 0)
		main.code = emit(main.code, OpSetGlobal, sym.Index)
	}
	if err := main.block(prog.Main); err != nil {
		return nil, err
	}
	main.code = emit(main.code, OpHalt)

	return &Program{
		Consts:      c.consts,
		Main:        &CompiledFn{Name: "main", Code: main.code},
		GlobalNames: c.globals.order,
	}, nil
}

// hoistLets pre-defines every name bound by the block, including bindings
// nested in conditionals and loops. Slot order still follows first textual
// binding, so later define calls reuse the hoisted slots.
func hoistLets(b *lang.Block, st *symtab) {
	for _, s := range b.Stmts {
		switch v := s.(type) {
		case *lang.Let:
			st.define(v.Name)
		case *lang.FuncDecl:
			st.define(v.Name)
		case *lang.If:
			hoistLets(v.Then, st)
			if sub, ok := v.Else.(*lang.Block); ok {
				hoistLets(sub, st)
			} else if sub, ok := v.Else.(*lang.If); ok {
				hoistLets(&lang.Block{Stmts: []lang.Stmt{sub}}, st)
			}
		case *lang.While:
			hoistLets(v.Body, st)
		case *lang.Block:
			hoistLets(v, st)
		}
	}
}

func (c *Compiler) addConst(v value.Value) (int, error) {
	var key constKey
	switch t := v.(type) {
	case value.Num:
		key = constKey{kind: value.KindNum, num: float64(t)}
	case value.Str:
		key = constKey{kind: value.KindStr, str: string(t)}
	case value.Builtin:
		key = constKey{kind: value.KindBuiltin, str: t.Name}
	default:
		return c.appendConst(v)
	}
	if idx, ok := c.interned[key]; ok {
		return idx, nil
	}
	idx, err := c.appendConst(v)
	if err == nil {
		c.interned[key] = idx
	}
	return idx, err
}

func (c *Compiler) appendConst(v value.Value) (int, error) {
	if len(c.consts) >= math.MaxUint16 {
		return 0, fmt.Errorf("constant pool overflow")
	}
	c.consts = append(c.consts, v)
	return len(c.consts) - 1, nil
}

// compileFunc compiles a function literal into a CompiledFn constant and
// returns its pool index plus the symbols it captured from enclosing
// function frames. The caller emits the capture loads before OpClosure.
func (c *Compiler) compileFunc(fn *lang.FuncLit, outer *symtab, name string) (int, []symbol, error) {
	fc := &funcCompiler{c: c, syms: newSymtab(outer)}
	for _, p := range fn.Params {
		fc.syms.define(p.Name)
	}
	if err := fc.block(fn.Body); err != nil {
		return 0, nil, err
	}
	fc.code = emit(fc.code, OpReturnNull)

	compiled := &CompiledFn{
		Name:      name,
		Code:      fc.code,
		NumParams: len(fn.Params),
		NumLocals: fc.syms.numDefs,
		NumFrees:  len(fc.syms.frees),
		Span:      fn.Pos(),
	}
	idx, err := c.appendConst(value.Fn{Name: name, Arity: len(fn.Params), Impl: &closureBody{fn: compiled}})
	return idx, fc.syms.frees, err
}

// funcCompiler holds per-code-object state: the instruction buffer, the
// symbol frame and the loop patch stack.
type funcCompiler struct {
	c     *Compiler
	syms  *symtab
	code  []byte
	loops []*loopCtx
}

type loopCtx struct {
	start    int
	breakPos []int
	contPos  []int
}

func (f *funcCompiler) block(b *lang.Block) error {
	for _, s := range b.Stmts {
		if err := f.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (f *funcCompiler) stmt(s lang.Stmt) error {
	switch v := s.(type) {
	case *lang.Let:
		if err := f.expr(v.Init); err != nil {
			return err
		}
		if v.Mode == lang.ModeShared {
			nameIdx, err := f.c.addConst(value.Str("shared"))
			if err != nil {
				return err
			}
			f.code = emit(f.code, OpCallBuiltin, nameIdx, 1)
		}
		sym := f.syms.define(v.Name)
		f.store(sym)
		return nil
	case *lang.Assign:
		if err := f.expr(v.Val); err != nil {
			return err
		}
		sym, ok := f.syms.resolve(v.Name)
		if !ok {
			return sem.Errf(sem.CodeUndefined, v.Pos(), "undefined name %q", v.Name)
		}
		if sym.Scope == scopeFree {
			return sem.Errf(sem.CodeType, v.Pos(), "cannot assign to captured name %q", v.Name)
		}
		f.store(sym)
		return nil
	case *lang.IndexAssign:
		if err := f.expr(v.Idx); err != nil {
			return err
		}
		if err := f.expr(v.Val); err != nil {
			return err
		}
		sym, ok := f.syms.resolve(v.Name)
		if !ok {
			return sem.Errf(sem.CodeUndefined, v.Pos(), "undefined name %q", v.Name)
		}
		switch sym.Scope {
		case scopeGlobal:
			f.code = emit(f.code, OpIndexAssignGlobal, sym.Index)
		case scopeLocal:
			f.code = emit(f.code, OpIndexAssignLocal, sym.Index)
		default:
			return sem.Errf(sem.CodeType, v.Pos(), "cannot assign through captured name %q", v.Name)
		}
		return nil
	case *lang.ExprStmt:
		if err := f.expr(v.X); err != nil {
			return err
		}
		f.code = emit(f.code, OpPop)
		return nil
	case *lang.If:
		if err := f.expr(v.Test); err != nil {
			return err
		}
		elseJump := f.jump(OpJumpFalse)
		if err := f.block(v.Then); err != nil {
			return err
		}
		if v.Else == nil {
			f.patch(elseJump)
			return nil
		}
		endJump := f.jump(OpJump)
		f.patch(elseJump)
		if err := f.stmt(v.Else); err != nil {
			return err
		}
		f.patch(endJump)
		return nil
	case *lang.While:
		loop := &loopCtx{start: len(f.code)}
		f.loops = append(f.loops, loop)
		if err := f.expr(v.Test); err != nil {
			return err
		}
		exitJump := f.jump(OpJumpFalse)
		if err := f.block(v.Body); err != nil {
			return err
		}
		f.code = emit(f.code, OpJump, loop.start)
		f.patch(exitJump)
		for _, pos := range loop.breakPos {
			f.patch(pos)
		}
		for _, pos := range loop.contPos {
			f.patchTo(pos, loop.start)
		}
		f.loops = f.loops[:len(f.loops)-1]
		return nil
	case *lang.Break:
		if len(f.loops) == 0 {
			return sem.Errf(sem.CodeType, v.Pos(), "break outside loop")
		}
		loop := f.loops[len(f.loops)-1]
		loop.breakPos = append(loop.breakPos, f.jump(OpJump))
		return nil
	case *lang.Continue:
		if len(f.loops) == 0 {
			return sem.Errf(sem.CodeType, v.Pos(), "continue outside loop")
		}
		loop := f.loops[len(f.loops)-1]
		loop.contPos = append(loop.contPos, f.jump(OpJump))
		return nil
	case *lang.Return:
		if v.X == nil {
			f.code = emit(f.code, OpReturnNull)
			return nil
		}
		if err := f.expr(v.X); err != nil {
			return err
		}
		f.code = emit(f.code, OpReturn)
		return nil
	case *lang.Block:
		return f.block(v)
	case *lang.FuncDecl:
		fnIdx, _, err := f.c.compileFunc(v.Fn, f.syms, v.Name)
		if err != nil {
			return err
		}
		// Top-level declarations are hoisted by Compile; this path only
		// handles declarations appearing inside a block.
		f.code = emit(f.code, OpClosure, fnIdx, 0)
		f.store(f.syms.define(v.Name))
		return nil
	default:
		return sem.Errf(sem.CodeType, s.Pos(), "unhandled statement %T", s)
	}
}

func (f *funcCompiler) expr(e lang.Expr) error {
	switch v := e.(type) {
	case *lang.Lit:
		switch t := v.Val.(type) {
		case value.Bool:
			if t {
				f.code = emit(f.code, OpTrue)
			} else {
				f.code = emit(f.code, OpFalse)
			}
			return nil
		case value.Null:
			f.code = emit(f.code, OpNull)
			return nil
		default:
			idx, err := f.c.addConst(v.Val)
			if err != nil {
				return err
			}
			f.code = emit(f.code, OpConst, idx)
			return nil
		}
	case *lang.Ident:
		return f.load(v.Name, v.Pos())
	case *lang.Unary:
		if err := f.expr(v.X); err != nil {
			return err
		}
		f.code = emit(f.code, OpUnary, int(v.Op))
		return nil
	case *lang.Binary:
		if v.Op == sem.OpAnd || v.Op == sem.OpOr {
			if err := f.expr(v.X); err != nil {
				return err
			}
			op := OpJumpFalsePeek
			if v.Op == sem.OpOr {
				op = OpJumpTruePeek
			}
			shortJump := f.jump(op)
			f.code = emit(f.code, OpPop)
			if err := f.expr(v.Y); err != nil {
				return err
			}
			f.patch(shortJump)
			return nil
		}
		if err := f.expr(v.X); err != nil {
			return err
		}
		if err := f.expr(v.Y); err != nil {
			return err
		}
		f.code = emit(f.code, OpBinary, int(v.Op))
		return nil
	case *lang.Cond:
		if err := f.expr(v.Test); err != nil {
			return err
		}
		elseJump := f.jump(OpJumpFalse)
		if err := f.expr(v.Then); err != nil {
			return err
		}
		endJump := f.jump(OpJump)
		f.patch(elseJump)
		if err := f.expr(v.Else); err != nil {
			return err
		}
		f.patch(endJump)
		return nil
	case *lang.Index:
		if err := f.expr(v.X); err != nil {
			return err
		}
		if err := f.expr(v.Idx); err != nil {
			return err
		}
		f.code = emit(f.code, OpIndex)
		return nil
	case *lang.SliceExpr:
		if err := f.expr(v.X); err != nil {
			return err
		}
		if err := f.optExpr(v.Lo); err != nil {
			return err
		}
		if err := f.optExpr(v.Hi); err != nil {
			return err
		}
		f.code = emit(f.code, OpSlice)
		return nil
	case *lang.ArrayLit:
		for _, el := range v.Elems {
			if err := f.expr(el); err != nil {
				return err
			}
		}
		f.code = emit(f.code, OpArray, len(v.Elems))
		return nil
	case *lang.MapLit:
		for i := range v.Keys {
			if err := f.expr(v.Keys[i]); err != nil {
				return err
			}
			if err := f.expr(v.Vals[i]); err != nil {
				return err
			}
		}
		f.code = emit(f.code, OpMap, len(v.Keys))
		return nil
	case *lang.Call:
		if err := f.expr(v.Callee); err != nil {
			return err
		}
		for _, a := range v.Args {
			if err := f.expr(a); err != nil {
				return err
			}
		}
		f.code = emit(f.code, OpCall, len(v.Args))
		return nil
	case *lang.BuiltinCall:
		return f.builtinCall(v)
	case *lang.FuncLit:
		fnIdx, frees, err := f.c.compileFunc(v, f.syms, v.Name)
		if err != nil {
			return err
		}
		// Captures load in recording order so OpClosure finds them on the
		// stack.
		for _, free := range frees {
			f.loadSymbol(free)
		}
		f.code = emit(f.code, OpClosure, fnIdx, len(frees))
		return nil
	default:
		return sem.Errf(sem.CodeType, e.Pos(), "unhandled expression %T", e)
	}
}

// builtinCall emits the dispatch instruction. A named receiver that resolves
// to a slot is move-loaded and the write-back variant is emitted; whether a
// write-back actually happens is the registry's runtime decision.
func (f *funcCompiler) builtinCall(v *lang.BuiltinCall) error {
	nameIdx, err := f.c.addConst(value.Str(v.Name))
	if err != nil {
		return err
	}

	var recvSym symbol
	moved := false
	if v.Recv != "" && len(v.Args) > 0 {
		if id, ok := v.Args[0].(*lang.Ident); ok && id.Name == v.Recv {
			if sym, ok := f.syms.resolve(v.Recv); ok && sym.Scope != scopeFree {
				recvSym = sym
				moved = true
			}
		}
	}

	args := v.Args
	if moved {
		if recvSym.Scope == scopeGlobal {
			f.code = emit(f.code, OpMoveGlobal, recvSym.Index)
		} else {
			f.code = emit(f.code, OpMoveLocal, recvSym.Index)
		}
		args = args[1:]
	}
	for _, a := range args {
		if err := f.expr(a); err != nil {
			return err
		}
	}
	switch {
	case moved && recvSym.Scope == scopeGlobal:
		f.code = emit(f.code, OpCallBuiltinGlobal, nameIdx, len(v.Args), recvSym.Index)
	case moved:
		f.code = emit(f.code, OpCallBuiltinLocal, nameIdx, len(v.Args), recvSym.Index)
	default:
		f.code = emit(f.code, OpCallBuiltin, nameIdx, len(v.Args))
	}
	return nil
}

func (f *funcCompiler) optExpr(e lang.Expr) error {
	if e == nil {
		f.code = emit(f.code, OpNull)
		return nil
	}
	return f.expr(e)
}

func (f *funcCompiler) load(name string, span sem.Span) error {
	if sym, ok := f.syms.resolve(name); ok {
		f.loadSymbol(sym)
		return nil
	}
	if f.c.reg.Has(name) {
		idx, err := f.c.addConst(value.Builtin{Name: name})
		if err != nil {
			return err
		}
		f.code = emit(f.code, OpConst, idx)
		return nil
	}
	return sem.Errf(sem.CodeUndefined, span, "undefined name %q", name)
}

func (f *funcCompiler) loadSymbol(sym symbol) {
	switch sym.Scope {
	case scopeGlobal:
		f.code = emit(f.code, OpGetGlobal, sym.Index)
	case scopeLocal:
		f.code = emit(f.code, OpGetLocal, sym.Index)
	case scopeFree:
		f.code = emit(f.code, OpGetFree, sym.Index)
	}
}

func (f *funcCompiler) store(sym symbol) {
	if sym.Scope == scopeGlobal {
		f.code = emit(f.code, OpSetGlobal, sym.Index)
	} else {
		f.code = emit(f.code, OpSetLocal, sym.Index)
	}
}

// jump emits op with a placeholder target and returns the instruction
// position for patching.
func (f *funcCompiler) jump(op Opcode) int {
	pos := len(f.code)
	f.code = emit(f.code, op, placeholder)
	return pos
}

// patch points the jump at pos to the current end of code.
func (f *funcCompiler) patch(pos int) { f.patchTo(pos, len(f.code)) }

func (f *funcCompiler) patchTo(pos, target int) {
	f.code[pos+1] = byte(target >> 8)
	f.code[pos+2] = byte(target)
}
