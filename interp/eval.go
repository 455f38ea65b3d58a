package interp

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/strand-lang/strand/lang"
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

// signal is statement-level control flow. It is threaded as a return value,
// never as a panic or error.
type signal uint8

const (
	sigNone signal = iota
	sigBreak
	sigContinue
	sigReturn
)

func (r *run) execBlock(b *lang.Block, frame *env) (signal, value.Value, error) {
	for _, s := range b.Stmts {
		sig, out, err := r.execStmt(s, frame)
		if err != nil || sig != sigNone {
			return sig, out, err
		}
	}
	return sigNone, nil, nil
}

func (r *run) execStmt(s lang.Stmt, frame *env) (signal, value.Value, error) {
	log.Trace().Str("node", fmt.Sprintf("%T", s)).Int32("line", s.Pos().Line).Msg("interp step")
	switch v := s.(type) {
	case *lang.Let:
		init, err := r.eval(v.Init, frame)
		if err != nil {
			return sigNone, nil, err
		}
		if v.Mode == lang.ModeShared {
			init = value.NewShared(init)
		}
		frame.define(v.Name, init)
		return sigNone, nil, nil
	case *lang.Assign:
		val, err := r.eval(v.Val, frame)
		if err != nil {
			return sigNone, nil, err
		}
		if !frame.assign(v.Name, val) {
			val.Release()
			return sigNone, nil, sem.Errf(sem.CodeUndefined, v.Pos(), "undefined name %q", v.Name)
		}
		return sigNone, nil, nil
	case *lang.IndexAssign:
		return sigNone, nil, r.execIndexAssign(v, frame)
	case *lang.ExprStmt:
		out, err := r.eval(v.X, frame)
		if err != nil {
			return sigNone, nil, err
		}
		out.Release()
		return sigNone, nil, nil
	case *lang.If:
		test, err := r.eval(v.Test, frame)
		if err != nil {
			return sigNone, nil, err
		}
		truthy := test.Truthy()
		test.Release()
		if truthy {
			return r.execBlock(v.Then, frame)
		}
		if v.Else != nil {
			return r.execStmt(v.Else, frame)
		}
		return sigNone, nil, nil
	case *lang.While:
		for {
			test, err := r.eval(v.Test, frame)
			if err != nil {
				return sigNone, nil, err
			}
			truthy := test.Truthy()
			test.Release()
			if !truthy {
				return sigNone, nil, nil
			}
			sig, out, err := r.execBlock(v.Body, frame)
			if err != nil {
				return sigNone, nil, err
			}
			switch sig {
			case sigBreak:
				return sigNone, nil, nil
			case sigReturn:
				return sig, out, nil
			}
		}
	case *lang.Break:
		return sigBreak, nil, nil
	case *lang.Continue:
		return sigContinue, nil, nil
	case *lang.Return:
		if v.X == nil {
			return sigReturn, value.NullValue, nil
		}
		out, err := r.eval(v.X, frame)
		if err != nil {
			return sigNone, nil, err
		}
		return sigReturn, out, nil
	case *lang.Block:
		return r.execBlock(v, frame)
	case *lang.FuncDecl:
		frame.define(v.Name, r.fnValue(v.Fn, frame))
		return sigNone, nil, nil
	default:
		return sigNone, nil, sem.Errf(sem.CodeType, s.Pos(), "unhandled statement %T", s)
	}
}

// execIndexAssign move-loads the binding, routes through the shared
// copy-on-write path, and stores the updated collection back. Index and
// value are evaluated before the move so they cannot observe the gap.
func (r *run) execIndexAssign(v *lang.IndexAssign, frame *env) error {
	idx, err := r.eval(v.Idx, frame)
	if err != nil {
		return err
	}
	val, err := r.eval(v.Val, frame)
	if err != nil {
		idx.Release()
		return err
	}
	recv, slot, ok := frame.take(v.Name)
	if !ok {
		idx.Release()
		val.Release()
		return sem.Errf(sem.CodeUndefined, v.Pos(), "undefined name %q", v.Name)
	}
	out, err := sem.SetIndex(recv, idx, val, v.Pos())
	idx.Release()
	if err != nil {
		// The receiver handle is unchanged on error; restore it.
		slot.put(v.Name, recv)
		val.Release()
		return err
	}
	slot.put(v.Name, out)
	return nil
}

func (r *run) eval(e lang.Expr, frame *env) (value.Value, error) {
	switch v := e.(type) {
	case *lang.Lit:
		return v.Val.Clone(), nil
	case *lang.Ident:
		return r.resolve(v.Name, v.Pos(), frame)
	case *lang.Unary:
		x, err := r.eval(v.X, frame)
		if err != nil {
			return nil, err
		}
		out, err := sem.Unary(v.Op, x, v.Pos())
		x.Release()
		return out, err
	case *lang.Binary:
		return r.evalBinary(v, frame)
	case *lang.Cond:
		test, err := r.eval(v.Test, frame)
		if err != nil {
			return nil, err
		}
		truthy := test.Truthy()
		test.Release()
		if truthy {
			return r.eval(v.Then, frame)
		}
		return r.eval(v.Else, frame)
	case *lang.Index:
		x, err := r.eval(v.X, frame)
		if err != nil {
			return nil, err
		}
		idx, err := r.eval(v.Idx, frame)
		if err != nil {
			x.Release()
			return nil, err
		}
		out, err := sem.Index(x, idx, v.Pos())
		x.Release()
		idx.Release()
		return out, err
	case *lang.SliceExpr:
		x, err := r.eval(v.X, frame)
		if err != nil {
			return nil, err
		}
		lo, hi := value.Value(value.NullValue), value.Value(value.NullValue)
		if v.Lo != nil {
			if lo, err = r.eval(v.Lo, frame); err != nil {
				x.Release()
				return nil, err
			}
		}
		if v.Hi != nil {
			if hi, err = r.eval(v.Hi, frame); err != nil {
				x.Release()
				lo.Release()
				return nil, err
			}
		}
		out, err := sem.Slice(x, lo, hi, v.Pos())
		x.Release()
		lo.Release()
		hi.Release()
		return out, err
	case *lang.ArrayLit:
		elems := make([]value.Value, 0, len(v.Elems))
		for _, el := range v.Elems {
			ev, err := r.eval(el, frame)
			if err != nil {
				for _, done := range elems {
					done.Release()
				}
				return nil, err
			}
			elems = append(elems, ev)
		}
		return value.NewArray(elems...), nil
	case *lang.MapLit:
		m := value.NewMap()
		for i := range v.Keys {
			kv, err := r.eval(v.Keys[i], frame)
			if err != nil {
				m.Release()
				return nil, err
			}
			k, ok := value.KeyOf(kv)
			if !ok {
				kind := kv.Kind()
				kv.Release()
				m.Release()
				return nil, sem.Errf(sem.CodeType, v.Pos(), "%s is not a valid map key", kind)
			}
			kv.Release()
			ev, err := r.eval(v.Vals[i], frame)
			if err != nil {
				m.Release()
				return nil, err
			}
			m = m.WithPut(k, ev)
		}
		return m, nil
	case *lang.Call:
		callee, err := r.eval(v.Callee, frame)
		if err != nil {
			return nil, err
		}
		args := make([]value.Value, 0, len(v.Args))
		for _, a := range v.Args {
			av, err := r.eval(a, frame)
			if err != nil {
				for _, done := range args {
					done.Release()
				}
				return nil, err
			}
			args = append(args, av)
		}
		return r.apply(callee, args, v.Pos())
	case *lang.BuiltinCall:
		return r.evalBuiltinCall(v, frame)
	case *lang.FuncLit:
		return r.fnValue(v, frame), nil
	default:
		return nil, sem.Errf(sem.CodeType, e.Pos(), "unhandled expression %T", e)
	}
}

// evalBinary short-circuits and/or with value semantics: `a and b` is a when
// a is falsy, otherwise b. Everything else routes through the semantics core.
func (r *run) evalBinary(v *lang.Binary, frame *env) (value.Value, error) {
	if v.Op == sem.OpAnd || v.Op == sem.OpOr {
		x, err := r.eval(v.X, frame)
		if err != nil {
			return nil, err
		}
		if (v.Op == sem.OpAnd) != x.Truthy() {
			return x, nil
		}
		x.Release()
		return r.eval(v.Y, frame)
	}

	x, err := r.eval(v.X, frame)
	if err != nil {
		return nil, err
	}
	y, err := r.eval(v.Y, frame)
	if err != nil {
		x.Release()
		return nil, err
	}
	out, err := sem.Binary(v.Op, x, y, v.Pos())
	x.Release()
	y.Release()
	return out, err
}

// evalBuiltinCall dispatches through the registry. When the entry mutates
// and the receiver is a named binding, the receiver is move-loaded so a sole
// owner mutates in place, and the returned receiver is written back.
func (r *run) evalBuiltinCall(v *lang.BuiltinCall, frame *env) (value.Value, error) {
	args := make([]value.Value, 0, len(v.Args))
	for _, a := range v.Args {
		av, err := r.eval(a, frame)
		if err != nil {
			for _, done := range args {
				done.Release()
			}
			return nil, err
		}
		args = append(args, av)
	}

	var slot *env
	if v.Recv != "" && len(args) > 0 {
		if entry, ok := r.eng.reg.Lookup(args[0].Kind(), v.Name); ok && entry.Mutates {
			// Only the invocation frame and the globals are writable; a
			// receiver captured from an enclosing function is a by-value
			// snapshot, so its mutation stays with the call result.
			if moved, where, ok := frame.take(v.Recv); ok && (where == frame || where == r.globals) {
				args[0].Release()
				args[0] = moved
				slot = where
			}
		}
	}

	out, recv, err := r.eng.reg.Call(r.callCtx(v.Pos()), v.Name, args)
	if err != nil {
		if slot != nil {
			// The move already happened; restore the binding with the old
			// handle so the frame stays consistent after the error.
			slot.put(v.Recv, args[0])
		}
		return nil, err
	}
	if recv != nil {
		if slot != nil {
			slot.put(v.Recv, recv)
		} else {
			// No writable binding: the receiver was an expression, a shared
			// cell, or a captured snapshot. The new receiver has nowhere to go.
			recv.Release()
		}
	} else if slot != nil {
		// Shared receivers mutate through the cell; the moved handle is still
		// the binding's value.
		slot.put(v.Recv, args[0])
	}
	return out, nil
}

// resolve implements the shared name resolution order: frames, then declared
// functions, then the registry.
func (r *run) resolve(name string, span sem.Span, frame *env) (value.Value, error) {
	if v, ok := frame.get(name); ok {
		return v, nil
	}
	if d, ok := r.prog.Decl(name); ok {
		fn, hit := r.decls[name]
		if !hit {
			fn = r.fnValue(d.Fn, r.globals)
			if r.decls == nil {
				r.decls = make(map[string]value.Fn)
			}
			r.decls[name] = fn
		}
		return fn, nil
	}
	if r.eng.reg.Has(name) {
		return value.Builtin{Name: name}, nil
	}
	return nil, sem.Errf(sem.CodeUndefined, span, "undefined name %q", name)
}
