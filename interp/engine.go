// Package interp is the tree-walking engine. It executes the primitive AST
// directly and consults the dispatch registry for every builtin, so its
// observable behavior is defined entirely by the ast shape and the shared
// semantics core. The bytecode engine must agree with it on every program.
package interp

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/strand-lang/strand/lang"
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/task"
	"github.com/strand-lang/strand/value"
)

type Engine struct {
	reg  *sem.Registry
	out  io.Writer
	caps sem.Caps
	pool *task.Pool
}

type Options struct {
	Out  io.Writer
	Caps sem.Caps
	Pool *task.Pool
}

func New(reg *sem.Registry, opts Options) *Engine {
	return &Engine{reg: reg, out: opts.Out, caps: opts.Caps, pool: opts.Pool}
}

// Run executes a program and returns the value of a top-level return, or
// null when the main block falls off the end.
func (e *Engine) Run(prog *lang.Program) (value.Value, error) {
	r := &run{eng: e, prog: prog, globals: newEnv(nil)}
	log.Trace().Str("path", prog.Path).Int("decls", len(prog.Decls)).Msg("interp run")

	sig, out, err := r.execBlock(prog.Main, r.globals)
	if err != nil {
		return nil, err
	}
	if sig == sigReturn {
		return out, nil
	}
	return value.NullValue, nil
}

// run is one execution of one program: the globals frame plus the program's
// declaration table. decls caches resolved declarations; they close over the
// live globals frame, so one Fn per name per run is enough.
type run struct {
	eng     *Engine
	prog    *lang.Program
	globals *env
	decls   map[string]value.Fn
}

// closure is the engine-private payload of a value.Fn: the function body and
// its defining frame.
type closure struct {
	fn  *lang.FuncLit
	env *env
}

func (r *run) fnValue(fn *lang.FuncLit, defined *env) value.Fn {
	return value.Fn{Name: fn.Name, Arity: len(fn.Params), Impl: &closure{fn: fn, env: r.capture(defined)}}
}

// capture freezes the local frames at closure creation. Captures are by
// value, matching the bytecode engine's closure cells; the globals frame
// stays live underneath so both engines see later global rebinds.
func (r *run) capture(defined *env) *env {
	if defined == r.globals {
		return defined
	}
	flat := newEnv(r.globals)
	for s := defined; s != nil && s != r.globals; s = s.parent {
		for name, v := range s.vars {
			if _, shadowed := flat.vars[name]; !shadowed {
				flat.vars[name] = v.Clone()
			}
		}
	}
	return flat
}

// apply invokes any callable value synchronously: engine closures, declared
// functions and host natives.
func (r *run) apply(callee value.Value, args []value.Value, span sem.Span) (value.Value, error) {
	switch f := callee.(type) {
	case value.Fn:
		cl, ok := f.Impl.(*closure)
		if !ok {
			return nil, sem.Errf(sem.CodeType, span, "function %q belongs to another engine", f.Name)
		}
		if len(args) != len(cl.fn.Params) {
			return nil, sem.Errf(sem.CodeArity, span, "%s takes %d arguments, got %d", f.Name, len(cl.fn.Params), len(args))
		}
		frame := newEnv(cl.env)
		for i, p := range cl.fn.Params {
			frame.define(p.Name, args[i])
		}
		sig, out, err := r.execBlock(cl.fn.Body, frame)
		if err != nil {
			return nil, err
		}
		if sig == sigReturn {
			return out, nil
		}
		return value.NullValue, nil
	case value.Native:
		return f.F(args)
	case value.Builtin:
		out, _, err := r.eng.reg.Call(r.callCtx(span), f.Name, args)
		return out, err
	default:
		return nil, sem.Errf(sem.CodeType, span, "%s is not callable", callee.Kind())
	}
}

func (r *run) callCtx(span sem.Span) *sem.CallCtx {
	return &sem.CallCtx{
		Caps: r.eng.caps,
		Out:  r.eng.out,
		Span: span,
		Apply: func(fn value.Value, args []value.Value) (value.Value, error) {
			return r.apply(fn, args, span)
		},
		Detach: r.detach,
	}
}

// detach schedules a callable onto the worker pool against an isolated
// snapshot of the current globals. The child run shares the capability set
// and the output sink but no mutable state; only shared cells and channels
// cross the boundary.
func (r *run) detach(fn value.Value, args []value.Value) (value.Task, error) {
	if r.eng.pool == nil {
		return value.Task{}, sem.Errf(sem.CodeCaps, sem.Span{}, "no worker pool in this session")
	}
	child := &run{eng: r.eng, prog: r.prog, globals: r.globals.snapshot()}

	// Rebase closures onto the snapshot so the task cannot reach the parent's
	// frames through a captured environment. Captured bindings travel with
	// the closure; they are by-value snapshots already.
	if f, ok := fn.(value.Fn); ok {
		if cl, ok := f.Impl.(*closure); ok {
			env := child.globals
			if cl.env != r.globals {
				env = newEnv(child.globals)
				for name, v := range cl.env.vars {
					env.vars[name] = v.Clone()
				}
			}
			fn = value.Fn{Name: f.Name, Arity: f.Arity, Impl: &closure{fn: cl.fn, env: env}}
		}
	}
	owned := make([]value.Value, len(args))
	for i, a := range args {
		owned[i] = a.Clone()
	}
	t := r.eng.pool.Go(func(ctx context.Context) (value.Value, error) {
		return child.apply(fn, owned, sem.Span{})
	})
	return t, nil
}
