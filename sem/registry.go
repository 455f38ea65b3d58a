package sem

import (
	"fmt"
	"io"

	"github.com/strand-lang/strand/value"
)

// CallCtx is the per-call context threaded by an engine into every builtin
// invocation. Caps is read-mostly and shared across the whole call tree;
// builtins must not mutate it.
type CallCtx struct {
	Caps Caps
	Out  io.Writer
	Span Span

	// Apply invokes a user callable synchronously in the calling engine.
	Apply func(fn value.Value, args []value.Value) (value.Value, error)

	// Detach schedules a user callable onto the worker pool against an
	// isolated snapshot of the session and returns the task handle.
	Detach func(fn value.Value, args []value.Value) (value.Task, error)
}

// Impl is a builtin body. It returns the call result plus the new receiver
// value when the builtin logically mutates — builtins are pure functions from
// old receiver to new receiver; the engine performs the write-back.
type Impl func(ctx *CallCtx, args []value.Value) (out value.Value, recv value.Value, err error)

// Entry describes one registered builtin: its dispatch key, declared
// contract, and opaque implementation.
type Entry struct {
	Kind     value.Kind // receiver kind, or value.KindAny for free functions
	Name     string
	Arity    int  // argument count including the receiver
	Variadic bool // when set, Arity is the minimum
	Mutates  bool // may return a new receiver for write-back
	Gate     string
	Impl     Impl
}

type dispatchKey struct {
	kind value.Kind
	name string
}

// Registry is the single (receiver kind, name) → implementation table.
// It is populated once at startup by the standard library; both engines
// resolve every builtin and method call through it and never keep tables of
// their own.
type Registry struct {
	entries map[dispatchKey]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[dispatchKey]Entry)}
}

func (r *Registry) Register(e Entry) error {
	k := dispatchKey{kind: e.Kind, name: e.Name}
	if _, dup := r.entries[k]; dup {
		return fmt.Errorf("builtin %q already registered for %s", e.Name, e.Kind)
	}
	r.entries[k] = e
	return nil
}

// MustRegister is for startup population, where a duplicate is a programming
// error.
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Lookup resolves (kind, name), falling back to the kind-agnostic entry.
func (r *Registry) Lookup(kind value.Kind, name string) (Entry, bool) {
	if e, ok := r.entries[dispatchKey{kind: kind, name: name}]; ok {
		return e, true
	}
	e, ok := r.entries[dispatchKey{kind: value.KindAny, name: name}]
	return e, ok
}

// Has reports whether any entry is registered under the name, for any
// receiver kind. The lowering pass uses it to classify calls.
func (r *Registry) Has(name string) bool {
	for k := range r.entries {
		if k.name == name {
			return true
		}
	}
	return false
}

// Call is the one dispatch path. It resolves the entry from the first
// argument's kind, checks arity and capability gate, unwraps Shared
// receivers (applying the mutation inside the cell), and invokes the
// implementation. The second result is the new receiver for the engine's
// write-back step, or nil when none is needed.
func (r *Registry) Call(ctx *CallCtx, name string, args []value.Value) (value.Value, value.Value, error) {
	kind := value.KindAny
	if len(args) > 0 {
		kind = args[0].Kind()
	}

	entry, ok := r.Lookup(kind, name)
	if !ok && kind == value.KindShared {
		// Dispatch on the inner kind; the mutation happens inside the cell.
		sh := args[0].(value.Shared)
		inner := sh.Get()
		entry, ok = r.Lookup(inner.Kind(), name)
		inner.Release()
		if ok {
			if err := r.check(ctx, entry, args); err != nil {
				return nil, nil, err
			}
			var out value.Value
			err := sh.Update(func(cur value.Value) (value.Value, error) {
				cellArgs := append([]value.Value{cur}, args[1:]...)
				res, recv, err := entry.Impl(ctx, cellArgs)
				if err != nil {
					return cur, err
				}
				out = res
				if recv != nil {
					return recv, nil
				}
				return cur, nil
			})
			if err != nil {
				return nil, nil, WithSpan(err, ctx.Span)
			}
			// Aliasing already happened through the cell; nothing to write
			// back into the binding.
			if out == nil {
				out = value.NullValue
			}
			return out, nil, nil
		}
	}
	if !ok {
		return nil, nil, Errf(CodeNoBuiltin, ctx.Span, "no builtin %q for %s", name, kind)
	}
	if err := r.check(ctx, entry, args); err != nil {
		return nil, nil, err
	}
	out, recv, err := entry.Impl(ctx, args)
	if err != nil {
		return nil, nil, WithSpan(err, ctx.Span)
	}
	if out == nil {
		out = value.NullValue
	}
	return out, recv, nil
}

func (r *Registry) check(ctx *CallCtx, e Entry, args []value.Value) error {
	if e.Variadic {
		if len(args) < e.Arity {
			return Errf(CodeArity, ctx.Span, "%s takes at least %d arguments, got %d", e.Name, e.Arity, len(args))
		}
	} else if len(args) != e.Arity {
		return Errf(CodeArity, ctx.Span, "%s takes %d arguments, got %d", e.Name, e.Arity, len(args))
	}
	if e.Gate != "" && !ctx.Caps.Allows(e.Gate) {
		return Errf(CodeCaps, ctx.Span, "capability %q denied for %s", e.Gate, e.Name)
	}
	return nil
}
