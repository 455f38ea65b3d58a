// Package stdlib populates the dispatch registry with the standard builtin
// set: collection methods, string and numeric helpers, shared-cell access,
// task primitives and the gated host-facing operations. Both engines resolve
// every builtin through the registry this package fills; nothing here is
// engine-specific.
package stdlib

import (
	"sync"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

var (
	defaultOnce sync.Once
	defaultReg  *sem.Registry
)

// Default returns the process-wide registry with the full standard library
// installed. Engines and the lowering pass share it.
func Default() *sem.Registry {
	defaultOnce.Do(func() {
		defaultReg = sem.NewRegistry()
		Install(defaultReg)
	})
	return defaultReg
}

// Install registers the whole standard library on reg.
func Install(reg *sem.Registry) {
	installCore(reg)
	installCollections(reg)
	installStrings(reg)
	installNumeric(reg)
	installConcurrent(reg)
	installHost(reg)
}

func installCore(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "len", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			n, err := lengthOf(ctx, args[0])
			return n, nil, err
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "typeof", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return value.Str(args[0].Kind().String()), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "str", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return value.Str(value.Format(args[0])), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "iterseq", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			seq, err := iterSeq(ctx, args[0])
			return seq, nil, err
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "range", Arity: 1, Variadic: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			if len(args) > 2 {
				return nil, nil, sem.Errf(sem.CodeArity, ctx.Span, "range takes 1 or 2 arguments, got %d", len(args))
			}
			lo := 0.0
			hi, err := argNum(ctx, args, len(args)-1, "range")
			if err != nil {
				return nil, nil, err
			}
			if len(args) == 2 {
				if lo, err = argNum(ctx, args, 0, "range"); err != nil {
					return nil, nil, err
				}
			}
			out := value.NewArray()
			for i := lo; i < hi; i++ {
				out = out.WithAppend(value.Num(i))
			}
			return out, nil, nil
		},
	})
}

func lengthOf(ctx *sem.CallCtx, v value.Value) (value.Value, error) {
	switch r := v.(type) {
	case value.Array:
		return value.Num(r.Len()), nil
	case value.Str:
		return value.Num(r.RuneLen()), nil
	case value.Map:
		return value.Num(r.Len()), nil
	case value.Set:
		return value.Num(r.Len()), nil
	case value.Queue:
		return value.Num(r.Len()), nil
	case value.Stack:
		return value.Num(r.Len()), nil
	case value.Shared:
		inner := r.Get()
		defer inner.Release()
		return lengthOf(ctx, inner)
	default:
		return nil, sem.Errf(sem.CodeType, ctx.Span, "%s has no length", v.Kind())
	}
}

// iterSeq normalizes an iterable into an array for the counted-loop
// primitive. Map and set iteration order is the sorted key order, so both
// engines observe identical sequences.
func iterSeq(ctx *sem.CallCtx, v value.Value) (value.Value, error) {
	switch r := v.(type) {
	case value.Array:
		return r.Clone(), nil
	case value.Str:
		out := value.NewArray()
		for _, ch := range string(r) {
			out = out.WithAppend(value.Str(ch))
		}
		return out, nil
	case value.Map:
		out := value.NewArray()
		for _, k := range r.SortedKeys() {
			out = out.WithAppend(k.Value())
		}
		return out, nil
	case value.Set:
		out := value.NewArray()
		r.EachSortedKeys(func(k value.Key) bool {
			out = out.WithAppend(k.Value())
			return true
		})
		return out, nil
	case value.Queue:
		out := value.NewArray()
		for _, e := range r.Snapshot() {
			out = out.WithAppend(e.Clone())
		}
		return out, nil
	case value.Stack:
		out := value.NewArray()
		for _, e := range r.Snapshot() {
			out = out.WithAppend(e.Clone())
		}
		return out, nil
	case value.Shared:
		inner := r.Get()
		defer inner.Release()
		return iterSeq(ctx, inner)
	case value.Dyn:
		lifted := r.Lift()
		if arr, ok := lifted.(value.Array); ok {
			return arr, nil
		}
		lifted.Release()
		return nil, sem.Errf(sem.CodeType, ctx.Span, "cannot iterate non-array dyn value")
	default:
		return nil, sem.Errf(sem.CodeType, ctx.Span, "cannot iterate %s", v.Kind())
	}
}

func argNum(ctx *sem.CallCtx, args []value.Value, i int, name string) (float64, error) {
	n, ok := args[i].(value.Num)
	if !ok {
		return 0, sem.Errf(sem.CodeType, ctx.Span, "%s: argument %d must be a number, got %s", name, i, args[i].Kind())
	}
	return float64(n), nil
}

func argStr(ctx *sem.CallCtx, args []value.Value, i int, name string) (string, error) {
	s, ok := args[i].(value.Str)
	if !ok {
		return "", sem.Errf(sem.CodeType, ctx.Span, "%s: argument %d must be a string, got %s", name, i, args[i].Kind())
	}
	return string(s), nil
}

func argKey(ctx *sem.CallCtx, args []value.Value, i int, name string) (value.Key, error) {
	k, ok := value.KeyOf(args[i])
	if !ok {
		return value.Key{}, sem.Errf(sem.CodeType, ctx.Span, "%s: %s is not a valid key", name, args[i].Kind())
	}
	return k, nil
}
