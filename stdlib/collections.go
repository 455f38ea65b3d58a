package stdlib

import (
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

func installCollections(reg *sem.Registry) {
	installArray(reg)
	installMap(reg)
	installSet(reg)
	installQueue(reg)
	installStack(reg)
	installShared(reg)
}

func installArray(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindArray, Name: "push", Arity: 2, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return nil, args[0].(value.Array).WithAppend(args[1]), nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindArray, Name: "pop", Arity: 1, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			a := args[0].(value.Array)
			out, elem, ok := a.WithRemove(a.Len() - 1)
			if !ok {
				return nil, nil, sem.Errf(sem.CodeBounds, ctx.Span, "pop from empty array")
			}
			return elem, out, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindArray, Name: "insert", Arity: 3, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			i, err := argNum(ctx, args, 1, "insert")
			if err != nil {
				return nil, nil, err
			}
			a := args[0].(value.Array)
			out, ok := a.WithInsert(int(i), args[2])
			if !ok {
				return nil, nil, sem.Errf(sem.CodeBounds, ctx.Span, "insert position %d out of bounds for array of length %d", int(i), a.Len())
			}
			return nil, out, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindArray, Name: "removeAt", Arity: 2, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			i, err := argNum(ctx, args, 1, "removeAt")
			if err != nil {
				return nil, nil, err
			}
			a := args[0].(value.Array)
			out, elem, ok := a.WithRemove(int(i))
			if !ok {
				return nil, nil, sem.Errf(sem.CodeBounds, ctx.Span, "index %d out of bounds for array of length %d", int(i), a.Len())
			}
			return elem, out, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindArray, Name: "concat", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			b, ok := args[1].(value.Array)
			if !ok {
				return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "concat: argument must be an array, got %s", args[1].Kind())
			}
			// Clone keeps the receiver's binding alive; the copy is O(1).
			a := args[0].Clone().(value.Array)
			return a.WithConcat(b), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindArray, Name: "indexOf", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			for i, e := range args[0].(value.Array).Snapshot() {
				if value.Equal(args[1], e) {
					return value.Num(i), nil, nil
				}
			}
			return value.Num(-1), nil, nil
		},
	})
}

func installMap(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "mapNew", Arity: 0,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return value.NewMap(), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindMap, Name: "put", Arity: 3, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			k, err := argKey(ctx, args, 1, "put")
			if err != nil {
				return nil, nil, err
			}
			return nil, args[0].(value.Map).WithPut(k, args[2]), nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindMap, Name: "get", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			k, err := argKey(ctx, args, 1, "get")
			if err != nil {
				return nil, nil, err
			}
			// Unlike indexing, a missing key yields null, not E_BOUNDS.
			v, ok := args[0].(value.Map).Get(k)
			if !ok {
				return value.NullValue, nil, nil
			}
			return v.Clone(), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindMap, Name: "has", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			k, err := argKey(ctx, args, 1, "has")
			if err != nil {
				return nil, nil, err
			}
			return value.Bool(args[0].(value.Map).Has(k)), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindMap, Name: "delete", Arity: 2, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			k, err := argKey(ctx, args, 1, "delete")
			if err != nil {
				return nil, nil, err
			}
			out, existed := args[0].(value.Map).WithDelete(k)
			return value.Bool(existed), out, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindMap, Name: "keys", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			out := value.NewArray()
			for _, k := range args[0].(value.Map).SortedKeys() {
				out = out.WithAppend(k.Value())
			}
			return out, nil, nil
		},
	})
}

func installSet(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "setNew", Arity: 0, Variadic: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			s := value.NewSet()
			for i := range args {
				k, err := argKey(ctx, args, i, "setNew")
				if err != nil {
					return nil, nil, err
				}
				s = s.WithAdd(k)
			}
			return s, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindSet, Name: "add", Arity: 2, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			k, err := argKey(ctx, args, 1, "add")
			if err != nil {
				return nil, nil, err
			}
			return nil, args[0].(value.Set).WithAdd(k), nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindSet, Name: "has", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			k, err := argKey(ctx, args, 1, "has")
			if err != nil {
				return nil, nil, err
			}
			return value.Bool(args[0].(value.Set).Has(k)), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindSet, Name: "remove", Arity: 2, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			k, err := argKey(ctx, args, 1, "remove")
			if err != nil {
				return nil, nil, err
			}
			out, existed := args[0].(value.Set).WithRemove(k)
			return value.Bool(existed), out, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindSet, Name: "members", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			out := value.NewArray()
			args[0].(value.Set).EachSortedKeys(func(k value.Key) bool {
				out = out.WithAppend(k.Value())
				return true
			})
			return out, nil, nil
		},
	})
}

func installQueue(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "queueNew", Arity: 0,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return value.NewQueue(), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindQueue, Name: "enqueue", Arity: 2, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return nil, args[0].(value.Queue).WithEnqueue(args[1]), nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindQueue, Name: "dequeue", Arity: 1, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			out, elem, ok := args[0].(value.Queue).WithDequeue()
			if !ok {
				return nil, nil, sem.Errf(sem.CodeBounds, ctx.Span, "dequeue from empty queue")
			}
			return elem, out, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindQueue, Name: "peek", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			v, ok := args[0].(value.Queue).Peek()
			if !ok {
				return nil, nil, sem.Errf(sem.CodeBounds, ctx.Span, "peek on empty queue")
			}
			return v.Clone(), nil, nil
		},
	})
}

func installStack(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "stackNew", Arity: 0,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return value.NewStack(), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindStack, Name: "push", Arity: 2, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return nil, args[0].(value.Stack).WithPush(args[1]), nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindStack, Name: "pop", Arity: 1, Mutates: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			out, elem, ok := args[0].(value.Stack).WithPop()
			if !ok {
				return nil, nil, sem.Errf(sem.CodeBounds, ctx.Span, "pop from empty stack")
			}
			return elem, out, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindStack, Name: "peek", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			v, ok := args[0].(value.Stack).Peek()
			if !ok {
				return nil, nil, sem.Errf(sem.CodeBounds, ctx.Span, "peek on empty stack")
			}
			return v.Clone(), nil, nil
		},
	})
}

func installShared(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "shared", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return value.NewShared(args[0]), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "sharedGet", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			sh, ok := args[0].(value.Shared)
			if !ok {
				return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "sharedGet: expected a shared cell, got %s", args[0].Kind())
			}
			return sh.Get(), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "sharedSet", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			sh, ok := args[0].(value.Shared)
			if !ok {
				return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "sharedSet: expected a shared cell, got %s", args[0].Kind())
			}
			sh.Set(args[1])
			return nil, nil, nil
		},
	})
}
