package stdlib

import (
	"errors"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

func installConcurrent(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "spawn", Arity: 1, Variadic: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			if ctx.Detach == nil {
				return nil, nil, sem.Errf(sem.CodeCaps, ctx.Span, "spawn is unavailable in this session")
			}
			t, err := ctx.Detach(args[0], args[1:])
			if err != nil {
				return nil, nil, err
			}
			return t, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "await", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			var fut value.Future
			switch h := args[0].(type) {
			case value.Task:
				fut = h.Fut
			case value.Future:
				fut = h
			default:
				return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "await: expected a task, got %s", args[0].Kind())
			}
			v, err := fut.Await()
			if errors.Is(err, value.ErrTaskCancelled) {
				// Cancellation released the task's captured values; there is
				// no result left to hand over.
				return nil, nil, sem.Errf(sem.CodeMoved, ctx.Span, "task was cancelled before producing a result")
			}
			return v, nil, err
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "cancel", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			t, ok := args[0].(value.Task)
			if !ok {
				return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "cancel: expected a task, got %s", args[0].Kind())
			}
			t.Cancel()
			return nil, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "chanNew", Arity: 0, Variadic: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			capacity := 0.0
			if len(args) > 1 {
				return nil, nil, sem.Errf(sem.CodeArity, ctx.Span, "chanNew takes at most 1 argument, got %d", len(args))
			}
			if len(args) == 1 {
				var err error
				if capacity, err = argNum(ctx, args, 0, "chanNew"); err != nil {
					return nil, nil, err
				}
			}
			return value.NewChan(int(capacity)), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindChan, Name: "send", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			args[0].(value.Chan).Send(args[1])
			return nil, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindChan, Name: "recv", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			v, ok := args[0].(value.Chan).Recv()
			if !ok {
				return value.NullValue, nil, nil
			}
			return v, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindChan, Name: "close", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			args[0].(value.Chan).Close()
			return nil, nil, nil
		},
	})
}
