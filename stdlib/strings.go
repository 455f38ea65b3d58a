package stdlib

import (
	"strings"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

func installStrings(reg *sem.Registry) {
	str1 := func(name string, f func(string) string) {
		reg.MustRegister(sem.Entry{
			Kind: value.KindStr, Name: name, Arity: 1,
			Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
				return value.Str(f(string(args[0].(value.Str)))), nil, nil
			},
		})
	}
	str1("upper", strings.ToUpper)
	str1("lower", strings.ToLower)
	str1("trim", strings.TrimSpace)

	reg.MustRegister(sem.Entry{
		Kind: value.KindStr, Name: "split", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			sep, err := argStr(ctx, args, 1, "split")
			if err != nil {
				return nil, nil, err
			}
			out := value.NewArray()
			for _, part := range strings.Split(string(args[0].(value.Str)), sep) {
				out = out.WithAppend(value.Str(part))
			}
			return out, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindStr, Name: "find", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			sub, err := argStr(ctx, args, 1, "find")
			if err != nil {
				return nil, nil, err
			}
			// Rune offset, consistent with string indexing.
			s := string(args[0].(value.Str))
			byteIdx := strings.Index(s, sub)
			if byteIdx < 0 {
				return value.Num(-1), nil, nil
			}
			return value.Num(len([]rune(s[:byteIdx]))), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindStr, Name: "replace", Arity: 3,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			old, err := argStr(ctx, args, 1, "replace")
			if err != nil {
				return nil, nil, err
			}
			repl, err := argStr(ctx, args, 2, "replace")
			if err != nil {
				return nil, nil, err
			}
			return value.Str(strings.ReplaceAll(string(args[0].(value.Str)), old, repl)), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindStr, Name: "startsWith", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			p, err := argStr(ctx, args, 1, "startsWith")
			if err != nil {
				return nil, nil, err
			}
			return value.Bool(strings.HasPrefix(string(args[0].(value.Str)), p)), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindStr, Name: "endsWith", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			p, err := argStr(ctx, args, 1, "endsWith")
			if err != nil {
				return nil, nil, err
			}
			return value.Bool(strings.HasSuffix(string(args[0].(value.Str)), p)), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindArray, Name: "join", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			sep, err := argStr(ctx, args, 1, "join")
			if err != nil {
				return nil, nil, err
			}
			parts := make([]string, 0, args[0].(value.Array).Len())
			for _, e := range args[0].(value.Array).Snapshot() {
				s, ok := e.(value.Str)
				if !ok {
					return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "join: array element is %s, not str", e.Kind())
				}
				parts = append(parts, string(s))
			}
			return value.Str(strings.Join(parts, sep)), nil, nil
		},
	})
}
