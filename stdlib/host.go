package stdlib

import (
	"os"
	"strings"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

// Host-facing builtins: printing, JSON interop and the capability-gated
// filesystem pair.
func installHost(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "print", Arity: 0, Variadic: true,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			if ctx.Out == nil {
				return nil, nil, nil
			}
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = value.Format(a)
			}
			if _, err := ctx.Out.Write([]byte(strings.Join(parts, " ") + "\n")); err != nil {
				return nil, nil, err
			}
			return nil, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "jsonParse", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			s, err := argStr(ctx, args, 0, "jsonParse")
			if err != nil {
				return nil, nil, err
			}
			d, perr := value.ParseDyn(s)
			if perr != nil {
				return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "jsonParse: %v", perr)
			}
			return d, nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindDyn, Name: "lift", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return args[0].(value.Dyn).Lift(), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "readFile", Arity: 1, Gate: sem.CapFSRead,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			path, err := argStr(ctx, args, 0, "readFile")
			if err != nil {
				return nil, nil, err
			}
			data, rerr := os.ReadFile(path)
			if rerr != nil {
				return nil, nil, rerr
			}
			return value.Str(data), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "writeFile", Arity: 2, Gate: sem.CapFSWrite,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			path, err := argStr(ctx, args, 0, "writeFile")
			if err != nil {
				return nil, nil, err
			}
			content, err := argStr(ctx, args, 1, "writeFile")
			if err != nil {
				return nil, nil, err
			}
			if werr := os.WriteFile(path, []byte(content), 0o644); werr != nil {
				return nil, nil, werr
			}
			return nil, nil, nil
		},
	})
}
