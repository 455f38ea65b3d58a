package stdlib

import (
	"math"
	"strconv"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

// Integer division and modulo are builtins rather than operators so a zero
// divisor raises E_DIV_ZERO; float division keeps IEEE semantics.
func installNumeric(reg *sem.Registry) {
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "idiv", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			x, y, err := twoNums(ctx, args, "idiv")
			if err != nil {
				return nil, nil, err
			}
			if y == 0 {
				return nil, nil, sem.Errf(sem.CodeDivZero, ctx.Span, "integer division by zero")
			}
			return value.Num(math.Floor(x / y)), nil, nil
		},
	})
	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "imod", Arity: 2,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			x, y, err := twoNums(ctx, args, "imod")
			if err != nil {
				return nil, nil, err
			}
			if y == 0 {
				return nil, nil, sem.Errf(sem.CodeDivZero, ctx.Span, "integer modulo by zero")
			}
			return value.Num(x - math.Floor(x/y)*y), nil, nil
		},
	})
	num1 := func(name string, f func(float64) float64) {
		reg.MustRegister(sem.Entry{
			Kind: value.KindAny, Name: name, Arity: 1,
			Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
				x, err := argNum(ctx, args, 0, name)
				if err != nil {
					return nil, nil, err
				}
				return value.Num(f(x)), nil, nil
			},
		})
	}
	num1("abs", math.Abs)
	num1("floor", math.Floor)
	num1("ceil", math.Ceil)

	num2 := func(name string, f func(x, y float64) float64) {
		reg.MustRegister(sem.Entry{
			Kind: value.KindAny, Name: name, Arity: 2,
			Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
				x, y, err := twoNums(ctx, args, name)
				if err != nil {
					return nil, nil, err
				}
				return value.Num(f(x, y)), nil, nil
			},
		})
	}
	num2("min", math.Min)
	num2("max", math.Max)

	reg.MustRegister(sem.Entry{
		Kind: value.KindAny, Name: "num", Arity: 1,
		Impl: func(ctx *sem.CallCtx, args []value.Value) (value.Value, value.Value, error) {
			s, err := argStr(ctx, args, 0, "num")
			if err != nil {
				return nil, nil, err
			}
			f, perr := strconv.ParseFloat(s, 64)
			if perr != nil {
				return nil, nil, sem.Errf(sem.CodeType, ctx.Span, "num: cannot parse %q", s)
			}
			return value.Num(f), nil, nil
		},
	})
}

func twoNums(ctx *sem.CallCtx, args []value.Value, name string) (float64, float64, error) {
	x, err := argNum(ctx, args, 0, name)
	if err != nil {
		return 0, 0, err
	}
	y, err := argNum(ctx, args, 1, name)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
