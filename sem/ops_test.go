package sem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strand-lang/strand/value"
)

func TestFloatDivisionByZeroYieldsInf(t *testing.T) {
	v, err := Binary(OpDiv, value.Num(1), value.Num(0), Span{})
	require.NoError(t, err)
	require.True(t, math.IsInf(float64(v.(value.Num)), 1))

	v, err = Binary(OpDiv, value.Num(0), value.Num(0), Span{})
	require.NoError(t, err)
	require.True(t, math.IsNaN(float64(v.(value.Num))))
}

func TestNaNPropagates(t *testing.T) {
	nan := value.Num(math.NaN())
	v, err := Binary(OpAdd, nan, value.Num(1), Span{})
	require.NoError(t, err)
	require.True(t, math.IsNaN(float64(v.(value.Num))))
}

func TestNaNComparesFalse(t *testing.T) {
	nan := value.Num(math.NaN())
	for _, op := range []BinOp{OpEq, OpLt, OpLe, OpGt, OpGe} {
		v, err := Binary(op, nan, nan, Span{})
		require.NoError(t, err)
		require.Equal(t, value.False, v, op.String())

		v, err = Binary(op, nan, value.Num(1), Span{})
		require.NoError(t, err)
		require.Equal(t, value.False, v, op.String())
	}

	v, err := Binary(OpNe, nan, nan, Span{})
	require.NoError(t, err)
	require.Equal(t, value.True, v)
}

func TestAddTypeRules(t *testing.T) {
	v, err := Binary(OpAdd, value.Str("a"), value.Str("b"), Span{})
	require.NoError(t, err)
	require.Equal(t, value.Str("ab"), v)

	_, err = Binary(OpAdd, value.Str("a"), value.Num(1), Span{})
	require.Equal(t, CodeType, CodeOf(err))
}

func TestIndexBounds(t *testing.T) {
	arr := value.NewArray(value.Num(1), value.Num(2), value.Num(3))
	_, err := Index(arr, value.Num(100), Span{Line: 3, Col: 1})
	require.Equal(t, CodeBounds, CodeOf(err))

	v, err := Index(arr, value.Num(2), Span{})
	require.NoError(t, err)
	require.Equal(t, value.Num(3), v)
}

func TestStringIndexUnicodeScalars(t *testing.T) {
	v, err := Index(value.Str("héllo"), value.Num(1), Span{})
	require.NoError(t, err)
	require.Equal(t, value.Str("é"), v)

	_, err = Index(value.Str("hé"), value.Num(2), Span{})
	require.Equal(t, CodeBounds, CodeOf(err))
}

func TestMembership(t *testing.T) {
	arr := value.NewArray(value.Num(1), value.Str("x"))
	v, err := Binary(OpIn, value.Str("x"), arr, Span{})
	require.NoError(t, err)
	require.Equal(t, value.True, v)

	m := value.NewMap().WithPut(value.StrKey("k"), value.Num(1))
	v, err = Binary(OpIn, value.Str("k"), m, Span{})
	require.NoError(t, err)
	require.Equal(t, value.True, v)
}

func TestSetIndexCopiesUnderSharing(t *testing.T) {
	a := value.NewArray(value.Num(1))
	b := a.Clone()
	out, err := SetIndex(b, value.Num(0), value.Num(9), Span{})
	require.NoError(t, err)

	got, _ := a.At(0)
	require.Equal(t, value.Num(1), got)
	got, _ = out.(value.Array).At(0)
	require.Equal(t, value.Num(9), got)
}

func TestRegistryDispatchAndArity(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Entry{
		Kind:  value.KindArray,
		Name:  "first",
		Arity: 1,
		Impl: func(ctx *CallCtx, args []value.Value) (value.Value, value.Value, error) {
			v, ok := args[0].(value.Array).At(0)
			if !ok {
				return nil, nil, Errf(CodeBounds, ctx.Span, "empty array")
			}
			return v.Clone(), nil, nil
		},
	})
	ctx := &CallCtx{Caps: AllCaps()}

	out, recv, err := reg.Call(ctx, "first", []value.Value{value.NewArray(value.Num(7))})
	require.NoError(t, err)
	require.Nil(t, recv)
	require.Equal(t, value.Num(7), out)

	_, _, err = reg.Call(ctx, "first", []value.Value{value.NewArray(), value.Num(1)})
	require.Equal(t, CodeArity, CodeOf(err))

	_, _, err = reg.Call(ctx, "first", []value.Value{value.Num(1)})
	require.Equal(t, CodeNoBuiltin, CodeOf(err))
}

func TestRegistrySharedReceiverMutatesCell(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Entry{
		Kind:    value.KindMap,
		Name:    "put1",
		Arity:   1,
		Mutates: true,
		Impl: func(ctx *CallCtx, args []value.Value) (value.Value, value.Value, error) {
			next := args[0].(value.Map).WithPut(value.StrKey("k"), value.Num(1))
			return next, next, nil
		},
	})
	ctx := &CallCtx{Caps: AllCaps()}

	sh := value.NewShared(value.NewMap())
	alias := sh.Clone().(value.Shared)

	_, recv, err := reg.Call(ctx, "put1", []value.Value{alias})
	require.NoError(t, err)
	require.Nil(t, recv)

	inner := sh.Get()
	v, ok := inner.(value.Map).Get(value.StrKey("k"))
	require.True(t, ok)
	require.Equal(t, value.Num(1), v)
}

func TestCapabilityGate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Entry{
		Kind:  value.KindAny,
		Name:  "readFile",
		Arity: 1,
		Gate:  CapFSRead,
		Impl: func(ctx *CallCtx, args []value.Value) (value.Value, value.Value, error) {
			return value.Str(""), nil, nil
		},
	})

	_, _, err := reg.Call(&CallCtx{Caps: NewCaps()}, "readFile", []value.Value{value.Str("x")})
	require.Equal(t, CodeCaps, CodeOf(err))

	_, _, err = reg.Call(&CallCtx{Caps: NewCaps(CapFSRead)}, "readFile", []value.Value{value.Str("x")})
	require.NoError(t, err)
}
