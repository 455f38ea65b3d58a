package sem

import (
	"math"
	"strings"

	"github.com/strand-lang/strand/value"
)

// BinOp is a primitive binary operator. And/Or are listed for completeness
// but short-circuit in the engines and never reach Binary.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpAnd
	OpOr
)

func (op BinOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpPow:
		return "**"
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpIn:
		return "in"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	default:
		return "?"
	}
}

type UnOp uint8

const (
	OpNeg UnOp = iota
	OpNot
)

// Binary applies a binary operator. The type checker has already proven the
// operand types, so mismatches here are defensive E_TYPE errors, not part of
// the language surface. NaN and Infinity propagate per IEEE; float division
// by zero yields ±Inf, never an error.
func Binary(op BinOp, a, b value.Value, span Span) (value.Value, error) {
	switch op {
	case OpAdd:
		if x, ok := a.(value.Num); ok {
			if y, ok := b.(value.Num); ok {
				return x + y, nil
			}
		}
		if x, ok := a.(value.Str); ok {
			if y, ok := b.(value.Str); ok {
				return x + y, nil
			}
		}
		return nil, Errf(CodeType, span, "cannot add %s and %s", a.Kind(), b.Kind())
	case OpSub, OpMul, OpDiv, OpMod, OpPow:
		x, ok := a.(value.Num)
		if !ok {
			return nil, Errf(CodeType, span, "%s requires numbers, got %s", op, a.Kind())
		}
		y, ok := b.(value.Num)
		if !ok {
			return nil, Errf(CodeType, span, "%s requires numbers, got %s", op, b.Kind())
		}
		return numOp(op, float64(x), float64(y)), nil
	case OpEq:
		return value.Bool(value.Equal(a, b)), nil
	case OpNe:
		return value.Bool(!value.Equal(a, b)), nil
	case OpLt, OpLe, OpGt, OpGe:
		if x, ok := a.(value.Num); ok {
			if y, ok := b.(value.Num); ok {
				// IEEE: every ordering against NaN is false.
				switch op {
				case OpLt:
					return value.Bool(x < y), nil
				case OpLe:
					return value.Bool(x <= y), nil
				case OpGt:
					return value.Bool(x > y), nil
				default:
					return value.Bool(x >= y), nil
				}
			}
		}
		c, ok := value.Compare(a, b)
		if !ok {
			return nil, Errf(CodeType, span, "cannot order %s and %s", a.Kind(), b.Kind())
		}
		switch op {
		case OpLt:
			return value.Bool(c < 0), nil
		case OpLe:
			return value.Bool(c <= 0), nil
		case OpGt:
			return value.Bool(c > 0), nil
		default:
			return value.Bool(c >= 0), nil
		}
	case OpIn:
		return contains(a, b, span)
	default:
		return nil, Errf(CodeType, span, "unknown binary operator")
	}
}

func numOp(op BinOp, x, y float64) value.Num {
	switch op {
	case OpSub:
		return value.Num(x - y)
	case OpMul:
		return value.Num(x * y)
	case OpDiv:
		// IEEE semantics: x/0 is ±Inf, 0/0 is NaN.
		return value.Num(x / y)
	case OpMod:
		return value.Num(math.Mod(x, y))
	case OpPow:
		return value.Num(math.Pow(x, y))
	default:
		panic("numOp: not a numeric operator")
	}
}

// Unary applies a unary operator.
func Unary(op UnOp, a value.Value, span Span) (value.Value, error) {
	switch op {
	case OpNeg:
		x, ok := a.(value.Num)
		if !ok {
			return nil, Errf(CodeType, span, "negation requires a number, got %s", a.Kind())
		}
		return -x, nil
	case OpNot:
		return value.Bool(!a.Truthy()), nil
	default:
		return nil, Errf(CodeType, span, "unknown unary operator")
	}
}

// contains implements `item in collection`.
func contains(item, coll value.Value, span Span) (value.Value, error) {
	switch c := coll.(type) {
	case value.Array:
		for _, e := range c.Snapshot() {
			if value.Equal(item, e) {
				return value.True, nil
			}
		}
		return value.False, nil
	case value.Str:
		s, ok := item.(value.Str)
		if !ok {
			return nil, Errf(CodeType, span, "substring test requires a string, got %s", item.Kind())
		}
		return value.Bool(strings.Contains(string(c), string(s))), nil
	case value.Map:
		k, ok := value.KeyOf(item)
		if !ok {
			return nil, Errf(CodeType, span, "%s is not a valid map key", item.Kind())
		}
		return value.Bool(c.Has(k)), nil
	case value.Set:
		k, ok := value.KeyOf(item)
		if !ok {
			return nil, Errf(CodeType, span, "%s is not a valid set member", item.Kind())
		}
		return value.Bool(c.Has(k)), nil
	case value.Shared:
		inner := c.Get()
		defer inner.Release()
		return contains(item, inner, span)
	default:
		return nil, Errf(CodeType, span, "cannot test membership in %s", coll.Kind())
	}
}

// Index implements recv[idx] for arrays, strings, maps and dyn values.
// String indexing addresses Unicode scalar values, not bytes.
func Index(recv, idx value.Value, span Span) (value.Value, error) {
	switch r := recv.(type) {
	case value.Array:
		i, ok := idx.(value.Num)
		if !ok {
			return nil, Errf(CodeType, span, "array index must be a number, got %s", idx.Kind())
		}
		v, ok := r.At(int(i))
		if !ok {
			return nil, Errf(CodeBounds, span, "index %d out of bounds for array of length %d", int(i), r.Len())
		}
		return v.Clone(), nil
	case value.Str:
		i, ok := idx.(value.Num)
		if !ok {
			return nil, Errf(CodeType, span, "string index must be a number, got %s", idx.Kind())
		}
		ch, ok := r.RuneAt(int(i))
		if !ok {
			return nil, Errf(CodeBounds, span, "index %d out of bounds for string of length %d", int(i), r.RuneLen())
		}
		return ch, nil
	case value.Map:
		k, ok := value.KeyOf(idx)
		if !ok {
			return nil, Errf(CodeType, span, "%s is not a valid map key", idx.Kind())
		}
		v, ok := r.Get(k)
		if !ok {
			return nil, Errf(CodeBounds, span, "key %s not present", value.Format(idx))
		}
		return v.Clone(), nil
	case value.Dyn:
		f, ok := r.Field(idx)
		if !ok {
			return nil, Errf(CodeBounds, span, "dyn field %s not present", value.Format(idx))
		}
		return f, nil
	case value.Shared:
		inner := r.Get()
		defer inner.Release()
		return Index(inner, idx, span)
	default:
		return nil, Errf(CodeType, span, "cannot index %s", recv.Kind())
	}
}

// SetIndex implements recv[idx] = v through the copy-on-write path and
// returns the updated collection for the engine to write back. A Shared
// receiver mutates inside its cell and returns the same handle.
func SetIndex(recv, idx, v value.Value, span Span) (value.Value, error) {
	switch r := recv.(type) {
	case value.Array:
		i, ok := idx.(value.Num)
		if !ok {
			return nil, Errf(CodeType, span, "array index must be a number, got %s", idx.Kind())
		}
		out, ok := r.WithSet(int(i), v)
		if !ok {
			return nil, Errf(CodeBounds, span, "index %d out of bounds for array of length %d", int(i), r.Len())
		}
		return out, nil
	case value.Map:
		k, ok := value.KeyOf(idx)
		if !ok {
			return nil, Errf(CodeType, span, "%s is not a valid map key", idx.Kind())
		}
		return r.WithPut(k, v), nil
	case value.Shared:
		err := r.Update(func(inner value.Value) (value.Value, error) {
			return SetIndex(inner, idx, v, span)
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, Errf(CodeType, span, "cannot assign into %s", recv.Kind())
	}
}

// Slice implements recv[lo:hi] on arrays and strings. Null bounds mean the
// start or end; out-of-range bounds clamp.
func Slice(recv, lo, hi value.Value, span Span) (value.Value, error) {
	bound := func(v value.Value, def, max int) (int, error) {
		if _, ok := v.(value.Null); ok || v == nil {
			return def, nil
		}
		n, ok := v.(value.Num)
		if !ok {
			return 0, Errf(CodeType, span, "slice bound must be a number, got %s", v.Kind())
		}
		i := int(n)
		if i < 0 {
			i = 0
		}
		if i > max {
			i = max
		}
		return i, nil
	}
	switch r := recv.(type) {
	case value.Array:
		start, err := bound(lo, 0, r.Len())
		if err != nil {
			return nil, err
		}
		end, err := bound(hi, r.Len(), r.Len())
		if err != nil {
			return nil, err
		}
		if start > end {
			start = end
		}
		return r.SliceOf(start, end), nil
	case value.Str:
		runes := []rune(string(r))
		start, err := bound(lo, 0, len(runes))
		if err != nil {
			return nil, err
		}
		end, err := bound(hi, len(runes), len(runes))
		if err != nil {
			return nil, err
		}
		if start > end {
			start = end
		}
		return value.Str(string(runes[start:end])), nil
	default:
		return nil, Errf(CodeType, span, "cannot slice %s", recv.Kind())
	}
}
