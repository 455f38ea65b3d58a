// Package value defines the tagged runtime value representation shared by the
// tree-walking interpreter and the bytecode VM.
//
// Scalars (Num, Bool, Null) are plain copies. Str rides on Go's immutable
// string backing, so cloning a binding is O(1) by construction. The
// collection kinds (Array, Map, Set, Queue, Stack) are handles to a backing
// store carrying an atomic owner count: Clone bumps the count, Release drops
// it, and the first mutation through a handle with more than one owner copies
// the store privately. Owner counts only ever err on the high side — a missed
// Release costs an extra copy, never observable aliasing. Shared is the one
// exception: an explicit mutex-guarded cell where aliasing is the point.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindNum
	KindBool
	KindStr
	KindArray
	KindMap
	KindSet
	KindQueue
	KindStack
	KindShared
	KindFn
	KindBuiltin
	KindNative
	KindFuture
	KindTask
	KindChan
	KindDyn

	// KindAny keys registry entries that dispatch regardless of receiver.
	KindAny Kind = 0xFF
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNum:
		return "num"
	case KindBool:
		return "bool"
	case KindStr:
		return "str"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindQueue:
		return "queue"
	case KindStack:
		return "stack"
	case KindShared:
		return "shared"
	case KindFn:
		return "fn"
	case KindBuiltin:
		return "builtin"
	case KindNative:
		return "native"
	case KindFuture:
		return "future"
	case KindTask:
		return "task"
	case KindChan:
		return "chan"
	case KindDyn:
		return "dyn"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type Value interface {
	Kind() Kind
	// Clone retains one more ownership of the underlying store and returns a
	// handle to it. O(1) for every kind.
	Clone() Value
	// Release drops one ownership. Scalars ignore it.
	Release()
	Truthy() bool
	isValue()
}

type Null struct{}

func (Null) isValue()       {}
func (Null) Kind() Kind     { return KindNull }
func (n Null) Clone() Value { return n }
func (Null) Release()       {}
func (Null) Truthy() bool   { return false }

var NullValue = Null{}

type Num float64

func (Num) isValue()       {}
func (Num) Kind() Kind     { return KindNum }
func (n Num) Clone() Value { return n }
func (Num) Release()       {}
func (n Num) Truthy() bool { return n != 0 }

type Bool bool

func (Bool) isValue()       {}
func (Bool) Kind() Kind     { return KindBool }
func (b Bool) Clone() Value { return b }
func (Bool) Release()       {}
func (b Bool) Truthy() bool { return bool(b) }

var (
	True  = Bool(true)
	False = Bool(false)
)

type Str string

func (Str) isValue()       {}
func (Str) Kind() Kind     { return KindStr }
func (s Str) Clone() Value { return s }
func (Str) Release()       {}
func (s Str) Truthy() bool { return s != "" }

// RuneLen is the length in Unicode scalar values, not bytes.
func (s Str) RuneLen() int {
	n := 0
	for range string(s) {
		n++
	}
	return n
}

// RuneAt returns the i-th Unicode scalar value as a one-rune Str.
func (s Str) RuneAt(i int) (Str, bool) {
	if i < 0 {
		return "", false
	}
	n := 0
	for _, r := range string(s) {
		if n == i {
			return Str(string(r)), true
		}
		n++
	}
	return "", false
}

// Compare orders two values of the same comparable kind (num, str, bool).
// The second result is false when the pair is not orderable; NaN orders
// against nothing.
func Compare(a, b Value) (int, bool) {
	switch av := a.(type) {
	case Num:
		if bv, ok := b.(Num); ok {
			if math.IsNaN(float64(av)) || math.IsNaN(float64(bv)) {
				return 0, false
			}
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			default:
				return 0, true
			}
		}
	case Str:
		if bv, ok := b.(Str); ok {
			return strings.Compare(string(av), string(bv)), true
		}
	case Bool:
		if bv, ok := b.(Bool); ok {
			x, y := 0, 0
			if av {
				x = 1
			}
			if bv {
				y = 1
			}
			return x - y, true
		}
	case Null:
		if _, ok := b.(Null); ok {
			return 0, true
		}
	}
	return 0, false
}

// Equal is deep structural equality. Collections compare element-wise;
// callables and opaque handles compare by identity.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Num:
		bv, ok := b.(Num)
		// IEEE equality: NaN is not equal to anything, itself included.
		return ok && av == bv
	case Null, Bool, Str:
		c, ok := Compare(a, b)
		return ok && c == 0
	case Array:
		bv := b.(Array)
		if av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			x, _ := av.At(i)
			y, _ := bv.At(i)
			if !Equal(x, y) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if av.Len() != bv.Len() {
			return false
		}
		eq := true
		av.Each(func(k Key, v Value) bool {
			ov, ok := bv.Get(k)
			if !ok || !Equal(v, ov) {
				eq = false
				return false
			}
			return true
		})
		return eq
	case Set:
		bv := b.(Set)
		if av.Len() != bv.Len() {
			return false
		}
		eq := true
		av.Each(func(k Key) bool {
			if !bv.Has(k) {
				eq = false
				return false
			}
			return true
		})
		return eq
	case Queue:
		bv := b.(Queue)
		return equalSeq(av.Snapshot(), bv.Snapshot())
	case Stack:
		bv := b.(Stack)
		return equalSeq(av.Snapshot(), bv.Snapshot())
	case Shared:
		return av.cell == b.(Shared).cell
	case Fn:
		return av.Impl == b.(Fn).Impl
	case Builtin:
		return av.Name == b.(Builtin).Name
	case Native:
		return av.Name == b.(Native).Name
	case Future:
		return av.state == b.(Future).state
	case Task:
		return av.ID == b.(Task).ID
	case Chan:
		return av.ch == b.(Chan).ch
	case Dyn:
		return dynEqual(av.Raw, b.(Dyn).Raw)
	}
	return false
}

func equalSeq(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Format renders a value for display. Map and set contents are printed in
// sorted key order so output is deterministic across engines and runs.
func Format(v Value) string {
	switch val := v.(type) {
	case Null:
		return "null"
	case Num:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Bool:
		if val {
			return "true"
		}
		return "false"
	case Str:
		return string(val)
	case Array:
		return formatSeq("[", "]", val.Snapshot())
	case Queue:
		return formatSeq("queue[", "]", val.Snapshot())
	case Stack:
		return formatSeq("stack[", "]", val.Snapshot())
	case Map:
		parts := make([]string, 0, val.Len())
		val.EachSorted(func(k Key, v Value) bool {
			parts = append(parts, fmt.Sprintf("%s: %s", quoteIfStr(k.Value()), quoteIfStr(v)))
			return true
		})
		return "{" + strings.Join(parts, ", ") + "}"
	case Set:
		parts := make([]string, 0, val.Len())
		val.EachSortedKeys(func(k Key) bool {
			parts = append(parts, quoteIfStr(k.Value()))
			return true
		})
		return "set{" + strings.Join(parts, ", ") + "}"
	case Shared:
		inner := val.Get()
		defer inner.Release()
		return "shared(" + Format(inner) + ")"
	case Fn:
		return fmt.Sprintf("<fn %s/%d>", val.Name, val.Arity)
	case Builtin:
		return fmt.Sprintf("<builtin %s>", val.Name)
	case Native:
		return fmt.Sprintf("<native %s>", val.Name)
	case Future:
		return "<future>"
	case Task:
		return fmt.Sprintf("<task %s>", val.ID)
	case Chan:
		return "<chan>"
	case Dyn:
		return formatDyn(val.Raw)
	default:
		return fmt.Sprintf("<%s>", v.Kind())
	}
}

func formatSeq(open, close string, elems []Value) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = quoteIfStr(e)
	}
	return open + strings.Join(parts, ", ") + close
}

// quoteIfStr quotes strings when they appear inside a collection, matching
// the usual literal notation.
func quoteIfStr(v Value) string {
	if s, ok := v.(Str); ok {
		return strconv.Quote(string(s))
	}
	return Format(v)
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
}
