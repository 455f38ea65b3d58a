package value

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneIsO1AndIndependentAfterMutation(t *testing.T) {
	a := NewArray(Num(1), Num(2))
	b := a.Clone().(Array)

	// Clone shares the backing store.
	require.Same(t, a.store, b.store)

	// First mutation under sharing copies privately.
	c := b.WithAppend(Num(3))
	require.Equal(t, 2, a.Len())
	require.Equal(t, 3, c.Len())
	require.NotSame(t, a.store, c.store)
}

func TestSoleOwnerMutatesInPlace(t *testing.T) {
	a := NewArray(Num(1))
	b := a.WithAppend(Num(2))
	require.Same(t, a.store, b.store)
	require.Equal(t, 2, b.Len())
}

func TestReleaseRestoresInPlaceMutation(t *testing.T) {
	a := NewArray(Num(1))
	b := a.Clone().(Array)
	b.Release()
	c := a.WithAppend(Num(2))
	require.Same(t, a.store, c.store)
}

func TestMapCopyOnWrite(t *testing.T) {
	m := NewMap().WithPut(StrKey("k"), Num(1))
	m2 := m.Clone().(Map)
	m3 := m2.WithPut(StrKey("k"), Num(2))

	v, ok := m.Get(StrKey("k"))
	require.True(t, ok)
	require.Equal(t, Num(1), v)

	v3, ok := m3.Get(StrKey("k"))
	require.True(t, ok)
	require.Equal(t, Num(2), v3)
}

func TestSharedCellAliases(t *testing.T) {
	s := NewShared(NewMap())
	s2 := s.Clone().(Shared)

	err := s2.Update(func(inner Value) (Value, error) {
		return inner.(Map).WithPut(StrKey("k"), Num(2)), nil
	})
	require.NoError(t, err)

	got := s.Get()
	v, ok := got.(Map).Get(StrKey("k"))
	require.True(t, ok)
	require.Equal(t, Num(2), v)
}

func TestQueueFIFOAndStackLIFO(t *testing.T) {
	q := NewQueue().WithEnqueue(Num(1)).WithEnqueue(Num(2))
	q, v, ok := q.WithDequeue()
	require.True(t, ok)
	require.Equal(t, Num(1), v)
	require.Equal(t, 1, q.Len())

	s := NewStack().WithPush(Num(1)).WithPush(Num(2))
	s, v, ok = s.WithPop()
	require.True(t, ok)
	require.Equal(t, Num(2), v)
	require.Equal(t, 1, s.Len())
}

func TestNestedCopyOnWrite(t *testing.T) {
	inner := NewArray(Num(1))
	outer := NewArray(inner)
	outer2 := outer.Clone().(Array)

	// Mutating the inner array through one outer handle must not leak into
	// the other: the private copy retained the element, so the inner store is
	// no longer sole-owned.
	got, _ := outer2.At(0)
	grown := got.(Array).WithAppend(Num(2))
	outer2, _ = outer2.WithSet(0, grown)

	orig, _ := outer.At(0)
	require.Equal(t, 1, orig.(Array).Len())
}

func TestEqualDeep(t *testing.T) {
	a := NewArray(Num(1), Str("x"))
	b := NewArray(Num(1), Str("x"))
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, NewArray(Num(1))))

	m1 := NewMap().WithPut(StrKey("a"), Num(1))
	m2 := NewMap().WithPut(StrKey("a"), Num(1))
	require.True(t, Equal(m1, m2))
}

func TestFormatDeterministic(t *testing.T) {
	m := NewMap().
		WithPut(StrKey("b"), Num(2)).
		WithPut(StrKey("a"), Num(1))
	require.Equal(t, `{"a": 1, "b": 2}`, Format(m))
	require.Equal(t, "[1, 2]", Format(NewArray(Num(1), Num(2))))
	require.Equal(t, "6", Format(Num(6)))
	require.Equal(t, "6.5", Format(Num(6.5)))
}

func TestStrRuneIndexing(t *testing.T) {
	s := Str("héllo")
	require.Equal(t, 5, s.RuneLen())
	r, ok := s.RuneAt(1)
	require.True(t, ok)
	require.Equal(t, Str("é"), r)
	_, ok = s.RuneAt(5)
	require.False(t, ok)
}

func TestThreadTransferability(t *testing.T) {
	arr := NewArray(Num(1), Num(2), Num(3))
	sh := NewShared(NewMap())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			local := arr.Clone().(Array)
			local = local.WithAppend(Num(float64(n)))
			require.Equal(t, 4, local.Len())
			_ = sh.Update(func(inner Value) (Value, error) {
				return inner.(Map).WithPut(StrKey("n"), Num(float64(n))), nil
			})
		}(i)
	}
	wg.Wait()
	require.Equal(t, 3, arr.Len())
	require.Equal(t, 1, sh.Get().(Map).Len())
}

func TestFutureResolvesOnce(t *testing.T) {
	fut, complete := NewFuture()
	require.False(t, fut.Done())
	complete(Num(42), nil)
	complete(Num(99), nil)
	v, err := fut.Await()
	require.NoError(t, err)
	require.Equal(t, Num(42), v)
}

func TestDynParseAndLift(t *testing.T) {
	d, err := ParseDyn(`{"a": [1, 2], "b": "x"}`)
	require.NoError(t, err)

	f, ok := d.Field(Str("a"))
	require.True(t, ok)
	lifted := f.Lift()
	require.True(t, Equal(lifted, NewArray(Num(1), Num(2))))
}
