package value

import "sync/atomic"

// Key is the comparable form of a scalar value, used by Map and Set backing
// stores. Only null, num, bool and str values can be keys.
type Key struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

func KeyOf(v Value) (Key, bool) {
	switch val := v.(type) {
	case Null:
		return Key{kind: KindNull}, true
	case Num:
		return Key{kind: KindNum, num: float64(val)}, true
	case Bool:
		return Key{kind: KindBool, b: bool(val)}, true
	case Str:
		return Key{kind: KindStr, str: string(val)}, true
	default:
		return Key{}, false
	}
}

func StrKey(s string) Key { return Key{kind: KindStr, str: s} }

func (k Key) Value() Value {
	switch k.kind {
	case KindNum:
		return Num(k.num)
	case KindBool:
		return Bool(k.b)
	case KindStr:
		return Str(k.str)
	default:
		return NullValue
	}
}

func (k Key) less(o Key) bool {
	if k.kind != o.kind {
		return k.kind < o.kind
	}
	switch k.kind {
	case KindNum:
		return k.num < o.num
	case KindStr:
		return k.str < o.str
	case KindBool:
		return !k.b && o.b
	default:
		return false
	}
}

// owners tracks how many bindings and stores hold a handle to a backing
// store. Counts never go negative; Release clamps at zero so a double release
// degrades to an extra copy rather than corruption.
type owners struct {
	n atomic.Int64
}

func newOwners() *owners {
	o := &owners{}
	o.n.Store(1)
	return o
}

func (o *owners) retain()    { o.n.Add(1) }
func (o *owners) sole() bool { return o.n.Load() == 1 }

func (o *owners) release() {
	if o.n.Add(-1) < 0 {
		o.n.Store(0)
	}
}

// ---- Array ----

type arrayStore struct {
	owners *owners
	elems  []Value
}

type Array struct {
	store *arrayStore
}

func NewArray(elems ...Value) Array {
	return Array{store: &arrayStore{owners: newOwners(), elems: elems}}
}

func (Array) isValue()       {}
func (Array) Kind() Kind     { return KindArray }
func (a Array) Truthy() bool { return a.Len() > 0 }

func (a Array) Clone() Value {
	a.store.owners.retain()
	return a
}

func (a Array) Release() { a.store.owners.release() }

func (a Array) Len() int { return len(a.store.elems) }

func (a Array) At(i int) (Value, bool) {
	if i < 0 || i >= len(a.store.elems) {
		return nil, false
	}
	return a.store.elems[i], true
}

// Snapshot exposes the backing slice for read-only iteration. Callers must
// not hold it across a mutation.
func (a Array) Snapshot() []Value { return a.store.elems }

// mutable is the copy-on-write gate: the sole owner mutates its own store,
// anything else gets a private copy with every element retained.
func (a Array) mutable() Array {
	if a.store.owners.sole() {
		return a
	}
	elems := make([]Value, len(a.store.elems))
	for i, e := range a.store.elems {
		elems[i] = e.Clone()
	}
	return NewArray(elems...)
}

// WithAppend returns the array with v appended. The store takes ownership of v.
func (a Array) WithAppend(v Value) Array {
	m := a.mutable()
	m.store.elems = append(m.store.elems, v)
	return m
}

func (a Array) WithSet(i int, v Value) (Array, bool) {
	if i < 0 || i >= len(a.store.elems) {
		return a, false
	}
	m := a.mutable()
	m.store.elems[i].Release()
	m.store.elems[i] = v
	return m, true
}

func (a Array) WithInsert(i int, v Value) (Array, bool) {
	if i < 0 || i > len(a.store.elems) {
		return a, false
	}
	m := a.mutable()
	m.store.elems = append(m.store.elems, nil)
	copy(m.store.elems[i+1:], m.store.elems[i:])
	m.store.elems[i] = v
	return m, true
}

func (a Array) WithRemove(i int) (Array, Value, bool) {
	if i < 0 || i >= len(a.store.elems) {
		return a, nil, false
	}
	m := a.mutable()
	removed := m.store.elems[i]
	m.store.elems = append(m.store.elems[:i], m.store.elems[i+1:]...)
	return m, removed, true
}

// SliceOf returns a fresh array over [lo, hi). Bounds are assumed clamped.
func (a Array) SliceOf(lo, hi int) Array {
	elems := make([]Value, hi-lo)
	for i := lo; i < hi; i++ {
		elems[i-lo] = a.store.elems[i].Clone()
	}
	return NewArray(elems...)
}

func (a Array) WithConcat(b Array) Array {
	m := a.mutable()
	for _, e := range b.store.elems {
		m.store.elems = append(m.store.elems, e.Clone())
	}
	return m
}

// ---- Map ----

type mapStore struct {
	owners  *owners
	entries map[Key]Value
}

type Map struct {
	store *mapStore
}

func NewMap() Map {
	return Map{store: &mapStore{owners: newOwners(), entries: make(map[Key]Value)}}
}

func (Map) isValue()       {}
func (Map) Kind() Kind     { return KindMap }
func (m Map) Truthy() bool { return m.Len() > 0 }

func (m Map) Clone() Value {
	m.store.owners.retain()
	return m
}

func (m Map) Release() { m.store.owners.release() }

func (m Map) Len() int { return len(m.store.entries) }

func (m Map) Get(k Key) (Value, bool) {
	v, ok := m.store.entries[k]
	return v, ok
}

func (m Map) Has(k Key) bool {
	_, ok := m.store.entries[k]
	return ok
}

func (m Map) Each(f func(Key, Value) bool) {
	for k, v := range m.store.entries {
		if !f(k, v) {
			return
		}
	}
}

// EachSorted iterates entries in key order, for deterministic output.
func (m Map) EachSorted(f func(Key, Value) bool) {
	keys := m.SortedKeys()
	for _, k := range keys {
		if !f(k, m.store.entries[k]) {
			return
		}
	}
}

func (m Map) SortedKeys() []Key {
	keys := make([]Key, 0, len(m.store.entries))
	for k := range m.store.entries {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func (m Map) mutable() Map {
	if m.store.owners.sole() {
		return m
	}
	entries := make(map[Key]Value, len(m.store.entries))
	for k, v := range m.store.entries {
		entries[k] = v.Clone()
	}
	return Map{store: &mapStore{owners: newOwners(), entries: entries}}
}

// WithPut returns the map with k set to v. The store takes ownership of v.
func (m Map) WithPut(k Key, v Value) Map {
	n := m.mutable()
	if old, ok := n.store.entries[k]; ok {
		old.Release()
	}
	n.store.entries[k] = v
	return n
}

func (m Map) WithDelete(k Key) (Map, bool) {
	if _, ok := m.store.entries[k]; !ok {
		return m, false
	}
	n := m.mutable()
	n.store.entries[k].Release()
	delete(n.store.entries, k)
	return n, true
}

// ---- Set ----

type setStore struct {
	owners  *owners
	members map[Key]struct{}
}

type Set struct {
	store *setStore
}

func NewSet() Set {
	return Set{store: &setStore{owners: newOwners(), members: make(map[Key]struct{})}}
}

func (Set) isValue()       {}
func (Set) Kind() Kind     { return KindSet }
func (s Set) Truthy() bool { return s.Len() > 0 }

func (s Set) Clone() Value {
	s.store.owners.retain()
	return s
}

func (s Set) Release() { s.store.owners.release() }

func (s Set) Len() int { return len(s.store.members) }

func (s Set) Has(k Key) bool {
	_, ok := s.store.members[k]
	return ok
}

func (s Set) Each(f func(Key) bool) {
	for k := range s.store.members {
		if !f(k) {
			return
		}
	}
}

func (s Set) EachSortedKeys(f func(Key) bool) {
	keys := make([]Key, 0, len(s.store.members))
	for k := range s.store.members {
		keys = append(keys, k)
	}
	sortKeys(keys)
	for _, k := range keys {
		if !f(k) {
			return
		}
	}
}

func (s Set) mutable() Set {
	if s.store.owners.sole() {
		return s
	}
	members := make(map[Key]struct{}, len(s.store.members))
	for k := range s.store.members {
		members[k] = struct{}{}
	}
	return Set{store: &setStore{owners: newOwners(), members: members}}
}

func (s Set) WithAdd(k Key) Set {
	n := s.mutable()
	n.store.members[k] = struct{}{}
	return n
}

func (s Set) WithRemove(k Key) (Set, bool) {
	if _, ok := s.store.members[k]; !ok {
		return s, false
	}
	n := s.mutable()
	delete(n.store.members, k)
	return n, true
}

// ---- Queue ----

type queueStore struct {
	owners *owners
	elems  []Value
	head   int
}

type Queue struct {
	store *queueStore
}

func NewQueue() Queue {
	return Queue{store: &queueStore{owners: newOwners()}}
}

func (Queue) isValue()       {}
func (Queue) Kind() Kind     { return KindQueue }
func (q Queue) Truthy() bool { return q.Len() > 0 }

func (q Queue) Clone() Value {
	q.store.owners.retain()
	return q
}

func (q Queue) Release() { q.store.owners.release() }

func (q Queue) Len() int { return len(q.store.elems) - q.store.head }

func (q Queue) Snapshot() []Value { return q.store.elems[q.store.head:] }

func (q Queue) Peek() (Value, bool) {
	if q.Len() == 0 {
		return nil, false
	}
	return q.store.elems[q.store.head], true
}

func (q Queue) mutable() Queue {
	if q.store.owners.sole() {
		return q
	}
	live := q.store.elems[q.store.head:]
	elems := make([]Value, len(live))
	for i, e := range live {
		elems[i] = e.Clone()
	}
	return Queue{store: &queueStore{owners: newOwners(), elems: elems}}
}

func (q Queue) WithEnqueue(v Value) Queue {
	n := q.mutable()
	n.store.elems = append(n.store.elems, v)
	return n
}

func (q Queue) WithDequeue() (Queue, Value, bool) {
	if q.Len() == 0 {
		return q, nil, false
	}
	n := q.mutable()
	v := n.store.elems[n.store.head]
	n.store.elems[n.store.head] = nil
	n.store.head++
	if n.store.head > len(n.store.elems)/2 {
		n.store.elems = append([]Value(nil), n.store.elems[n.store.head:]...)
		n.store.head = 0
	}
	return n, v, true
}

// ---- Stack ----

type stackStore struct {
	owners *owners
	elems  []Value
}

type Stack struct {
	store *stackStore
}

func NewStack() Stack {
	return Stack{store: &stackStore{owners: newOwners()}}
}

func (Stack) isValue()       {}
func (Stack) Kind() Kind     { return KindStack }
func (s Stack) Truthy() bool { return s.Len() > 0 }

func (s Stack) Clone() Value {
	s.store.owners.retain()
	return s
}

func (s Stack) Release() { s.store.owners.release() }

func (s Stack) Len() int { return len(s.store.elems) }

func (s Stack) Snapshot() []Value { return s.store.elems }

func (s Stack) Peek() (Value, bool) {
	if len(s.store.elems) == 0 {
		return nil, false
	}
	return s.store.elems[len(s.store.elems)-1], true
}

func (s Stack) mutable() Stack {
	if s.store.owners.sole() {
		return s
	}
	elems := make([]Value, len(s.store.elems))
	for i, e := range s.store.elems {
		elems[i] = e.Clone()
	}
	return Stack{store: &stackStore{owners: newOwners(), elems: elems}}
}

func (s Stack) WithPush(v Value) Stack {
	n := s.mutable()
	n.store.elems = append(n.store.elems, v)
	return n
}

func (s Stack) WithPop() (Stack, Value, bool) {
	if len(s.store.elems) == 0 {
		return s, nil, false
	}
	n := s.mutable()
	v := n.store.elems[len(n.store.elems)-1]
	n.store.elems = n.store.elems[:len(n.store.elems)-1]
	return n, v, true
}
