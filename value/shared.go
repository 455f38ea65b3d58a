package value

import "sync"

// sharedCell is the only place true aliasing exists. The mutex, not a
// copy-on-write count, guards the inner value, so Shared handles are safe to
// move across worker threads.
type sharedCell struct {
	mu    sync.Mutex
	inner Value
}

// Shared wraps a value in an aliasing, mutex-guarded cell. Every Clone of a
// Shared handle refers to the same cell; mutation through one handle is
// visible through all of them. Re-entering the same cell from inside an
// Update callback deadlocks; callers must not do that.
type Shared struct {
	cell *sharedCell
}

func NewShared(v Value) Shared {
	return Shared{cell: &sharedCell{inner: v}}
}

func (Shared) isValue()   {}
func (Shared) Kind() Kind { return KindShared }

func (s Shared) Clone() Value { return s }
func (Shared) Release()       {}

func (s Shared) Truthy() bool {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	return s.cell.inner.Truthy()
}

// Get returns a retained handle to the current inner value.
func (s Shared) Get() Value {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	return s.cell.inner.Clone()
}

// Set replaces the inner value, taking ownership of v.
func (s Shared) Set(v Value) {
	s.cell.mu.Lock()
	old := s.cell.inner
	s.cell.inner = v
	s.cell.mu.Unlock()
	old.Release()
}

// Update applies f to the inner value under the lock and installs the result.
func (s Shared) Update(f func(Value) (Value, error)) error {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	next, err := f(s.cell.inner)
	if err != nil {
		return err
	}
	s.cell.inner = next
	return nil
}
