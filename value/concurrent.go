package value

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrTaskCancelled = errors.New("task cancelled")

type futureState struct {
	done   chan struct{}
	once   sync.Once
	result Value
	err    error
}

// Future resolves to a value produced by scheduled work. Internals are
// engine-independent: a completion channel plus a write-once result slot.
type Future struct {
	state *futureState
}

// NewFuture returns an unresolved future and its completer. The completer is
// idempotent; only the first call wins.
func NewFuture() (Future, func(Value, error)) {
	st := &futureState{done: make(chan struct{})}
	complete := func(v Value, err error) {
		st.once.Do(func() {
			if v == nil {
				v = NullValue
			}
			st.result = v
			st.err = err
			close(st.done)
		})
	}
	return Future{state: st}, complete
}

func (Future) isValue()       {}
func (Future) Kind() Kind     { return KindFuture }
func (f Future) Clone() Value { return f }
func (Future) Release()       {}
func (Future) Truthy() bool   { return true }

// Await blocks until the future resolves.
func (f Future) Await() (Value, error) {
	<-f.state.done
	if f.state.err != nil {
		return nil, f.state.err
	}
	return f.state.result.Clone(), nil
}

// Done reports resolution without blocking.
func (f Future) Done() bool {
	select {
	case <-f.state.done:
		return true
	default:
		return false
	}
}

// Task is the handle to scheduled work: a future plus a cancel hook.
// Cancelling drops the captured values through normal release; there is no
// further protocol at the Value level.
type Task struct {
	ID     uuid.UUID
	Fut    Future
	cancel func()
}

func NewTask(fut Future, cancel func()) Task {
	return Task{ID: uuid.New(), Fut: fut, cancel: cancel}
}

func (Task) isValue()       {}
func (Task) Kind() Kind     { return KindTask }
func (t Task) Clone() Value { return t }
func (Task) Release()       {}
func (Task) Truthy() bool   { return true }

func (t Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Chan is a channel endpoint. Values sent through it must satisfy thread
// transferability, which every Value does by construction.
type Chan struct {
	ch chan Value
}

func NewChan(capacity int) Chan {
	if capacity < 0 {
		capacity = 0
	}
	return Chan{ch: make(chan Value, capacity)}
}

func (Chan) isValue()       {}
func (Chan) Kind() Kind     { return KindChan }
func (c Chan) Clone() Value { return c }
func (Chan) Release()       {}
func (Chan) Truthy() bool   { return true }

func (c Chan) Send(v Value) { c.ch <- v }

// Recv blocks until a value arrives or the channel closes.
func (c Chan) Recv() (Value, bool) {
	v, ok := <-c.ch
	if !ok {
		return NullValue, false
	}
	return v, true
}

func (c Chan) Close() { close(c.ch) }
