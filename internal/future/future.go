// Package future implements the single-resolution completion handle used by
// requests, pools and deferred blocks.
//
// A Future is settled once, either with a value or an error. Callbacks
// registered before settlement run in registration order at settlement;
// callbacks registered afterwards run immediately. Futures are not safe for
// concurrent use: they are owned by the event loop goroutine.
package future

// State describes where a future is in its lifecycle.
type State int

const (
	StatePending State = iota
	StateResolved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return "pending"
	}
}

type handler[T any] struct {
	ok     func(T)
	fail   func(error)
	always func()
}

// Future is a single-resolution completion handle.
type Future[T any] struct {
	state    State
	value    T
	err      error
	handlers []handler[T]
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{}
}

// Resolved returns a future already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Failed returns a future already settled with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve settles the future with v. It reports false if it was already settled.
func (f *Future[T]) Resolve(v T) bool {
	if f.state != StatePending {
		return false
	}
	f.state, f.value = StateResolved, v
	f.flush()
	return true
}

// Reject settles the future with err. It reports false if it was already settled.
func (f *Future[T]) Reject(err error) bool {
	if f.state != StatePending {
		return false
	}
	f.state, f.err = StateRejected, err
	f.flush()
	return true
}

// State returns the current state.
func (f *Future[T]) State() State { return f.state }

// Settled reports whether the future is no longer pending.
func (f *Future[T]) Settled() bool { return f.state != StatePending }

// Value returns the resolved value and the rejection error.
func (f *Future[T]) Value() (T, error) { return f.value, f.err }

// Then registers fn to run with the value on success.
func (f *Future[T]) Then(fn func(T)) *Future[T] {
	return f.add(handler[T]{ok: fn})
}

// Catch registers fn to run with the error on failure.
func (f *Future[T]) Catch(fn func(error)) *Future[T] {
	return f.add(handler[T]{fail: fn})
}

// Always registers fn to run on either outcome.
func (f *Future[T]) Always(fn func()) *Future[T] {
	return f.add(handler[T]{always: fn})
}

func (f *Future[T]) add(h handler[T]) *Future[T] {
	if f.state == StatePending {
		f.handlers = append(f.handlers, h)
		return f
	}
	f.run(h)
	return f
}

func (f *Future[T]) flush() {
	handlers := f.handlers
	f.handlers = nil
	for _, h := range handlers {
		f.run(h)
	}
}

func (f *Future[T]) run(h handler[T]) {
	switch {
	case h.always != nil:
		h.always()
	case f.state == StateResolved && h.ok != nil:
		h.ok(f.value)
	case f.state == StateRejected && h.fail != nil:
		h.fail(f.err)
	}
}

// All resolves once every input has resolved, with the values in input
// order, and rejects with the first rejection.
func All[T any](fs ...*Future[T]) *Future[[]T] {
	out := New[[]T]()
	if len(fs) == 0 {
		out.Resolve(nil)
		return out
	}
	values := make([]T, len(fs))
	remaining := len(fs)
	for i, f := range fs {
		f.Then(func(v T) {
			values[i] = v
			remaining--
			if remaining == 0 {
				out.Resolve(values)
			}
		})
		f.Catch(func(err error) { out.Reject(err) })
	}
	return out
}
