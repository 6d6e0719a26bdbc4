// Package loop provides the single event queue the storefront runtime runs on.
//
// Every callback of the coordination layer (cache writes, pool bookkeeping,
// block rendering, navigation) executes on the loop goroutine, so those
// components never take locks. Work produced on other goroutines, such as a
// finished HTTP call, re-enters the runtime through Post.
package loop

import (
	"context"
	"sync"
)

// Loop is a FIFO task queue drained by one goroutine at a time.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post schedules fn to run on a later tick. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Drain runs queued tasks, including tasks they post, until the queue is
// empty. It returns the number of tasks executed.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn := l.next()
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}

// Run processes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}
