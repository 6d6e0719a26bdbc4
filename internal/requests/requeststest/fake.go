// Package requeststest provides a scriptable transport for tests.
package requeststest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/briangreenhill/storefront/internal/requests"
)

// Pending is a call waiting for a scripted reply.
type Pending struct {
	Call requests.Call
	ctx  context.Context
	done func(requests.Response, error)
}

// Cancelled reports whether the caller gave up on the call.
func (p *Pending) Cancelled() bool { return p.ctx.Err() != nil }

// Transport records calls and settles them only when told to.
type Transport struct {
	mu      sync.Mutex
	pending []*Pending
	calls   []requests.Call
}

var _ requests.Transport = (*Transport)(nil)

// New creates an empty fake transport.
func New() *Transport { return &Transport{} }

// Send implements requests.Transport.
func (t *Transport) Send(ctx context.Context, call requests.Call, done func(requests.Response, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
	t.pending = append(t.pending, &Pending{Call: call, ctx: ctx, done: done})
}

// Calls returns every call sent so far.
func (t *Transport) Calls() []requests.Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]requests.Call(nil), t.calls...)
}

// CallCount returns how many calls were sent to url.
func (t *Transport) CallCount(url string) int {
	n := 0
	for _, c := range t.Calls() {
		if c.URL == url {
			n++
		}
	}
	return n
}

// Pending returns the unsettled calls.
func (t *Transport) Pending() []*Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Pending(nil), t.pending...)
}

// Reply settles the oldest pending call to url with a 200 and body.
func (t *Transport) Reply(url string, body any) error {
	p, err := t.take(url)
	if err != nil {
		return err
	}
	p.done(requests.Response{Status: http.StatusOK, Header: http.Header{}, Body: body}, nil)
	return nil
}

// Fail settles the oldest pending call to url with status.
func (t *Transport) Fail(url string, status int) error {
	p, err := t.take(url)
	if err != nil {
		return err
	}
	p.done(requests.Response{Status: status, Header: http.Header{}},
		fmt.Errorf("unexpected status %d", status))
	return nil
}

func (t *Transport) take(url string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pending {
		if p.Call.URL == url {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return p, nil
		}
	}
	return nil, errors.New("no pending call for " + url)
}
