// Package requests issues API calls for the storefront runtime: a transport
// abstraction, a cache-aware client and per-build request pools.
package requests

import (
	"context"
	"errors"
	"fmt"

	"github.com/briangreenhill/storefront/internal/future"
)

var (
	// ErrAborted is the failure of a request or pool that was cancelled.
	ErrAborted = errors.New("request aborted")
	// ErrPoolClosed is returned for calls made on a pool that has already finished.
	ErrPoolClosed = errors.New("request pool is closed")
)

// FetchError describes a failed network call.
type FetchError struct {
	Method string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Request is the completion handle of one call. It resolves with the
// decoded response body.
type Request struct {
	*future.Future[any]

	Method string
	URL    string
	// Cached is set when the value came from the object cache without a network call.
	Cached bool
	// Casted is set when the value came from the model store's identity map.
	Casted bool

	cancel context.CancelFunc
}

func newRequest(method, url string) *Request {
	return &Request{Future: future.New[any](), Method: method, URL: url}
}

// Resolved returns a GET request already settled with v.
func Resolved(url string, v any) *Request {
	r := newRequest("GET", url)
	r.Resolve(v)
	return r
}

// Failed returns a request already settled with err.
func Failed(method, url string, err error) *Request {
	r := newRequest(method, url)
	r.Reject(err)
	return r
}

// Abortable reports whether Abort would cancel an in-flight call.
func (r *Request) Abortable() bool {
	return !r.Settled() && r.cancel != nil
}

// Abort cancels an in-flight call and rejects the request with ErrAborted.
func (r *Request) Abort() bool {
	if !r.Abortable() {
		return false
	}
	r.cancel()
	return r.Reject(&FetchError{Method: r.Method, URL: r.URL, Err: ErrAborted})
}
