package requests

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/storefront/cache"
	"github.com/briangreenhill/storefront/internal/loop"
)

// Client issues calls through a Transport and settles them on the loop.
// GETs read from and write to the object cache.
type Client struct {
	loop      *loop.Loop
	cache     cache.Cache
	transport Transport
	log       zerolog.Logger
	ctx       context.Context
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithContext sets the parent context of every call; cancelling it aborts
// in-flight transport work.
func WithContext(ctx context.Context) Option {
	return func(c *Client) { c.ctx = ctx }
}

// NewClient creates a client bound to l and objects.
func NewClient(l *loop.Loop, objects cache.Cache, t Transport, opts ...Option) *Client {
	c := &Client{
		loop:      l,
		cache:     objects,
		transport: t,
		log:       zerolog.Nop(),
		ctx:       context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key returns the cache key used for a GET of url.
func (c *Client) Key(url string) string {
	return cache.DefaultKeyGenerator.Canonical(url)
}

// Get returns the cached value for url when present, otherwise fetches it
// and stores the response in the cache before resolving.
func (c *Client) Get(url string) *Request {
	key := c.Key(url)
	if v, ok := c.cache.Get(key); ok {
		r := Resolved(url, v)
		r.Cached = true
		return r
	}
	return c.send(http.MethodGet, url, nil)
}

// Post issues a POST.
func (c *Client) Post(url string, body any) *Request { return c.send(http.MethodPost, url, body) }

// Put issues a PUT.
func (c *Client) Put(url string, body any) *Request { return c.send(http.MethodPut, url, body) }

// Patch issues a PATCH.
func (c *Client) Patch(url string, body any) *Request { return c.send(http.MethodPatch, url, body) }

// Del issues a DELETE.
func (c *Client) Del(url string) *Request { return c.send(http.MethodDelete, url, nil) }

func (c *Client) send(method, url string, body any) *Request {
	ctx, cancel := context.WithCancel(c.ctx)
	r := newRequest(method, url)
	r.cancel = cancel

	c.log.Debug().Str("method", method).Str("url", url).Msg("request issued")
	c.transport.Send(ctx, Call{Method: method, URL: url, Body: body}, func(resp Response, err error) {
		c.loop.Post(func() {
			defer cancel()
			c.settle(r, resp, err)
		})
	})
	return r
}

func (c *Client) settle(r *Request, resp Response, err error) {
	if r.Settled() {
		// Aborted while the call was in flight.
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("method", r.Method).Str("url", r.URL).Int("status", resp.Status).Msg("request failed")
		r.Reject(&FetchError{Method: r.Method, URL: r.URL, Status: resp.Status, Err: err})
		return
	}
	if r.Method == http.MethodGet {
		c.cache.Set(c.Key(r.URL), resp.Body)
	}
	r.Resolve(resp.Body)
}
