package requests

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/storefront/internal/future"
	"github.com/briangreenhill/storefront/internal/loop"
	"github.com/briangreenhill/storefront/internal/metrics"
)

// Pool tracks the calls of one page build. It is itself a future that
// resolves once Finish has been called and no call is outstanding, or
// rejects when aborted.
//
// GETs are deduplicated by URL for the lifetime of the pool. Once the pool
// has settled it refuses new calls.
type Pool struct {
	*future.Future[struct{}]

	client *Client
	loop   *loop.Loop
	log    zerolog.Logger

	tracked     []*Request
	gets        map[string]*Request
	outstanding int
	finishing   bool
}

// NewPool creates an open pool issuing calls through client.
func NewPool(client *Client) *Pool {
	return &Pool{
		Future: future.New[struct{}](),
		client: client,
		loop:   client.loop,
		log:    client.log,
		gets:   make(map[string]*Request),
	}
}

// Closed reports whether the pool no longer accepts calls.
func (p *Pool) Closed() bool { return p.Settled() }

// Key returns the cache and dedup key of url.
func (p *Pool) Key(url string) string { return p.client.Key(url) }

// Outstanding returns the number of unsettled tracked calls.
func (p *Pool) Outstanding() int { return p.outstanding }

// Get returns the pool's request for url, issuing it on first use.
func (p *Pool) Get(url string) *Request {
	if p.Closed() {
		return p.refuse(http.MethodGet, url)
	}
	key := p.client.Key(url)
	if r, ok := p.gets[key]; ok {
		metrics.PoolRequests.WithLabelValues(http.MethodGet, "true").Inc()
		return r
	}
	r := p.client.Get(url)
	p.gets[key] = r
	return p.track(r)
}

// Post issues a tracked POST.
func (p *Pool) Post(url string, body any) *Request {
	if p.Closed() {
		return p.refuse(http.MethodPost, url)
	}
	return p.track(p.client.Post(url, body))
}

// Put issues a tracked PUT.
func (p *Pool) Put(url string, body any) *Request {
	if p.Closed() {
		return p.refuse(http.MethodPut, url)
	}
	return p.track(p.client.Put(url, body))
}

// Patch issues a tracked PATCH.
func (p *Pool) Patch(url string, body any) *Request {
	if p.Closed() {
		return p.refuse(http.MethodPatch, url)
	}
	return p.track(p.client.Patch(url, body))
}

// Del issues a tracked DELETE.
func (p *Pool) Del(url string) *Request {
	if p.Closed() {
		return p.refuse(http.MethodDelete, url)
	}
	return p.track(p.client.Del(url))
}

// Finish marks the pool as complete once outstanding calls settle. The
// pool's own completion is always delivered on a later loop tick.
func (p *Pool) Finish() {
	p.finishing = true
	p.checkFinished()
}

// Abort cancels every pending tracked call and rejects the pool.
func (p *Pool) Abort() {
	if p.Closed() {
		return
	}
	aborted := 0
	for _, r := range p.tracked {
		if r.Abort() {
			aborted++
		}
	}
	p.log.Debug().Int("aborted", aborted).Msg("request pool aborted")
	p.Reject(ErrAborted)
}

func (p *Pool) track(r *Request) *Request {
	metrics.PoolRequests.WithLabelValues(r.Method, "false").Inc()
	p.tracked = append(p.tracked, r)
	p.outstanding++
	r.Always(func() {
		p.outstanding--
		p.checkFinished()
	})
	return r
}

// checkFinished defers the decision to the next tick so calls registered by
// settle callbacks in this tick are counted first.
func (p *Pool) checkFinished() {
	if !p.finishing || p.outstanding > 0 {
		return
	}
	p.loop.Post(func() {
		if p.outstanding == 0 && !p.Settled() {
			p.Resolve(struct{}{})
		}
	})
}

func (p *Pool) refuse(method, url string) *Request {
	p.log.Error().Str("method", method).Str("url", url).Msg("call on closed request pool")
	return Failed(method, url, ErrPoolClosed)
}
