package requests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"
)

// Call is one outgoing API call.
type Call struct {
	Method string
	URL    string
	Body   any
}

// Response is a decoded API response.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

// Transport performs calls. Send must not block; done may be invoked from
// any goroutine, exactly once, unless ctx is cancelled first.
type Transport interface {
	Send(ctx context.Context, call Call, done func(Response, error))
}

// HTTPTransport sends JSON calls over net/http.
type HTTPTransport struct {
	http    *http.Client
	baseURL *url.URL

	mu    sync.RWMutex
	token *oauth2.Token
}

var _ Transport = (*HTTPTransport)(nil)

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.http = h }
}

// WithConditionalCache keeps an in-memory HTTP cache honouring ETag and
// Cache-Control, so revalidated responses skip the body transfer.
func WithConditionalCache() HTTPOption {
	return func(t *HTTPTransport) {
		ct := httpcache.NewMemoryCacheTransport()
		if t.http.Transport != nil {
			ct.Transport = t.http.Transport
		}
		t.http = &http.Client{Transport: ct, Timeout: t.http.Timeout}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		h := *t.http
		h.Timeout = d
		t.http = &h
	}
}

// WithToken authenticates calls with a bearer token.
func WithToken(tok *oauth2.Token) HTTPOption {
	return func(t *HTTPTransport) { t.token = tok }
}

// NewHTTPTransport creates a transport resolving relative URLs against baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	t := &HTTPTransport{http: &http.Client{}, baseURL: u}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// SetToken swaps the bearer token; nil signs the transport out.
func (t *HTTPTransport) SetToken(tok *oauth2.Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = tok
}

func (t *HTTPTransport) currentToken() *oauth2.Token {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, call Call, done func(Response, error)) {
	go func() {
		resp, err := t.do(ctx, call)
		if ctx.Err() != nil {
			return
		}
		done(resp, err)
	}()
}

func (t *HTTPTransport) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return t.baseURL.ResolveReference(ref).String(), nil
}

func (t *HTTPTransport) do(ctx context.Context, call Call) (Response, error) {
	target, err := t.resolve(call.URL)
	if err != nil {
		return Response{}, err
	}

	var body io.Reader
	if call.Body != nil {
		b, err := json.Marshal(call.Body)
		if err != nil {
			return Response{}, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := t.currentToken(); tok != nil && tok.AccessToken != "" {
		tok.SetAuthHeader(req)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Status: resp.StatusCode, Header: resp.Header}, err
	}

	out := Response{Status: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out.Body); err != nil {
			return out, fmt.Errorf("decode body: %w", err)
		}
	}
	return out, nil
}
