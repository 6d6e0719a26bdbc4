// Package sitetest provides a mock storefront API for end-to-end tests.
package sitetest

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// API is a mock of the storefront API endpoints the bundled views use.
type API struct {
	Server *httptest.Server

	mu     sync.Mutex
	auth   []string
	hits   map[string]int
	stall  chan struct{}
	stalls map[string]bool
}

// NewAPI starts the mock API. Close stops it.
func NewAPI() *API {
	a := &API{hits: map[string]int{}, stall: make(chan struct{}), stalls: map[string]bool{}}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/fireplace/search/featured/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "" {
			a.write(w, list(nil, apps("clock")...))
			return
		}
		a.write(w, list("/api/v1/fireplace/search/featured/?offset=2&limit=2", apps("maps", "mail")...))
	})
	mux.HandleFunc("/api/v1/apps/category/", func(w http.ResponseWriter, r *http.Request) {
		a.write(w, list(nil, map[string]any{"slug": "games", "name": "Games"}))
	})
	mux.HandleFunc("/api/v1/fireplace/search/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "nothing" {
			a.write(w, list(nil))
			return
		}
		a.write(w, list(nil, apps("maps")...))
	})
	mux.HandleFunc("/api/v1/apps/app/", func(w http.ResponseWriter, r *http.Request) {
		slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/apps/app/"), "/")
		if slug == "" || slug == "missing" {
			http.Error(w, `{"detail": "not found"}`, http.StatusNotFound)
			return
		}
		app := apps(slug)[0].(map[string]any)
		app["author"] = "Mozilla"
		a.write(w, app)
	})
	mux.HandleFunc("/api/v1/apps/rating/", func(w http.ResponseWriter, r *http.Request) {
		a.write(w, list(nil, map[string]any{
			"resource_uri": "/api/v1/apps/rating/1/",
			"rating":       5,
			"body":         "Great",
		}))
	})

	a.Server = httptest.NewServer(a.track(mux))
	return a
}

// URL is the API base URL.
func (a *API) URL() string { return a.Server.URL }

// Close releases stalled calls and stops the server.
func (a *API) Close() {
	a.mu.Lock()
	select {
	case <-a.stall:
	default:
		close(a.stall)
	}
	a.mu.Unlock()
	a.Server.Close()
}

// Stall makes calls to path hang until Close.
func (a *API) Stall(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stalls[path] = true
}

// Authorizations returns the Authorization header of every call, in order.
func (a *API) Authorizations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.auth...)
}

// Hits returns how many calls reached path.
func (a *API) Hits(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[path]
}

func (a *API) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.auth = append(a.auth, r.Header.Get("Authorization"))
		a.hits[r.URL.Path]++
		stalled := a.stalls[r.URL.Path]
		a.mu.Unlock()
		if stalled {
			<-a.stall
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func apps(slugs ...string) []any {
	out := make([]any, len(slugs))
	for i, s := range slugs {
		out[i] = map[string]any{
			"slug":        s,
			"name":        titleCase(s),
			"description": "The " + s + " app.",
		}
	}
	return out
}

func list(next any, objects ...any) map[string]any {
	if objects == nil {
		objects = []any{}
	}
	return map[string]any{
		"meta":    map[string]any{"limit": len(objects), "next": next},
		"objects": objects,
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
