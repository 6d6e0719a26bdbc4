// Package routes holds the storefront route table and the views it resolves to.
package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/briangreenhill/storefront/internal/builder"
	"github.com/briangreenhill/storefront/internal/urls"
)

// NotFound is the name of the view unmatched paths resolve to.
const NotFound = "notfound"

// Meta is what a view reports about the page it built.
type Meta struct {
	Title string
	// Type is "root" for top-level pages, "search" for search results.
	Type string
	// Parent is the path that must sit directly behind this page in the
	// navigation stack, if any.
	Parent string
}

// Request is a resolved navigation target.
type Request struct {
	Path  string
	Args  map[string]string
	Query url.Values
}

// View renders one kind of page.
type View struct {
	Name    string
	Pattern string
	Build   func(b *builder.Builder, req Request) (Meta, error)
}

// Table matches paths to views.
type Table struct {
	Router    *chi.Mux
	urls      *urls.Builder
	byPattern map[string]*View
	views     []*View
	notFound  *View
}

// New creates an empty table. Registered route names are also added to u
// so templates can reverse them.
func New(u *urls.Builder) *Table {
	return &Table{
		Router:    chi.NewRouter(),
		urls:      u,
		byPattern: make(map[string]*View),
		notFound:  &View{Name: NotFound, Build: notFound},
	}
}

// Add registers v.
func (t *Table) Add(v *View) {
	t.Router.Get(v.Pattern, func(http.ResponseWriter, *http.Request) {})
	t.byPattern[v.Pattern] = v
	t.views = append(t.views, v)
	t.urls.AddRoute(v.Name, v.Pattern)
}

// SetNotFound replaces the view for unmatched paths.
func (t *Table) SetNotFound(v *View) { t.notFound = v }

// Views returns the registered views in registration order.
func (t *Table) Views() []*View { return t.views }

// Reverse returns the path of the named route.
func (t *Table) Reverse(name string, args ...any) (string, error) {
	return t.urls.Reverse(name, args...)
}

// Resolve matches the path of target. It never fails: unmatched or
// unparsable targets resolve to the not-found view.
func (t *Table) Resolve(target string) (*View, Request) {
	u, err := url.Parse(target)
	if err != nil {
		return t.notFound, Request{Path: target, Args: map[string]string{}}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	req := Request{Path: path, Args: map[string]string{}, Query: u.Query()}

	rctx := chi.NewRouteContext()
	if !t.Router.Match(rctx, http.MethodGet, path) {
		return t.notFound, req
	}
	v, ok := t.byPattern[rctx.RoutePattern()]
	if !ok {
		return t.notFound, req
	}
	for i, k := range rctx.URLParams.Keys {
		req.Args[k] = rctx.URLParams.Values[i]
	}
	return v, req
}

func pageContext(req Request) map[string]any {
	return map[string]any{
		"Path":  req.Path,
		"Args":  req.Args,
		"Query": req.Query.Get("q"),
	}
}

func notFound(b *builder.Builder, req Request) (Meta, error) {
	if err := b.Start("errors/notfound", pageContext(req)); err != nil {
		return Meta{}, fmt.Errorf("not found view: %w", err)
	}
	return Meta{Title: "Not found", Type: "leaf"}, nil
}
