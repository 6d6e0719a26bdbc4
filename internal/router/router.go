// Package router turns navigation intents into page builds and keeps the
// navigation stack: the most-recent-first list of visited pages used for
// back navigation, with navigation loops and parent chains normalized.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/storefront/internal/builder"
	"github.com/briangreenhill/storefront/internal/events"
	"github.com/briangreenhill/storefront/internal/loop"
	"github.com/briangreenhill/storefront/internal/metrics"
	"github.com/briangreenhill/storefront/internal/routes"
)

// ErrOffline is returned when navigation is skipped because the window is offline.
var ErrOffline = errors.New("offline")

// Stack entry types with special handling.
const (
	TypeRoot   = "root"
	TypeSearch = "search"
)

// State is one navigation stack entry, also stored in history entries.
type State struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
	Type   string            `json:"type,omitempty"`
	Title  string            `json:"title,omitempty"`
	// ScrollTop is the saved scroll offset; nil when never recorded.
	ScrollTop      *int `json:"scrollTop,omitempty"`
	PreserveScroll bool `json:"preserveScroll,omitempty"`
}

func (s State) clone() State {
	out := s
	if s.Params != nil {
		out.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	if s.ScrollTop != nil {
		y := *s.ScrollTop
		out.ScrollTop = &y
	}
	return out
}

// Phase is where the router is in handling a navigation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNavigating
	PhaseCommitted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseNavigating:
		return "navigating"
	case PhaseCommitted:
		return "committed"
	case PhaseAborted:
		return "aborted"
	default:
		return "idle"
	}
}

// Config holds router settings.
type Config struct {
	// Headless navigates even when the window reports offline.
	Headless bool
	// CanonicalParams are the query parameters kept in stack paths.
	CanonicalParams []string
	// Host is the site host; links to other hosts are not intercepted.
	Host string
}

// Deps are the router's collaborators.
type Deps struct {
	Routes  *routes.Table
	Build   func() *builder.Builder
	Loop    *loop.Loop
	Bus     *events.Bus
	History History
	Window  Window
	Search  SearchBox
	Log     zerolog.Logger
}

// Router handles navigation.
type Router struct {
	cfg    Config
	deps   Deps
	stack  []State
	active *builder.Builder
	phase  Phase
	loaded bool
}

// New creates a router and subscribes it to the navigate, divert and
// search signals.
func New(cfg Config, deps Deps) *Router {
	r := &Router{cfg: cfg, deps: deps}
	deps.Bus.On(events.Navigate, func(p any) { r.fromSignal("navigate", p, false) })
	deps.Bus.On(events.Divert, func(p any) { r.fromSignal("divert", p, true) })
	deps.Bus.On(events.Search, func(p any) {
		q, _ := p.(string)
		if err := r.HandleSearch(q); err != nil {
			r.deps.Log.Error().Err(err).Msg("search navigation failed")
		}
	})
	return r
}

func (r *Router) fromSignal(name string, p any, divert bool) {
	target, ok := p.(string)
	if !ok {
		r.deps.Log.Error().Str("signal", name).Msgf("payload %T is not a url", p)
		return
	}
	if err := r.Go(target, divert); err != nil {
		r.deps.Log.Error().Err(err).Str("signal", name).Str("url", target).Msg("navigation failed")
	}
}

// Stack returns a copy of the navigation stack, current page first.
func (r *Router) Stack() []State {
	out := make([]State, len(r.stack))
	for i, s := range r.stack {
		out[i] = s.clone()
	}
	return out
}

// Active returns the current page build.
func (r *Router) Active() *builder.Builder { return r.active }

// Phase returns the state of the last navigation.
func (r *Router) Phase() Phase { return r.phase }

// Go navigates to target through history: the first navigation and
// diverts replace the current history entry, others push one. A divert
// also drops the current page from the stack.
func (r *Router) Go(target string, divert bool) error {
	if len(r.stack) > 0 {
		y := r.deps.Window.ScrollY()
		r.stack[0].ScrollTop = &y
		r.deps.History.Replace(r.stack[0], r.stack[0].Title, r.stack[0].Path)
	}
	first := !r.loaded
	prev := r.stack
	if divert && len(r.stack) > 0 {
		r.stack = r.stack[1:]
	}

	st := &State{Path: target}
	if err := r.Navigate(target, false, st); err != nil {
		// The current page stays on the stack when the divert fails.
		r.stack = prev
		return err
	}
	if first || divert {
		r.deps.History.Replace(*st, st.Title, st.Path)
	} else {
		r.deps.History.Push(*st, st.Title, st.Path)
	}
	r.loaded = true
	return nil
}

// Pop handles a browser back or forward to state.
func (r *Router) Pop(state State) error {
	st := state.clone()
	return r.Navigate(st.Path, true, &st)
}

// HandleSearch navigates to the search results for q.
func (r *Router) HandleSearch(q string) error {
	path, err := r.deps.Routes.Reverse("search")
	if err != nil {
		return err
	}
	return r.Go(path+"?"+url.Values{"q": {q}}.Encode(), false)
}

// Navigate builds the page for target and updates the stack. state is
// completed in place with the canonical path, params, type and title.
func (r *Router) Navigate(target string, popped bool, state *State) error {
	if !r.cfg.Headless && !r.deps.Window.Online() {
		r.deps.Log.Info().Str("url", target).Msg("offline, navigation skipped")
		return ErrOffline
	}
	if state == nil {
		state = &State{Path: target}
	}
	r.phase = PhaseNavigating

	view, req := r.deps.Routes.Resolve(target)

	if r.active != nil {
		r.deps.Bus.Emit(events.Unloading, r.active)
		r.active.Terminate()
	}

	b := r.deps.Build()
	r.active = b
	meta, err := view.Build(b, req)
	b.Finish()
	if err != nil {
		r.phase = PhaseAborted
		return fmt.Errorf("build %s: %w", view.Name, err)
	}
	metrics.Navigations.WithLabelValues(view.Name).Inc()

	r.deps.Bus.Emit(events.Navigating, popped)

	if (popped || state.PreserveScroll) && state.ScrollTop != nil {
		y := *state.ScrollTop
		b.Ready().Then(func(struct{}) { r.deps.Window.ScrollTo(y) })
	} else {
		r.deps.Loop.Post(func() {
			if r.active == b {
				r.deps.Window.ScrollTo(0)
			}
		})
	}

	state.Path = Canonical(req.Path+"?"+req.Query.Encode(), r.cfg.CanonicalParams)
	state.Params = req.Args
	state.Type = meta.Type
	state.Title = b.Title()
	if state.Title == "" {
		state.Title = meta.Title
	}
	parent := ""
	if meta.Parent != "" {
		parent = Canonical(meta.Parent, r.cfg.CanonicalParams)
	}
	r.stack = push(r.stack, *state, popped, parent)
	if state.Type == TypeRoot {
		r.deps.Search.Clear()
	}

	r.deps.Window.SetTitle(state.Title)
	path := state.Path
	b.OnTitle(func(title string) { r.retitle(b, path, title) })

	r.phase = PhaseCommitted
	r.deps.Log.Debug().Str("view", view.Name).Str("path", state.Path).Bool("popped", popped).
		Int("depth", len(r.stack)).Msg("navigated")
	return nil
}

func (r *Router) retitle(b *builder.Builder, path, title string) {
	if r.active != b {
		return
	}
	r.deps.Window.SetTitle(title)
	if len(r.stack) > 0 && r.stack[0].Path == path {
		r.stack[0].Title = title
		r.deps.History.Replace(r.stack[0], title, path)
	}
}

// push applies a committed navigation to stack and returns the new stack.
func push(stack []State, st State, popped bool, parent string) []State {
	// Close a navigation loop back to an earlier visit of this page.
	for i, e := range stack {
		if e.Path == st.Path || (st.Type == TypeSearch && e.Type == TypeSearch) {
			stack = stack[i+1:]
			break
		}
	}

	if st.Type == TypeRoot {
		return []State{st}
	}

	if popped && len(stack) > 0 && stack[0].Path == st.Path {
		stack = stack[1:]
	} else {
		stack = append([]State{st}, stack...)
	}

	if parent == "" {
		return stack
	}
	p := -1
	for i, e := range stack {
		if e.Path == parent {
			p = i
			break
		}
	}
	switch {
	case p > 1:
		stack = append(stack[:1:1], stack[p:]...)
	case p == -1:
		rest := append([]State{{Path: parent}}, stack[1:]...)
		stack = append(stack[:1:1], rest...)
	}
	return stack
}

// Canonical strips query parameters outside allowed from raw and sorts the
// rest, so equal pages compare equal.
func Canonical(raw string, allowed []string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	keep := url.Values{}
	names := append([]string(nil), allowed...)
	sort.Strings(names)
	for _, k := range names {
		if vs, ok := q[k]; ok {
			keep[k] = vs
		}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if enc := keep.Encode(); enc != "" {
		return path + "?" + enc
	}
	return path
}

// Click describes an activated link.
type Click struct {
	Href string
	// Rel is the link's rel attribute; "external" opts out.
	Rel string
	// NoIntercept is set for links marked to keep native handling.
	NoIntercept bool
	Button      int
	Ctrl        bool
	Meta        bool
	Shift       bool
	Alt         bool
}

// HandleClick emits a navigate signal for links the router handles and
// reports whether it did. External, non-http, same-page and opted-out
// links, and modified or non-primary clicks, are left to the browser.
func (r *Router) HandleClick(c Click) bool {
	if c.Button != 0 || c.Ctrl || c.Meta || c.Shift || c.Alt || c.NoIntercept {
		return false
	}
	if c.Rel == "external" || c.Href == "" || strings.HasPrefix(c.Href, "#") {
		return false
	}
	u, err := url.Parse(c.Href)
	if err != nil {
		return false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host != "" && !strings.EqualFold(u.Host, r.cfg.Host) {
		return false
	}
	target := u.Path
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	r.deps.Bus.Emit(events.Navigate, target)
	return true
}
