package router

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/storefront/cache"
	"github.com/briangreenhill/storefront/internal/builder"
	"github.com/briangreenhill/storefront/internal/events"
	"github.com/briangreenhill/storefront/internal/loop"
	"github.com/briangreenhill/storefront/internal/models"
	"github.com/briangreenhill/storefront/internal/requests"
	"github.com/briangreenhill/storefront/internal/requests/requeststest"
	"github.com/briangreenhill/storefront/internal/routes"
	"github.com/briangreenhill/storefront/internal/urls"
)

const testTemplates = `
{{define "page"}}<p class="path">{{.Path}}</p>{{end}}
{{define "errors/notfound"}}<p class="missing">missing</p>{{end}}
{{define "app"}}{{deferred (sig "url" (print "/api/app/" .Args.slug "/") "id" "app") "app/body"}}{{end}}
{{define "app/body"}}<h1>{{.Data.name}}</h1>{{end}}
`

type harness struct {
	loop      *loop.Loop
	bus       *events.Bus
	transport *requeststest.Transport
	history   *MemoryHistory
	window    *MemoryWindow
	search    *MemorySearchBox
	router    *Router
}

func page(typ, parent string) func(*builder.Builder, routes.Request) (routes.Meta, error) {
	return func(b *builder.Builder, req routes.Request) (routes.Meta, error) {
		if err := b.Start("page", map[string]any{"Path": req.Path, "Args": req.Args}); err != nil {
			return routes.Meta{}, err
		}
		return routes.Meta{Title: req.Path, Type: typ, Parent: parent}, nil
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	tpl, err := builder.LoadTemplates(fstest.MapFS{"t.tmpl": {Data: []byte(testTemplates)}}, zerolog.Nop())
	require.NoError(t, err)

	h := &harness{
		loop:      loop.New(),
		bus:       events.New(zerolog.Nop()),
		transport: requeststest.New(),
		history:   NewMemoryHistory(),
		window:    &MemoryWindow{},
		search:    &MemorySearchBox{Value: "old query"},
	}
	objects := cache.New()
	client := requests.NewClient(h.loop, objects, h.transport)
	u := urls.New(urls.DefaultEndpoints, nil)

	table := routes.New(u)
	table.Add(&routes.View{Name: "home", Pattern: "/", Build: page(TypeRoot, "")})
	for _, p := range []string{"/a", "/b", "/c", "/cats"} {
		table.Add(&routes.View{Name: p[1:], Pattern: p, Build: page("leaf", "")})
	}
	table.Add(&routes.View{Name: "search", Pattern: "/search", Build: page(TypeSearch, "")})
	table.Add(&routes.View{Name: "cat", Pattern: "/cats/{slug}", Build: page("leaf", "/cats")})
	table.Add(&routes.View{Name: "boom", Pattern: "/boom", Build: func(*builder.Builder, routes.Request) (routes.Meta, error) {
		return routes.Meta{}, errors.New("boom")
	}})
	table.Add(&routes.View{Name: "app", Pattern: "/app/{slug}", Build: func(b *builder.Builder, req routes.Request) (routes.Meta, error) {
		if err := b.Start("app", map[string]any{"Args": req.Args}); err != nil {
			return routes.Meta{}, err
		}
		b.Onload("app", func(d any) { b.SetTitle(d.(map[string]any)["name"].(string)) })
		return routes.Meta{Title: "loading", Type: "leaf"}, nil
	}})

	bdeps := builder.Deps{
		Templates: tpl,
		Client:    client,
		Models:    models.New(client.Get),
		Cache:     objects,
		URLs:      u,
		Bus:       h.bus,
		Log:       zerolog.Nop(),
	}
	if cfg.CanonicalParams == nil {
		cfg.CanonicalParams = []string{"q", "page"}
	}
	h.router = New(cfg, Deps{
		Routes:  table,
		Build:   func() *builder.Builder { return builder.New(bdeps) },
		Loop:    h.loop,
		Bus:     h.bus,
		History: h.history,
		Window:  h.window,
		Search:  h.search,
		Log:     zerolog.Nop(),
	})
	return h
}

func (h *harness) seed(paths ...string) {
	h.router.stack = nil
	for _, p := range paths {
		h.router.stack = append(h.router.stack, State{Path: p, Type: "leaf"})
	}
}

func (h *harness) paths() []string {
	var out []string
	for _, s := range h.router.Stack() {
		out = append(out, s.Path)
	}
	return out
}

func (h *harness) navigate(t *testing.T, target string) {
	t.Helper()
	require.NoError(t, h.router.Navigate(target, false, nil))
	h.loop.Drain()
}

func TestLoopTruncation(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.seed("/c", "/b", "/a")
	h.navigate(t, "/b")
	assert.Equal(t, []string{"/b", "/a"}, h.paths())
}

func TestSearchEntriesCollapse(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.navigate(t, "/a")
	h.navigate(t, "/search?q=one")
	h.navigate(t, "/search?q=two&utm_source=mail")
	assert.Equal(t, []string{"/search?q=two", "/a"}, h.paths())
	assert.Equal(t, TypeSearch, h.router.Stack()[0].Type)
}

func TestRootResetsStack(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.seed("/c", "/b", "/a")
	h.navigate(t, "/")
	assert.Equal(t, []string{"/"}, h.paths())
	assert.Empty(t, h.search.Value)
}

func TestParentInjected(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.seed("/a")
	h.navigate(t, "/cats/games")
	assert.Equal(t, []string{"/cats/games", "/cats", "/a"}, h.paths())
}

func TestParentSplicesStack(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.seed("/c", "/b", "/cats", "/a")
	h.navigate(t, "/cats/games")
	assert.Equal(t, []string{"/cats/games", "/cats", "/a"}, h.paths())
}

func TestParentAlreadyBehind(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.seed("/cats", "/a")
	h.navigate(t, "/cats/games")
	assert.Equal(t, []string{"/cats/games", "/cats", "/a"}, h.paths())
}

func TestCanonical(t *testing.T) {
	allowed := []string{"q", "page"}
	assert.Equal(t, "/search?page=2&q=x", Canonical("/search?utm=1&q=x&page=2", allowed))
	assert.Equal(t, "/search?page=2&q=x", Canonical("/search?page=2&q=x#top", allowed))
	assert.Equal(t, "/app/maps", Canonical("/app/maps?src=home", allowed))
	assert.Equal(t, "/", Canonical("?ref=x", allowed))
}

func TestNavigateTerminatesPreviousBuild(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	var unloading int
	var popped []bool
	h.bus.On(events.Unloading, func(any) { unloading++ })
	h.bus.On(events.Navigating, func(p any) { popped = append(popped, p.(bool)) })

	require.NoError(t, h.router.Navigate("/app/maps", false, nil))
	first := h.router.Active()
	require.NoError(t, h.router.Navigate("/a", false, nil))

	assert.Equal(t, builder.StateTerminated, first.State())
	assert.NotSame(t, first, h.router.Active())
	assert.Equal(t, 1, unloading)
	assert.Equal(t, []bool{false, false}, popped)
	for _, p := range h.transport.Pending() {
		assert.True(t, p.Cancelled())
	}
}

func TestNotFound(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.navigate(t, "/nowhere")
	out, err := h.router.Active().HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "missing")
	assert.Equal(t, "Not found", h.window.Title)
	assert.Equal(t, PhaseCommitted, h.router.Phase())
}

func TestViewErrorAbortsNavigation(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.navigate(t, "/a")
	err := h.router.Navigate("/boom", false, nil)
	require.Error(t, err)
	assert.Equal(t, PhaseAborted, h.router.Phase())
	assert.Equal(t, []string{"/a"}, h.paths())
}

func TestOfflineNavigationIsSkipped(t *testing.T) {
	h := newHarness(t, Config{Headless: false})
	h.window.Offline = true
	err := h.router.Navigate("/a", false, nil)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Nil(t, h.router.Active())
	assert.Empty(t, h.paths())

	h.window.Offline = false
	h.navigate(t, "/a")
	assert.Equal(t, []string{"/a"}, h.paths())
}

func TestGoUsesReplaceThenPush(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	require.NoError(t, h.router.Go("/a", false))
	require.Len(t, h.history.Entries, 1)

	h.window.Y = 300
	require.NoError(t, h.router.Go("/b", false))
	h.loop.Drain()
	require.Len(t, h.history.Entries, 2)
	require.NotNil(t, h.history.Entries[0].State.ScrollTop)
	assert.Equal(t, 300, *h.history.Entries[0].State.ScrollTop)
	assert.Equal(t, "/b", h.history.Entries[1].URL)
	assert.Equal(t, 0, h.window.Y, "scroll resets on forward navigation")

	require.NoError(t, h.router.Go("/c", true))
	assert.Len(t, h.history.Entries, 2, "divert replaces the entry")
	assert.Equal(t, "/c", h.history.Entries[1].URL)
	assert.Equal(t, []string{"/c", "/a"}, h.paths(), "divert drops the current page")
}

func TestFailedDivertKeepsCurrentPage(t *testing.T) {
	tests := []struct {
		name    string
		offline bool
		target  string
		wantErr error
	}{
		{"offline", true, "/c", ErrOffline},
		{"view error", false, "/boom", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{Headless: false})
			h.seed("/b", "/a")
			h.window.Offline = tt.offline

			err := h.router.Go(tt.target, true)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, []string{"/b", "/a"}, h.paths())
			for _, e := range h.history.Entries {
				assert.NotEqual(t, tt.target, e.URL)
			}
		})
	}
}

func TestPopRestoresScroll(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	require.NoError(t, h.router.Go("/a", false))
	h.loop.Drain()
	h.window.Y = 250
	require.NoError(t, h.router.Go("/b", false))
	h.loop.Drain()
	assert.Equal(t, 0, h.window.Y)

	st, ok := h.history.Back()
	require.True(t, ok)
	require.NoError(t, h.router.Pop(st))
	h.loop.Drain()

	assert.Equal(t, 250, h.window.Y)
	assert.Equal(t, []string{"/a"}, h.paths())
}

func TestSignals(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	h.bus.Emit(events.Navigate, "/a")
	h.bus.Emit(events.Search, "maps")
	h.loop.Drain()
	assert.Equal(t, []string{"/search?q=maps", "/a"}, h.paths())

	h.bus.Emit(events.Divert, "/b")
	assert.Equal(t, []string{"/b", "/a"}, h.paths())
	h.bus.Emit(events.Navigate, 42)
	assert.Equal(t, []string{"/b", "/a"}, h.paths())
}

func TestTitleFollowsBlockData(t *testing.T) {
	h := newHarness(t, Config{Headless: true})
	require.NoError(t, h.router.Go("/app/maps", false))
	assert.Equal(t, "loading", h.window.Title)

	require.NoError(t, h.transport.Reply("/api/app/maps/", map[string]any{"name": "Maps"}))
	h.loop.Drain()

	assert.Equal(t, "Maps", h.window.Title)
	assert.Equal(t, "Maps", h.router.Stack()[0].Title)
	cur, _ := h.history.Current()
	assert.Equal(t, "Maps", cur.Title)
	assert.Equal(t, "Maps", cur.State.Title)
}

func TestHandleClick(t *testing.T) {
	h := newHarness(t, Config{Headless: true, Host: "shop.example"})
	var got []string
	h.bus.On(events.Navigate, func(p any) { got = append(got, p.(string)) })

	tests := []struct {
		name  string
		click Click
		want  bool
	}{
		{"relative", Click{Href: "/app/maps"}, true},
		{"same host", Click{Href: "https://shop.example/search?q=x"}, true},
		{"other host", Click{Href: "https://elsewhere.example/app/maps"}, false},
		{"mailto", Click{Href: "mailto:a@b.c"}, false},
		{"fragment", Click{Href: "#reviews"}, false},
		{"rel external", Click{Href: "/app/maps", Rel: "external"}, false},
		{"opt out", Click{Href: "/app/maps", NoIntercept: true}, false},
		{"ctrl click", Click{Href: "/app/maps", Ctrl: true}, false},
		{"middle button", Click{Href: "/app/maps", Button: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.router.HandleClick(tt.click))
		})
	}
	assert.Equal(t, []string{"/app/maps", "/search?q=x"}, got)
}
