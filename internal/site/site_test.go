package site

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/storefront/internal/config"
	"github.com/briangreenhill/storefront/internal/models"
	"github.com/briangreenhill/storefront/internal/router"
	"github.com/briangreenhill/storefront/internal/site/sitetest"
	"github.com/briangreenhill/storefront/internal/urls"
)

func testConfig(base string) *config.Config {
	return &config.Config{
		APIBase:         base,
		Headless:        true,
		LogLevel:        "info",
		LogFormat:       "json",
		HTTPTimeout:     5 * time.Second,
		CanonicalParams: []string{"q", "sort", "cat", "page"},
		PageTimeout:     5 * time.Second,
	}
}

func newSite(t *testing.T, cfg *config.Config) *Site {
	t.Helper()
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newAPI(t *testing.T) *sitetest.API {
	api := sitetest.NewAPI()
	t.Cleanup(api.Close)
	return api
}

func TestBrowseHome(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	page, err := s.Browse(context.Background(), "/", 0)
	require.NoError(t, err)

	assert.Equal(t, "/", page.Path)
	assert.Equal(t, "Storefront", page.Title)
	assert.Contains(t, page.HTML, "Maps")
	assert.Contains(t, page.HTML, "Mail")
	assert.Contains(t, page.HTML, `href="/category/games"`)
	assert.Contains(t, page.HTML, `class="loadmore"`)
	assert.NotContains(t, page.HTML, "Clock")
	require.Len(t, page.Stack, 1)
}

func TestBrowseLoadsMorePages(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	page, err := s.Browse(context.Background(), "/", 3)
	require.NoError(t, err)

	assert.Contains(t, page.HTML, "Clock")
	assert.NotContains(t, page.HTML, `class="loadmore"`)
	assert.Equal(t, 2, api.Hits("/api/v1/fireplace/search/featured/"))

	v, ok := s.Cache.Get("/api/v1/fireplace/search/featured/")
	require.True(t, ok)
	assert.Len(t, v.(map[string]any)["objects"], 3)
}

func TestBrowseAppSetsTitleFromData(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	page, err := s.Browse(context.Background(), "/app/maps", 0)
	require.NoError(t, err)

	assert.Equal(t, "Maps", page.Title)
	assert.Equal(t, "/app/maps", page.Path)
	assert.Contains(t, page.HTML, "Mozilla")

	ks, err := s.Models.Type("app")
	require.NoError(t, err)
	_, ok := ks.Lookup("maps")
	assert.True(t, ok)

	entry, ok := s.History.Current()
	require.True(t, ok)
	assert.Equal(t, "Maps", entry.Title)
}

func TestBrowseSecondVisitUsesModelStore(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	_, err := s.Browse(context.Background(), "/app/maps", 0)
	require.NoError(t, err)
	_, err = s.Browse(context.Background(), "/", 0)
	require.NoError(t, err)
	page, err := s.Browse(context.Background(), "/app/maps", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, api.Hits("/api/v1/apps/app/maps/"))
	assert.Contains(t, page.HTML, "Mozilla")
	assert.Equal(t, []string{"/app/maps", "/"}, paths(page.Stack))
}

func TestBrowseFailedBlock(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	page, err := s.Browse(context.Background(), "/app/missing", 0)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "This app could not be loaded.")
}

func TestBrowseEmptySearch(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	page, err := s.Browse(context.Background(), "/search?q=nothing&utm=x", 0)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "No results found.")
	assert.Equal(t, "/search?q=nothing", page.Path)
}

func TestBrowseNotFound(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	page, err := s.Browse(context.Background(), "/nope", 0)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "Not found")
}

func TestBrowseTimesOut(t *testing.T) {
	api := newAPI(t)
	api.Stall("/api/v1/apps/app/maps/")
	cfg := testConfig(api.URL())
	cfg.PageTimeout = 100 * time.Millisecond
	s := newSite(t, cfg)

	_, err := s.Browse(context.Background(), "/app/maps", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSignInAndOut(t *testing.T) {
	api := newAPI(t)
	s := newSite(t, testConfig(api.URL()))

	s.Cache.Set("/api/v1/account/settings/", map[string]any{"display_name": "kumar"})
	s.Cache.Set("/api/v1/apps/rating/?user=3", map[string]any{"objects": []any{}})
	s.Cache.Set("/api/v1/apps/category/", map[string]any{"objects": []any{}})
	ks, err := s.Models.Type("app")
	require.NoError(t, err)
	ks.Cast(models.Record{"slug": "maps"})

	s.SignIn("abc")
	assert.Equal(t, []string{"/api/v1/apps/category/"}, s.Cache.Keys())
	assert.Equal(t, 0, ks.Len())

	_, err = s.Browse(context.Background(), "/app/maps", 0)
	require.NoError(t, err)
	auth := api.Authorizations()
	require.NotEmpty(t, auth)
	assert.Equal(t, "Bearer abc", auth[len(auth)-1])

	s.SignOut()
	assert.Equal(t, 0, ks.Len())
	_, err = s.Browse(context.Background(), "/app/mail", 0)
	require.NoError(t, err)
	auth = api.Authorizations()
	assert.Equal(t, "", auth[len(auth)-1])
}

func TestCacheSnapshotPersists(t *testing.T) {
	api := newAPI(t)
	cfg := testConfig(api.URL())
	cfg.PersistCache = true
	cfg.CacheDir = t.TempDir()
	cfg.CacheMaxAge = time.Hour

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.Browse(context.Background(), "/", 0)
	require.NoError(t, err)
	s.Cache.Set("/api/v1/account/settings/", map[string]any{"display_name": "kumar"})
	require.NoError(t, s.Close())

	again := newSite(t, cfg)
	assert.True(t, again.Cache.Has("/api/v1/fireplace/search/featured/"))
	assert.False(t, again.Cache.Has("/api/v1/account/settings/"))

	_, err = again.Browse(context.Background(), "/", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, api.Hits("/api/v1/fireplace/search/featured/"))
}

func TestPaginationBasesAreDistinct(t *testing.T) {
	bases, err := paginationBases(urls.New(urls.DefaultEndpoints, map[string]string{"lang": "en"}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/api/v1/fireplace/search/",
		"/api/v1/fireplace/search/featured/",
		"/api/v1/apps/app/",
		"/api/v1/apps/rating/",
	}, bases)
}

func TestUserScoped(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"/api/v1/account/settings/", true},
		{"/api/v1/apps/rating/?app=maps&user=3", true},
		{"/api/v1/apps/rating/?app=maps", false},
		{"/api/v1/apps/app/maps/", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, userScoped(tt.key))
		})
	}
}

func paths(stack []router.State) []string {
	out := make([]string, len(stack))
	for i, st := range stack {
		out[i] = st.Path
	}
	return out
}
