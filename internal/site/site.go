// Package site wires the storefront runtime services for one process.
package site

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/briangreenhill/storefront/cache"
	"github.com/briangreenhill/storefront/internal/builder"
	"github.com/briangreenhill/storefront/internal/config"
	"github.com/briangreenhill/storefront/internal/events"
	"github.com/briangreenhill/storefront/internal/loop"
	"github.com/briangreenhill/storefront/internal/models"
	"github.com/briangreenhill/storefront/internal/requests"
	"github.com/briangreenhill/storefront/internal/rewriters"
	"github.com/briangreenhill/storefront/internal/router"
	"github.com/briangreenhill/storefront/internal/routes"
	"github.com/briangreenhill/storefront/internal/urls"
	"github.com/briangreenhill/storefront/web"
)

// ErrNotReady is returned by Browse when the page did not finish loading.
var ErrNotReady = errors.New("page not ready")

// paginated are the list endpoints whose later pages fold into the first.
var paginated = []string{"search", "category", "featured", "apps", "ratings"}

// Site owns the services of one storefront runtime.
type Site struct {
	cfg *config.Config
	log zerolog.Logger

	Loop      *loop.Loop
	Cache     *cache.Memory
	Transport requests.Transport
	Client    *requests.Client
	Models    *models.Store
	URLs      *urls.Builder
	Templates *builder.Templates
	Routes    *routes.Table
	Bus       *events.Bus
	Router    *router.Router
	History   *router.MemoryHistory
	Window    *router.MemoryWindow
	Search    *router.MemorySearchBox

	store  *cache.FileStore
	cancel context.CancelFunc
}

// Option configures a Site.
type Option func(*options)

type options struct {
	transport requests.Transport
}

// WithTransport replaces the HTTP transport, typically with a fake in tests.
func WithTransport(t requests.Transport) Option {
	return func(o *options) { o.transport = t }
}

// New builds every service from cfg. Close releases them.
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (*Site, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Site{cfg: cfg, log: log, cancel: cancel}
	if err := s.wire(ctx, o); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Site) wire(ctx context.Context, o options) error {
	cfg := s.cfg
	s.Loop = loop.New()
	s.Bus = events.New(s.log.With().Str("component", "events").Logger())
	s.URLs = urls.New(urls.DefaultEndpoints, cfg.APIDefaults())

	s.Cache = cache.New(cache.WithLogger(s.log.With().Str("component", "cache").Logger()))
	bases, err := paginationBases(s.URLs)
	if err != nil {
		return err
	}
	for _, base := range bases {
		s.Cache.AddRewriter(rewriters.Pagination(base, s.log))
	}
	if cfg.PersistCache {
		store, err := cache.NewFileStore(cfg.CacheDir, "objects")
		if err != nil {
			return fmt.Errorf("open cache store: %w", err)
		}
		n, err := store.Load(s.Cache, cfg.CacheMaxAge)
		if err != nil {
			s.log.Warn().Err(err).Str("path", store.Path()).Msg("ignoring unreadable cache snapshot")
		} else {
			s.log.Debug().Int("entries", n).Str("path", store.Path()).Msg("cache snapshot loaded")
		}
		s.store = store
	}

	s.Transport = o.transport
	if s.Transport == nil {
		hopts := []requests.HTTPOption{requests.WithTimeout(cfg.HTTPTimeout)}
		if cfg.HTTPCache {
			hopts = append(hopts, requests.WithConditionalCache())
		}
		if cfg.APIToken != "" {
			hopts = append(hopts, requests.WithToken(bearer(cfg.APIToken)))
		}
		t, err := requests.NewHTTPTransport(cfg.APIBase, hopts...)
		if err != nil {
			return err
		}
		s.Transport = t
	}
	s.Client = requests.NewClient(s.Loop, s.Cache, s.Transport,
		requests.WithLogger(s.log.With().Str("component", "requests").Logger()),
		requests.WithContext(ctx))
	s.Models = models.New(s.Client.Get, models.WithLogger(s.log.With().Str("component", "models").Logger()))

	tlog := s.log.With().Str("component", "templates").Logger()
	if cfg.TemplatesDir != "" {
		s.Templates, err = builder.LoadTemplates(os.DirFS(cfg.TemplatesDir), tlog)
	} else {
		s.Templates, err = builder.LoadTemplates(web.Templates(), tlog)
	}
	if err != nil {
		return err
	}
	if cfg.WatchTemplates {
		if err := s.Templates.Watch(ctx, cfg.TemplatesDir); err != nil {
			return err
		}
	}

	s.Routes = routes.Storefront(s.URLs)
	s.History = router.NewMemoryHistory()
	s.Window = &router.MemoryWindow{Offline: cfg.Offline}
	s.Search = &router.MemorySearchBox{}

	host := ""
	if u, err := url.Parse(cfg.APIBase); err == nil {
		host = u.Host
	}
	s.Router = router.New(router.Config{
		Headless:        cfg.Headless,
		CanonicalParams: cfg.CanonicalParams,
		Host:            host,
	}, router.Deps{
		Routes:  s.Routes,
		Build:   s.newBuild,
		Loop:    s.Loop,
		Bus:     s.Bus,
		History: s.History,
		Window:  s.Window,
		Search:  s.Search,
		Log:     s.log.With().Str("component", "router").Logger(),
	})
	return nil
}

// paginationBases returns the distinct list paths of the paginated
// endpoints. Several endpoints can share one path, and a second rewriter
// for the same path would never run.
func paginationBases(u *urls.Builder) ([]string, error) {
	seen := make(map[string]bool, len(paginated))
	var bases []string
	for _, name := range paginated {
		api, err := u.API(name)
		if err != nil {
			return nil, err
		}
		base := cache.DefaultKeyGenerator.Base(api)
		if seen[base] {
			continue
		}
		seen[base] = true
		bases = append(bases, base)
	}
	return bases, nil
}

func (s *Site) newBuild() *builder.Builder {
	return builder.New(builder.Deps{
		Templates: s.Templates,
		Client:    s.Client,
		Models:    s.Models,
		Cache:     s.Cache,
		URLs:      s.URLs,
		Bus:       s.Bus,
		Log:       s.log.With().Str("component", "builder").Logger(),
	})
}

// Close stops background work and saves the cache snapshot when
// persistence is enabled.
func (s *Site) Close() error {
	s.cancel()
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(s.Cache, persistable); err != nil {
		return fmt.Errorf("save cache snapshot: %w", err)
	}
	return nil
}

// SignIn authenticates later calls with token and drops everything cached
// for the previous user.
func (s *Site) SignIn(token string) {
	s.setToken(bearer(token))
	s.forgetUser()
	s.log.Info().Msg("signed in")
}

// SignOut removes the token and drops everything cached for the user.
func (s *Site) SignOut() {
	s.setToken(nil)
	s.forgetUser()
	s.log.Info().Msg("signed out")
}

type tokenSetter interface {
	SetToken(*oauth2.Token)
}

func (s *Site) setToken(tok *oauth2.Token) {
	if ts, ok := s.Transport.(tokenSetter); ok {
		ts.SetToken(tok)
	}
}

func (s *Site) forgetUser() {
	s.Cache.Purge(userScoped)
	s.Models.PurgeAll()
}

func bearer(token string) *oauth2.Token {
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
}

// userScoped reports whether a cached resource depends on who is signed in.
func userScoped(key string) bool {
	if strings.HasPrefix(cache.DefaultKeyGenerator.Base(key), "/api/v1/account/") {
		return true
	}
	_, ok := cache.DefaultKeyGenerator.Param(key, "user")
	return ok
}

func persistable(key string) bool { return !userScoped(key) }

// Page is the outcome of Browse.
type Page struct {
	Path  string
	Title string
	HTML  string
	Stack []router.State
}

// Browse navigates to target and runs the loop until the page is ready,
// then loads up to pages further pages of every paginated block.
func (s *Site) Browse(ctx context.Context, target string, pages int) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	defer cancel()

	var (
		page Page
		perr error
		done bool
	)
	finish := func(err error) {
		if done {
			return
		}
		done, perr = true, err
		cancel()
	}

	s.Loop.Post(func() {
		if err := s.Router.Go(target, false); err != nil {
			finish(err)
			return
		}
		b := s.Router.Active()
		b.Ready().
			Then(func(struct{}) {
				s.loadMore(b, pages, func(err error) {
					if err == nil {
						page, err = s.snapshot(b)
					}
					finish(err)
				})
			}).
			Catch(finish)
	})

	// Run returns once finish cancels ctx or the page timeout expires.
	if err := s.Loop.Run(ctx); !done {
		return Page{}, fmt.Errorf("%w: %s: %w", ErrNotReady, target, err)
	}
	return page, perr
}

// loadMore fetches the next page of every paginated block, rounds times.
func (s *Site) loadMore(b *builder.Builder, rounds int, done func(error)) {
	ids := b.Paginated()
	if rounds <= 0 || len(ids) == 0 {
		done(nil)
		return
	}
	sort.Strings(ids)
	reqs := make([]*requests.Request, 0, len(ids))
	for _, id := range ids {
		req, err := b.LoadMore(id)
		if err != nil {
			done(err)
			return
		}
		reqs = append(reqs, req)
	}
	remaining := len(reqs)
	for _, req := range reqs {
		req.Always(func() {
			remaining--
			if remaining == 0 {
				s.loadMore(b, rounds-1, done)
			}
		})
	}
}

func (s *Site) snapshot(b *builder.Builder) (Page, error) {
	markup, err := b.HTML()
	if err != nil {
		return Page{}, err
	}
	p := Page{Title: s.Window.Title, HTML: markup, Stack: s.Router.Stack()}
	if len(p.Stack) > 0 {
		p.Path = p.Stack[0].Path
	}
	return p, nil
}
