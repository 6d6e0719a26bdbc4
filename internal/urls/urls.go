// Package urls maps logical API endpoint names and route names to concrete
// URLs.
package urls

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"github.com/spf13/cast"

	"github.com/briangreenhill/storefront/cache"
)

var (
	// ErrUnknownName is returned for an endpoint or route that was never registered.
	ErrUnknownName = errors.New("unknown url name")
	// ErrArgs is returned when the positional arguments do not fill the pattern.
	ErrArgs = errors.New("wrong number of url arguments")
)

// DefaultEndpoints is the storefront API surface.
var DefaultEndpoints = map[string]string{
	"app":        "/api/v1/apps/app/{slug}/",
	"apps":       "/api/v1/apps/app/",
	"categories": "/api/v1/apps/category/",
	"category":   "/api/v1/fireplace/search/",
	"collection": "/api/v1/rocketfuel/collections/{slug}/",
	"featured":   "/api/v1/fireplace/search/featured/",
	"login":      "/api/v1/account/login/",
	"logout":     "/api/v1/account/logout/",
	"rating":     "/api/v1/apps/rating/{id}/",
	"ratings":    "/api/v1/apps/rating/",
	"search":     "/api/v1/fireplace/search/",
}

var placeholder = regexp.MustCompile(`\{[^}]+\}`)

// Builder builds API endpoint URLs and reverses named routes.
type Builder struct {
	endpoints map[string]string
	routes    map[string]string
	defaults  map[string]string
}

// New creates a builder over endpoints. defaults are query parameters added
// to every API URL (for example lang or region); call-site params win.
func New(endpoints map[string]string, defaults map[string]string) *Builder {
	b := &Builder{
		endpoints: make(map[string]string, len(endpoints)),
		routes:    make(map[string]string),
		defaults:  make(map[string]string, len(defaults)),
	}
	for k, v := range endpoints {
		b.endpoints[k] = v
	}
	for k, v := range defaults {
		b.defaults[k] = v
	}
	return b
}

// AddRoute registers a named route pattern such as "/app/{slug}".
func (b *Builder) AddRoute(name, pattern string) {
	b.routes[name] = pattern
}

// RouteNames lists the registered route names.
func (b *Builder) RouteNames() []string {
	names := make([]string, 0, len(b.routes))
	for n := range b.routes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// API returns the URL of endpoint name with args substituted, plus the
// default query parameters.
func (b *Builder) API(name string, args ...any) (string, error) {
	return b.APIParams(name, nil, args...)
}

// APIParams is API with extra query parameters. The result is canonical:
// parameters sorted by name.
func (b *Builder) APIParams(name string, params map[string]any, args ...any) (string, error) {
	pattern, ok := b.endpoints[name]
	if !ok {
		return "", fmt.Errorf("%w: endpoint %q", ErrUnknownName, name)
	}
	path, err := fill(pattern, args)
	if err != nil {
		return "", fmt.Errorf("endpoint %q: %w", name, err)
	}
	merged := make(map[string]string, len(b.defaults)+len(params))
	for k, v := range b.defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = cast.ToString(v)
	}
	return cache.DefaultKeyGenerator.KeyFor(path, merged), nil
}

// Reverse returns the path of route name with args substituted.
func (b *Builder) Reverse(name string, args ...any) (string, error) {
	pattern, ok := b.routes[name]
	if !ok {
		return "", fmt.Errorf("%w: route %q", ErrUnknownName, name)
	}
	path, err := fill(pattern, args)
	if err != nil {
		return "", fmt.Errorf("route %q: %w", name, err)
	}
	return path, nil
}

// WithParams adds params to raw and returns the canonical URL.
func WithParams(raw string, params map[string]any) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, cast.ToString(v))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func fill(pattern string, args []any) (string, error) {
	slots := placeholder.FindAllStringIndex(pattern, -1)
	if len(slots) != len(args) {
		return "", fmt.Errorf("%w: want %d, got %d", ErrArgs, len(slots), len(args))
	}
	i := 0
	return placeholder.ReplaceAllStringFunc(pattern, func(string) string {
		v := url.PathEscape(cast.ToString(args[i]))
		i++
		return v
	}), nil
}
