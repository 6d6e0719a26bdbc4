package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyGenerators builds canonical resource identifiers. Two URLs naming the
// same resource with query parameters in a different order map to one key.
type KeyGenerators struct{}

var _ KeyGenerator = (*KeyGenerators)(nil)

// DefaultKeyGenerator provides a shared key generator instance
var DefaultKeyGenerator = &KeyGenerators{}

// KeyFor implements KeyGenerator: path plus params sorted by name.
func (kg *KeyGenerators) KeyFor(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}
	parts := make([]string, 0, len(params))
	for k, v := range params {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	sort.Strings(parts)

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(parts, "&")
}

// Canonical returns raw with its query parameters sorted by name.
func (kg *KeyGenerators) Canonical(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = u.Query().Encode()
	return u.String()
}

// Without returns the canonical form of raw with the named query parameters removed.
func (kg *KeyGenerators) Without(raw string, names ...string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, n := range names {
		q.Del(n)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Base returns raw without its query string or fragment.
func (kg *KeyGenerators) Base(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Param returns the first value of query parameter name in raw.
func (kg *KeyGenerators) Param(raw, name string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if !q.Has(name) {
		return "", false
	}
	return q.Get(name), true
}
