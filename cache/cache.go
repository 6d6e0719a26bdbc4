package cache

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/storefront/internal/metrics"
)

// Memory is the in-process object cache. It is owned by the event loop and
// is not safe for concurrent use.
type Memory struct {
	entries   map[string]any
	rewriters []Rewriter
	log       zerolog.Logger
}

var _ Cache = (*Memory)(nil)

// Option configures a Memory cache.
type Option func(*Memory)

// WithLogger sets the logger used for rewrite diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Memory) { m.log = l }
}

// WithRewriters registers rewriters in order.
func WithRewriters(rs ...Rewriter) Option {
	return func(m *Memory) { m.rewriters = append(m.rewriters, rs...) }
}

// New creates an empty cache.
func New(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[string]any),
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddRewriter appends r to the rewrite chain.
func (m *Memory) AddRewriter(r Rewriter) {
	m.rewriters = append(m.rewriters, r)
}

// Has implements Reader.
func (m *Memory) Has(key string) bool {
	_, ok := m.entries[key]
	return ok
}

// Get implements Reader.
func (m *Memory) Get(key string) (any, bool) {
	v, ok := m.entries[key]
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return v, ok
}

// Set implements Writer.
func (m *Memory) Set(key string, value any) {
	outcome := metrics.WriteStored
	for _, rewrite := range m.rewriters {
		d := rewrite(key, value, snapshot{m})
		switch d.Action {
		case ActionReplace:
			value = d.Value
			outcome = metrics.WriteReplaced
		case ActionSuppress:
			m.log.Debug().Str("key", key).Msg("cache write suppressed by rewriter")
			metrics.CacheWrites.WithLabelValues(metrics.WriteSuppressed).Inc()
			return
		case ActionFold:
			m.log.Debug().Str("key", key).Str("into", d.Key).Msg("cache write folded")
			m.entries[d.Key] = d.Value
			metrics.CacheWrites.WithLabelValues(metrics.WriteFolded).Inc()
			return
		}
	}
	m.entries[key] = value
	metrics.CacheWrites.WithLabelValues(outcome).Inc()
}

// Bust implements Cache.
func (m *Memory) Bust(key string) {
	delete(m.entries, key)
}

// Purge implements Cache.
func (m *Memory) Purge(filter func(key string) bool) {
	if filter == nil {
		m.entries = make(map[string]any)
		return
	}
	for k := range m.entries {
		if filter(k) {
			delete(m.entries, k)
		}
	}
}

// AttemptRewrite implements Cache. Keys are visited in sorted order so a
// limit is deterministic.
func (m *Memory) AttemptRewrite(matcher func(key string) bool, worker func(value any, key string) any, limit int) int {
	changed := 0
	for _, k := range m.Keys() {
		if !matcher(k) {
			continue
		}
		m.entries[k] = worker(m.entries[k], k)
		changed++
		if limit > 0 && changed >= limit {
			break
		}
	}
	return changed
}

// Keys implements Cache.
func (m *Memory) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (m *Memory) Len() int { return len(m.entries) }

// snapshot is the read-only view handed to rewriters; it does not count
// towards lookup metrics.
type snapshot struct{ m *Memory }

func (s snapshot) Has(key string) bool { return s.m.Has(key) }

func (s snapshot) Get(key string) (any, bool) {
	v, ok := s.m.entries[key]
	return v, ok
}
