// Package cache provides the storefront object cache: decoded API payloads
// keyed by canonical resource URL, with an ordered rewrite chain consulted on
// every write.
package cache

// Reader defines the interface for reading cache entries
type Reader interface {
	// Has reports whether key is cached
	Has(key string) bool
	// Get returns the cached value for key and whether it was present
	Get(key string) (any, bool)
}

// Writer defines the interface for writing cache entries
type Writer interface {
	// Set stores value under key after running the rewrite chain
	Set(key string, value any)
}

// ReadWriter combines both cache operations
type ReadWriter interface {
	Reader
	Writer
}

// KeyGenerator generates cache keys from request parameters
type KeyGenerator interface {
	// KeyFor generates a stable cache key from path and parameters
	KeyFor(path string, params map[string]string) string
}

// Cache is the main interface that combines all cache operations
type Cache interface {
	ReadWriter

	// Bust deletes a single entry; absent keys are ignored
	Bust(key string)
	// Purge deletes every entry, or only those matching filter when non-nil
	Purge(filter func(key string) bool)
	// AttemptRewrite replaces matching entries with worker's result and
	// returns how many were changed. limit <= 0 means no limit.
	AttemptRewrite(matcher func(key string) bool, worker func(value any, key string) any, limit int) int
	// Keys returns the cached keys in sorted order
	Keys() []string
}
