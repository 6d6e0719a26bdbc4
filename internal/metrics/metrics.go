// Package metrics holds the Prometheus collectors shared by the storefront runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache reads by result ("hit" or "miss").
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cache_lookups_total",
		Help: "Cache reads by result.",
	}, []string{"result"})

	// CacheWrites counts cache writes by the outcome of the rewrite chain.
	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cache_writes_total",
		Help: "Cache writes by rewrite outcome.",
	}, []string{"outcome"})

	// PoolRequests counts requests issued through request pools.
	PoolRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_pool_requests_total",
		Help: "Requests issued through request pools, by method and whether they were deduplicated.",
	}, []string{"method", "dedup"})

	// DeferredBlocks counts settled deferred blocks by how they were rendered.
	DeferredBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_deferred_blocks_total",
		Help: "Deferred blocks by render outcome.",
	}, []string{"outcome"})

	// Navigations counts committed navigations by view.
	Navigations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_navigations_total",
		Help: "Navigations by resolved view.",
	}, []string{"view"})

	// Invariants counts violated internal assumptions.
	Invariants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_invariants_total",
		Help: "The total number of invariant violations.",
	}, []string{
		"module", // The module in which this invariant occurred.
		"type",   // The type of the invariant that occurred.
	})
)

// Cache write outcomes.
const (
	WriteStored     = "stored"
	WriteReplaced   = "replaced"
	WriteSuppressed = "suppressed"
	WriteFolded     = "folded"
)

// Deferred block outcomes.
const (
	BlockInline = "inline"
	BlockAsync  = "async"
	BlockFailed = "failed"
)

// RaiseInvariant records an invariant violation. Callers still handle the
// erroneous case themselves.
func RaiseInvariant(module, invariantType string) {
	Invariants.WithLabelValues(module, invariantType).Inc()
}
