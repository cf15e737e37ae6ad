package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazywall_cache_hits_total",
			Help: "Total number of listing cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazywall_cache_misses_total",
			Help: "Total number of listing cache misses",
		},
	)

	// CacheSize tracks bytes written by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lazywall_cache_size_bytes",
			Help: "Bytes of listing data written to the cache",
		},
		[]string{"layer"},
	)

	// ConditionalRequestsSent tracks requests revalidating a cached entry
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazywall_cache_conditional_requests_total",
			Help: "Total number of conditional listing requests sent",
		},
	)

	// NotModifiedResponses tracks 304 answers served from cache
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazywall_cache_not_modified_total",
			Help: "Total number of 304 Not Modified listing responses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazywall_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
