// Package cache stores listing responses (pages and total counts) in Redis
// so repeated sessions can revalidate with conditional requests instead of
// refetching.
//
// # Basic Usage
//
//	manager, err := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Endpoint: "/images",
//		Query:    url.Values{"page": []string{"1"}, "limit": []string{"30"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the origin
//	}
//
// # Conditional Requests
//
//	if entry.HasValidator() {
//		entry.Revalidate(req)
//	}
//
// A 304 answer refreshes the entry's expiry via UpdateTTL and the cached
// body is served. Freshness follows Cache-Control max-age, then Expires,
// then DefaultTTL; no-store responses are never written.
//
// # Metrics
//
//   - lazywall_cache_hits_total{layer="redis"}
//   - lazywall_cache_misses_total
//   - lazywall_cache_size_bytes{layer="redis"}
//   - lazywall_cache_conditional_requests_total
//   - lazywall_cache_not_modified_total
//   - lazywall_cache_errors_total{operation}
//
// Image bytes are never cached here; only listing metadata is.
package cache
