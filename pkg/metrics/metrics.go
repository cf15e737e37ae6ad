// Package metrics exposes the Prometheus registry used by lazywall.
// All metrics are defined in their respective packages (backoff, cache,
// client, pagination, ratelimit, resource) to maintain modularity and
// avoid circular dependencies.
//
// This package provides the scrape handler and a catalogue of every
// metric name.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by lazywall.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Catalogue lists every metric lazywall registers, by owning package.
var Catalogue = map[string][]string{
	"backoff": {
		"lazywall_retries_total",
		"lazywall_retry_backoff_seconds",
		"lazywall_retry_exhausted_total",
	},
	"cache": {
		"lazywall_cache_hits_total",
		"lazywall_cache_misses_total",
		"lazywall_cache_size_bytes",
		"lazywall_cache_conditional_requests_total",
		"lazywall_cache_not_modified_total",
		"lazywall_cache_errors_total",
	},
	"client": {
		"lazywall_requests_total",
		"lazywall_request_duration_seconds",
		"lazywall_transport_errors_total",
	},
	"pagination": {
		"lazywall_pages_fetched_total",
		"lazywall_page_fetch_errors_total",
		"lazywall_page_fetch_duration_seconds",
	},
	"ratelimit": {
		"lazywall_rate_limit_remaining",
		"lazywall_rate_limit_blocks_total",
		"lazywall_rate_limit_throttles_total",
	},
	"resource": {
		"lazywall_resource_loads_total",
		"lazywall_resource_state",
	},
}

// Metrics Documentation
//
// Retry Metrics (pkg/backoff):
//   - lazywall_retries_total{scope} (Counter): Scheduled retries by scope (page, total, resource)
//   - lazywall_retry_backoff_seconds{scope} (Histogram): Scheduled backoff delay by scope
//   - lazywall_retry_exhausted_total{scope} (Counter): Retry budgets exhausted by scope
//
// Cache Metrics (pkg/cache):
//   - lazywall_cache_hits_total{layer="redis"} (Counter): Listing cache hits
//   - lazywall_cache_misses_total (Counter): Listing cache misses
//   - lazywall_cache_size_bytes{layer="redis"} (Gauge): Bytes of listing data cached
//   - lazywall_cache_conditional_requests_total (Counter): Conditional requests sent
//   - lazywall_cache_not_modified_total (Counter): 304 Not Modified responses
//   - lazywall_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - lazywall_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - lazywall_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - lazywall_transport_errors_total{class} (Counter): Errors by class
//
// Pagination Metrics (pkg/pagination):
//   - lazywall_pages_fetched_total (Counter): Pages appended to the collection
//   - lazywall_page_fetch_errors_total{scope} (Counter): Failed page and total-count fetches
//   - lazywall_page_fetch_duration_seconds (Histogram): Page fetch duration
//
// Rate Limit Metrics (pkg/ratelimit):
//   - lazywall_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - lazywall_rate_limit_blocks_total (Counter): Requests blocked on a critical budget
//   - lazywall_rate_limit_throttles_total (Counter): Requests delayed on a low budget
//
// Resource Metrics (pkg/resource):
//   - lazywall_resource_loads_total{outcome} (Counter): Load attempts by outcome
//   - lazywall_resource_state{state} (Gauge): Tracked resources per state
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(lazywall_cache_hits_total[5m])) /
//   (sum(rate(lazywall_cache_hits_total[5m])) + sum(rate(lazywall_cache_misses_total[5m])))
//
//   # Permanently failed images
//   lazywall_resource_state{state="permanently_failed"} > 0
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(lazywall_page_fetch_duration_seconds_bucket[5m]))
