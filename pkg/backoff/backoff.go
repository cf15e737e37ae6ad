// Package backoff provides the deterministic exponential delay policy shared
// by page fetch retries and per-resource load retries.
package backoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrRetryExhausted is returned when all retry attempts are exhausted.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// Scopes label which call site a retry belongs to.
const (
	ScopePage     = "page"
	ScopeTotal    = "total"
	ScopeResource = "resource"
)

// Prometheus metrics for retry scheduling.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazywall_retries_total",
		Help: "Total number of scheduled retries by scope",
	}, []string{"scope"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lazywall_retry_backoff_seconds",
		Help:    "Scheduled backoff delay by scope",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16},
	}, []string{"scope"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazywall_retry_exhausted_total",
		Help: "Total number of times retries were exhausted by scope",
	}, []string{"scope"})
)

// Policy computes retry delays: min(BaseDelay * 2^(attempt-1), MaxDelay).
// There is no jitter.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps every delay.
	MaxDelay time.Duration
}

// DefaultPolicy returns the default policy (1s base, 8s cap).
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 1 * time.Second,
		MaxDelay:  8 * time.Second,
	}
}

// Validate reports whether the policy can produce delays.
func (p Policy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be > 0 (got %s)", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %s must be >= base delay %s", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Delay returns the wait before retry number attempt (1-based).
// Attempts below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		// Stop doubling once the cap is reached so large attempts cannot overflow.
		if delay >= p.MaxDelay || delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}

	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Observe records a scheduled retry for scope.
func Observe(scope string, delay time.Duration) {
	retriesTotal.WithLabelValues(scope).Inc()
	retryBackoffSeconds.WithLabelValues(scope).Observe(delay.Seconds())
}

// Exhausted records that scope ran out of retries.
func Exhausted(scope string) {
	retryExhaustedTotal.WithLabelValues(scope).Inc()
}

// ExhaustedError wraps the last failure with ErrRetryExhausted.
func ExhaustedError(attempts int, last error) error {
	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempts, last)
}
