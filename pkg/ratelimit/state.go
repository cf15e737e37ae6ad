// Package ratelimit tracks the request budget announced by the image API
// and gates outbound listing and image requests. The budget is read from
// the X-RateLimit-Remaining and X-RateLimit-Reset headers and shared
// across processes through Redis.
package ratelimit

import (
	"time"
)

// Redis keys for budget state storage.
const (
	RedisKeyRemaining      = "lazywall:rate_limit:remaining"
	RedisKeyResetTimestamp = "lazywall:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "lazywall:rate_limit:last_update"
)

// Response headers carrying the budget.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for gating decisions.
const (
	// ThresholdCritical blocks requests when the remaining budget falls
	// below this value.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests below this value.
	ThresholdWarning = 20

	// ThresholdHealthy is the budget at or above which no restrictions apply.
	ThresholdHealthy = 50
)

// State is the current request budget.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
// A window that has already reset never blocks.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets, or 0 if
// it already has.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
