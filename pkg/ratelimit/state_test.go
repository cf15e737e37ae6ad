package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name       string
		lastUpdate time.Time
		want       bool
	}{
		{"fresh state", time.Now(), false},
		{"stale state", time.Now().Add(-10 * time.Minute), true},
		{"just under max age", time.Now().Add(-4 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{LastUpdate: tt.lastUpdate}
			if got := s.IsStale(5 * time.Minute); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_Gating(t *testing.T) {
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name         string
		remaining    int
		resetAt      time.Time
		wantBlock    bool
		wantThrottle bool
	}{
		{"healthy", 100, future, false, false},
		{"at warning threshold", ThresholdWarning, future, false, false},
		{"just below warning", ThresholdWarning - 1, future, false, true},
		{"at critical threshold", ThresholdCritical, future, false, true},
		{"just below critical", ThresholdCritical - 1, future, true, false},
		{"exhausted", 0, future, true, false},
		{"exhausted but window reset", 0, past, false, false},
		{"low but window reset", ThresholdWarning - 1, past, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{Remaining: tt.remaining, ResetAt: tt.resetAt}
			if got := s.NeedsCriticalBlock(); got != tt.wantBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v (remaining=%d)", got, tt.wantBlock, tt.remaining)
			}
			if got := s.NeedsThrottling(); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v (remaining=%d)", got, tt.wantThrottle, tt.remaining)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	s := &State{ResetAt: time.Now().Add(5 * time.Minute)}
	if got := s.TimeUntilReset(); got < 4*time.Minute || got > 5*time.Minute {
		t.Errorf("TimeUntilReset() = %v, want about 5m", got)
	}

	s = &State{ResetAt: time.Now().Add(-5 * time.Minute)}
	if got := s.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0 for past reset time", got)
	}
}

func TestState_UpdateHealth(t *testing.T) {
	tests := []struct {
		remaining int
		want      bool
	}{
		{100, true},
		{ThresholdHealthy, true},
		{ThresholdHealthy - 1, false},
		{3, false},
	}

	for _, tt := range tests {
		s := &State{Remaining: tt.remaining}
		s.UpdateHealth()
		if s.IsHealthy != tt.want {
			t.Errorf("UpdateHealth() IsHealthy = %v, want %v (remaining=%d)", s.IsHealthy, tt.want, tt.remaining)
		}
	}
}

func TestThresholdConstants(t *testing.T) {
	if ThresholdCritical >= ThresholdWarning {
		t.Errorf("ThresholdCritical (%d) must be less than ThresholdWarning (%d)", ThresholdCritical, ThresholdWarning)
	}
	if ThresholdWarning >= ThresholdHealthy {
		t.Errorf("ThresholdWarning (%d) must be less than ThresholdHealthy (%d)", ThresholdWarning, ThresholdHealthy)
	}
}
