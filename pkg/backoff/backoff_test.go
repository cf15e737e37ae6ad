package backoff

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.BaseDelay != 1*time.Second {
		t.Errorf("BaseDelay = %v, want 1s", p.BaseDelay)
	}
	if p.MaxDelay != 8*time.Second {
		t.Errorf("MaxDelay = %v, want 8s", p.MaxDelay)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 1000 * time.Millisecond, MaxDelay: 8000 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1000 * time.Millisecond},
		{attempt: 1, want: 1000 * time.Millisecond},
		{attempt: 2, want: 2000 * time.Millisecond},
		{attempt: 3, want: 4000 * time.Millisecond},
		{attempt: 4, want: 8000 * time.Millisecond},
		{attempt: 5, want: 8000 * time.Millisecond},
		{attempt: 200, want: 8000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_DelayMatchesFormula(t *testing.T) {
	policies := []Policy{
		DefaultPolicy(),
		{BaseDelay: 300 * time.Millisecond, MaxDelay: 5 * time.Second},
		{BaseDelay: time.Second, MaxDelay: time.Second},
	}

	for _, p := range policies {
		prev := time.Duration(0)
		for a := 1; a <= 40; a++ {
			want := p.MaxDelay
			if a < 32 {
				if d := p.BaseDelay * time.Duration(1<<(a-1)); d > 0 && d < p.MaxDelay {
					want = d
				}
			}
			got := p.Delay(a)
			if got != want {
				t.Fatalf("%+v: Delay(%d) = %v, want %v", p, a, got, want)
			}
			if got < prev {
				t.Fatalf("%+v: Delay(%d) = %v decreased from %v", p, a, got, prev)
			}
			prev = got
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "valid", policy: Policy{BaseDelay: time.Second, MaxDelay: 2 * time.Second}},
		{name: "equal bounds", policy: Policy{BaseDelay: time.Second, MaxDelay: time.Second}},
		{name: "zero base", policy: Policy{MaxDelay: time.Second}, wantErr: true},
		{name: "max below base", policy: Policy{BaseDelay: 2 * time.Second, MaxDelay: time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExhaustedError(t *testing.T) {
	last := errors.New("boom")
	err := ExhaustedError(3, last)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}
	if err.Error() != "retry attempts exhausted after 3 attempts: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}
