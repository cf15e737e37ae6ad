// Package resource implements the per-image lazy-load state machine.
package resource

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown entity id.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidTransition is returned when an operation is not allowed
	// in the entity's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateID is returned by Add when the id is already tracked.
	ErrDuplicateID = errors.New("duplicate resource id")
)

// State is the lifecycle state of a resource.
type State int

const (
	// Pending waits for the resource to become visible.
	Pending State = iota

	// Loading has one load attempt in flight.
	Loading

	// Loaded is terminal for success.
	Loaded

	// Failed waits for the backoff timer before the next automatic attempt.
	Failed

	// PermanentlyFailed exhausted its automatic attempts; only a manual
	// retry leaves it.
	PermanentlyFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	case PermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for c := Pending; c <= PermanentlyFailed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown resource state %q", text)
}

// Descriptor is a resource as returned by a page fetch.
type Descriptor struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	AltText string `json:"alt"`
}

// Entity is a snapshot of one resource. The Loader owns the live value;
// callers only ever see copies.
type Entity struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
	// ActiveURL is the locator actually requested. It differs from
	// SourceURL only after a manual retry added a cache-busting token.
	ActiveURL    string `json:"active_url"`
	AltText      string `json:"alt"`
	State        State  `json:"state"`
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error,omitempty"`
}

// LoadError is a failed load attempt for one resource.
type LoadError struct {
	ID      string
	URL     string
	Attempt int
	Err     error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load resource %s (attempt %d) from %s: %v", e.ID, e.Attempt, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LoadError) Unwrap() error {
	return e.Err
}
