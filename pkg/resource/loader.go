package resource

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/lazywall/pkg/backoff"
	"github.com/Sternrassler/lazywall/pkg/eventloop"
	"github.com/Sternrassler/lazywall/pkg/visibility"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for resource loading.
var (
	resourceLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazywall_resource_loads_total",
		Help: "Total resource load attempts by outcome",
	}, []string{"outcome"})

	resourceStates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lazywall_resource_state",
		Help: "Number of tracked resources per state",
	}, []string{"state"})
)

// Fetcher loads the bytes behind a resource locator. It is the transport
// collaborator of the state machine.
type Fetcher interface {
	LoadResource(ctx context.Context, url string) error
}

// Watcher is the part of the visibility detector the loader needs.
type Watcher interface {
	Observe(target visibility.Target, mode visibility.Mode, onVisible func())
	Unobserve(target visibility.Target)
}

// Config holds state machine configuration.
type Config struct {
	// MaxRetries is the number of failed automatic attempts after which a
	// resource is permanently failed. Zero disables automatic retries.
	MaxRetries int

	// Backoff computes the wait before each automatic retry.
	Backoff backoff.Policy

	// LoadTimeout bounds a single load attempt.
	LoadTimeout time.Duration

	// CacheBustParam is the query parameter carrying the retry token.
	CacheBustParam string
}

// DefaultConfig returns the default state machine configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		Backoff:        backoff.DefaultPolicy(),
		LoadTimeout:    30 * time.Second,
		CacheBustParam: "_retry",
	}
}

type entry struct {
	Entity
	gen uint64
}

// Loader owns every resource entity and drives their load attempts.
// All methods must be called from the event loop.
type Loader struct {
	sched    eventloop.Scheduler
	fetcher  Fetcher
	watcher  Watcher
	config   Config
	logger   zerolog.Logger
	entities map[string]*entry
	timers   map[string]eventloop.Timer
	onChange func(Entity)
}

// NewLoader creates a loader. With a nil watcher, entities stay Pending
// until Activate is called explicitly.
func NewLoader(sched eventloop.Scheduler, fetcher Fetcher, watcher Watcher, config Config, logger zerolog.Logger) (*Loader, error) {
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", config.MaxRetries)
	}
	if err := config.Backoff.Validate(); err != nil {
		return nil, fmt.Errorf("backoff: %w", err)
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 30 * time.Second
	}
	if config.CacheBustParam == "" {
		config.CacheBustParam = "_retry"
	}

	return &Loader{
		sched:    sched,
		fetcher:  fetcher,
		watcher:  watcher,
		config:   config,
		logger:   logger,
		entities: make(map[string]*entry),
		timers:   make(map[string]eventloop.Timer),
	}, nil
}

// OnChange registers fn to receive a snapshot after every state change.
func (l *Loader) OnChange(fn func(Entity)) {
	l.onChange = fn
}

// Add starts tracking a new resource in the Pending state.
func (l *Loader) Add(desc Descriptor) (Entity, error) {
	if desc.ID == "" {
		return Entity{}, fmt.Errorf("resource id is required")
	}
	if _, exists := l.entities[desc.ID]; exists {
		return Entity{}, fmt.Errorf("%w: %s", ErrDuplicateID, desc.ID)
	}

	e := &entry{Entity: Entity{
		ID:        desc.ID,
		SourceURL: desc.URL,
		ActiveURL: desc.URL,
		AltText:   desc.AltText,
		State:     Pending,
	}}
	l.entities[desc.ID] = e
	resourceStates.WithLabelValues(Pending.String()).Inc()

	l.observe(e)
	return e.Entity, nil
}

// Activate begins loading a Pending resource.
func (l *Loader) Activate(id string) error {
	e, ok := l.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.State != Pending {
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, e.State)
	}

	l.setState(e, Loading)
	l.startAttempt(e)
	return nil
}

// ManualRetry retries a failed resource on request of the viewer.
// From Failed it skips the remaining backoff wait. From PermanentlyFailed
// it resets the attempt count and substitutes a cache-busting locator.
func (l *Loader) ManualRetry(id string) error {
	e, ok := l.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch e.State {
	case Failed:
		l.cancelTimer(id)
		l.logger.Info().
			Str("id", id).
			Int("attempt", e.AttemptCount).
			Msg("Manual retry, skipping backoff")
		l.setState(e, Loading)
		l.startAttempt(e)
		return nil

	case PermanentlyFailed:
		e.AttemptCount = 0
		e.LastError = ""
		e.ActiveURL = l.cacheBust(e.SourceURL)
		l.logger.Info().
			Str("id", id).
			Str("url", e.ActiveURL).
			Msg("Manual retry, resetting resource")
		l.setState(e, Pending)
		l.observe(e)
		return nil

	default:
		return fmt.Errorf("%w: manual retry from %s", ErrInvalidTransition, e.State)
	}
}

// Remove stops tracking a resource, cancelling its retry timer and
// visibility observation. A load still in flight is ignored when it settles.
func (l *Loader) Remove(id string) {
	e, ok := l.entities[id]
	if !ok {
		return
	}
	l.cancelTimer(id)
	if l.watcher != nil {
		l.watcher.Unobserve(visibility.Target(id))
	}
	delete(l.entities, id)
	resourceStates.WithLabelValues(e.State.String()).Dec()
}

// Close removes every resource.
func (l *Loader) Close() {
	for id := range l.entities {
		l.Remove(id)
	}
}

// Get returns a snapshot of the resource.
func (l *Loader) Get(id string) (Entity, bool) {
	e, ok := l.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.Entity, true
}

// Len returns the number of tracked resources.
func (l *Loader) Len() int {
	return len(l.entities)
}

func (l *Loader) observe(e *entry) {
	if l.watcher == nil {
		return
	}
	id := e.ID
	l.watcher.Observe(visibility.Target(id), visibility.OneShot, func() {
		if err := l.Activate(id); err != nil {
			l.logger.Debug().Err(err).Str("id", id).Msg("Ignoring visibility activation")
		}
	})
}

func (l *Loader) startAttempt(e *entry) {
	e.gen++
	gen := e.gen
	id := e.ID
	target := e.ActiveURL
	timeout := l.config.LoadTimeout

	l.logger.Debug().
		Str("id", id).
		Str("url", target).
		Int("attempt", e.AttemptCount+1).
		Msg("Loading resource")

	l.sched.Go(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return l.fetcher.LoadResource(ctx, target)
	}, func(err error) {
		l.onLoadSettled(id, gen, err)
	})
}

// onLoadSettled applies the outcome of a load attempt.
func (l *Loader) onLoadSettled(id string, gen uint64, err error) {
	e, ok := l.entities[id]
	if !ok || e.gen != gen || e.State != Loading {
		l.logger.Debug().Str("id", id).Msg("Discarding stale load completion")
		return
	}

	if err == nil {
		resourceLoadsTotal.WithLabelValues("success").Inc()
		e.LastError = ""
		l.setState(e, Loaded)
		if l.watcher != nil {
			l.watcher.Unobserve(visibility.Target(id))
		}
		return
	}

	resourceLoadsTotal.WithLabelValues("failure").Inc()
	attempt := e.AttemptCount + 1
	loadErr := &LoadError{ID: id, URL: e.ActiveURL, Attempt: attempt, Err: err}
	e.LastError = loadErr.Error()

	if attempt < l.config.MaxRetries {
		e.AttemptCount = attempt
		delay := l.config.Backoff.Delay(attempt)
		backoff.Observe(backoff.ScopeResource, delay)

		l.logger.Warn().
			Err(err).
			Str("id", id).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Resource load failed, retrying after backoff")

		l.setState(e, Failed)
		l.timers[id] = l.sched.AfterFunc(delay, func() {
			delete(l.timers, id)
			cur, ok := l.entities[id]
			if !ok || cur != e || cur.State != Failed {
				return
			}
			l.setState(cur, Loading)
			l.startAttempt(cur)
		})
		return
	}

	e.AttemptCount = min(attempt, l.config.MaxRetries)
	backoff.Exhausted(backoff.ScopeResource)
	l.logger.Error().
		Err(backoff.ExhaustedError(attempt, loadErr)).
		Str("id", id).
		Msg("Resource permanently failed")
	l.setState(e, PermanentlyFailed)
}

func (l *Loader) setState(e *entry, s State) {
	if e.State != s {
		resourceStates.WithLabelValues(e.State.String()).Dec()
		resourceStates.WithLabelValues(s.String()).Inc()
	}
	l.logger.Debug().
		Str("id", e.ID).
		Str("from", e.State.String()).
		Str("state", s.String()).
		Msg("Resource state changed")
	e.State = s
	if l.onChange != nil {
		l.onChange(e.Entity)
	}
}

func (l *Loader) cancelTimer(id string) {
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

// cacheBust returns src with a fresh retry token so intermediaries cannot
// answer from a cached failure.
func (l *Loader) cacheBust(src string) string {
	token := uuid.NewString()
	u, err := url.Parse(src)
	if err != nil {
		sep := "?"
		if strings.Contains(src, "?") {
			sep = "&"
		}
		return src + sep + l.config.CacheBustParam + "=" + token
	}
	q := u.Query()
	q.Set(l.config.CacheBustParam, token)
	u.RawQuery = q.Encode()
	return u.String()
}
