package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/lazywall/pkg/backoff"
	"github.com/Sternrassler/lazywall/pkg/eventloop"
	"github.com/Sternrassler/lazywall/pkg/resource"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for page fetching.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lazywall_pages_fetched_total",
		Help: "Total number of pages appended to the collection",
	})

	pageFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazywall_page_fetch_errors_total",
		Help: "Total number of failed page or total-count fetches",
	}, []string{"scope"})

	pageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lazywall_page_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// UnknownTotal marks a total count that has not resolved yet.
const UnknownTotal = -1

// Config holds coordinator configuration.
type Config struct {
	// PageSize is the number of resources requested per page.
	PageSize int

	// InitialPage is the first page index requested (1 or 0 by convention
	// of the source).
	InitialPage int

	// MaxRetries is the number of consecutive failures after which page
	// fetching stops until Reset. It also bounds total-count attempts.
	MaxRetries int

	// Backoff computes the wait before each retry.
	Backoff backoff.Policy

	// Timeout bounds a single fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:    30,
		InitialPage: 1,
		MaxRetries:  3,
		Backoff:     backoff.DefaultPolicy(),
		Timeout:     15 * time.Second,
	}
}

// PageFetcher fetches one page of resource descriptors.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, size int) ([]resource.Descriptor, error)
}

// TotalCounter resolves the total number of resources.
type TotalCounter interface {
	FetchTotalCount(ctx context.Context) (int, error)
}

// Source is the transport collaborator of the coordinator.
type Source interface {
	PageFetcher
	TotalCounter
}

// Appender receives resources in arrival order. resource.Loader implements it.
type Appender interface {
	Add(desc resource.Descriptor) (resource.Entity, error)
}

// State is a snapshot of the coordinator.
type State struct {
	PageIndex     int   `json:"page_index"`
	PageSize      int   `json:"page_size"`
	TotalCount    int   `json:"total_count"`
	TotalKnown    bool  `json:"total_known"`
	LoadedCount   int   `json:"loaded_count"`
	HasMore       bool  `json:"has_more"`
	FetchInFlight bool  `json:"fetch_in_flight"`
	Failures      int   `json:"failures"`
	Err           error `json:"-"`
	TotalErr      error `json:"-"`
}

// Coordinator advances through pages as the sentinel becomes visible.
// At most one page fetch is in flight; pages are appended strictly in
// increasing index order. All methods must be called from the event loop.
type Coordinator struct {
	sched    eventloop.Scheduler
	source   Source
	appender Appender
	config   Config
	logger   zerolog.Logger

	ids       []string
	known     map[string]struct{}
	pageIndex int
	total     int
	ended     bool
	inFlight  bool
	failures  int
	err       error
	retry     eventloop.Timer
	cycle     uint64

	totalInFlight bool
	totalFailures int
	totalErr      error
	totalRetry    eventloop.Timer

	onChange func()
}

// NewCoordinator creates a coordinator.
func NewCoordinator(sched eventloop.Scheduler, source Source, appender Appender, config Config, logger zerolog.Logger) (*Coordinator, error) {
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if appender == nil {
		return nil, fmt.Errorf("appender is required")
	}
	if config.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be > 0 (got %d)", config.PageSize)
	}
	if config.InitialPage < 0 {
		return nil, fmt.Errorf("initial_page must be >= 0 (got %d)", config.InitialPage)
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", config.MaxRetries)
	}
	if err := config.Backoff.Validate(); err != nil {
		return nil, fmt.Errorf("backoff: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Coordinator{
		sched:     sched,
		source:    source,
		appender:  appender,
		config:    config,
		logger:    logger,
		known:     make(map[string]struct{}),
		pageIndex: config.InitialPage,
		total:     UnknownTotal,
	}, nil
}

// OnChange registers fn to run after every settled fetch or reset.
func (c *Coordinator) OnChange(fn func()) {
	c.onChange = fn
}

// OnSentinelVisible requests the next page unless a fetch is in flight,
// the collection is exhausted, or a persistent error blocks fetching.
func (c *Coordinator) OnSentinelVisible() {
	if c.inFlight || c.err != nil || !c.hasMore() {
		return
	}
	c.inFlight = true
	c.cycle++
	c.dispatch(c.cycle)
}

// dispatch issues the fetch for the current page index.
func (c *Coordinator) dispatch(cycle uint64) {
	page := c.pageIndex
	size := c.config.PageSize
	timeout := c.config.Timeout
	start := time.Now()

	c.logger.Debug().
		Int("page", page).
		Int("page_size", size).
		Msg("Fetching page")

	var descs []resource.Descriptor
	c.sched.Go(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var err error
		descs, err = c.source.FetchPage(ctx, page, size)
		return err
	}, func(err error) {
		pageFetchDuration.Observe(time.Since(start).Seconds())
		c.onPageSettled(cycle, page, descs, err)
	})
}

func (c *Coordinator) onPageSettled(cycle uint64, page int, descs []resource.Descriptor, err error) {
	if cycle != c.cycle || !c.inFlight {
		c.logger.Debug().Int("page", page).Msg("Discarding stale page completion")
		return
	}

	if err != nil {
		c.onPageFailed(cycle, page, err)
		c.notify()
		return
	}

	appended := c.appendPage(descs)
	c.failures = 0
	c.pageIndex++
	c.inFlight = false
	if len(descs) == 0 {
		c.ended = true
	}
	pagesFetchedTotal.Inc()

	c.logger.Info().
		Int("page", page).
		Int("appended", appended).
		Int("loaded", len(c.ids)).
		Int("total", c.total).
		Bool("has_more", c.hasMore()).
		Msg("Page appended")

	c.notify()
}

func (c *Coordinator) onPageFailed(cycle uint64, page int, err error) {
	pageFetchErrorsTotal.WithLabelValues(backoff.ScopePage).Inc()
	c.failures++

	if c.failures >= c.config.MaxRetries {
		backoff.Exhausted(backoff.ScopePage)
		c.err = backoff.ExhaustedError(c.failures, err)
		c.inFlight = false
		c.logger.Error().
			Err(c.err).
			Int("page", page).
			Msg("Page fetch retries exhausted, pagination halted until reset")
		return
	}

	delay := c.config.Backoff.Delay(c.failures)
	backoff.Observe(backoff.ScopePage, delay)
	c.logger.Warn().
		Err(err).
		Int("page", page).
		Int("attempt", c.failures).
		Dur("delay", delay).
		Msg("Page fetch failed, retrying after backoff")

	// The cycle stays in flight while waiting, so sentinel events cannot
	// bypass the backoff. The page index is not advanced.
	c.retry = c.sched.AfterFunc(delay, func() {
		c.retry = nil
		if cycle != c.cycle || !c.inFlight {
			return
		}
		c.dispatch(cycle)
	})
}

// appendPage hands descriptors to the appender in order, assigning
// ordinal ids where missing, dropping duplicates and never exceeding a
// known total.
func (c *Coordinator) appendPage(descs []resource.Descriptor) int {
	appended := 0
	for _, d := range descs {
		if c.total != UnknownTotal && len(c.ids) >= c.total {
			c.logger.Warn().
				Int("dropped", len(descs)-appended).
				Int("total", c.total).
				Msg("Page exceeds total count, truncating")
			break
		}
		if d.ID == "" {
			d.ID = c.nextOrdinalID()
		}
		e, err := c.appender.Add(d)
		if err != nil {
			c.logger.Warn().Err(err).Str("id", d.ID).Msg("Skipping resource")
			continue
		}
		c.ids = append(c.ids, e.ID)
		c.known[e.ID] = struct{}{}
		appended++
	}
	return appended
}

// nextOrdinalID returns the first free image-<n> id at or after the
// current position.
func (c *Coordinator) nextOrdinalID() string {
	for n := len(c.ids) + 1; ; n++ {
		id := fmt.Sprintf("image-%d", n)
		if _, taken := c.known[id]; !taken {
			return id
		}
	}
}

// RequestTotalCount resolves the total count with its own retry sequence.
// It is a no-op while a request is in flight or once the total is known.
func (c *Coordinator) RequestTotalCount() {
	if c.totalInFlight || c.total != UnknownTotal {
		return
	}
	c.totalInFlight = true
	c.totalFailures = 0
	c.totalErr = nil
	c.dispatchTotal()
}

func (c *Coordinator) dispatchTotal() {
	timeout := c.config.Timeout
	var total int
	c.sched.Go(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var err error
		total, err = c.source.FetchTotalCount(ctx)
		return err
	}, func(err error) {
		c.onTotalSettled(total, err)
	})
}

func (c *Coordinator) onTotalSettled(total int, err error) {
	if !c.totalInFlight {
		return
	}
	if err == nil && total < 0 {
		err = fmt.Errorf("negative total count %d", total)
	}

	if err != nil {
		pageFetchErrorsTotal.WithLabelValues(backoff.ScopeTotal).Inc()
		c.totalFailures++
		if c.totalFailures >= c.config.MaxRetries {
			backoff.Exhausted(backoff.ScopeTotal)
			c.totalInFlight = false
			c.totalErr = backoff.ExhaustedError(c.totalFailures, err)
			c.logger.Error().Err(c.totalErr).Msg("Total count unavailable")
			c.notify()
			return
		}

		delay := c.config.Backoff.Delay(c.totalFailures)
		backoff.Observe(backoff.ScopeTotal, delay)
		c.logger.Warn().
			Err(err).
			Int("attempt", c.totalFailures).
			Dur("delay", delay).
			Msg("Total count fetch failed, retrying after backoff")
		c.totalRetry = c.sched.AfterFunc(delay, func() {
			c.totalRetry = nil
			if c.totalInFlight {
				c.dispatchTotal()
			}
		})
		return
	}

	c.totalInFlight = false
	c.total = total
	if len(c.ids) > total {
		c.logger.Warn().
			Int("loaded", len(c.ids)).
			Int("total", total).
			Msg("More resources loaded than the reported total")
	}
	c.logger.Info().
		Int("total", total).
		Int("loaded", len(c.ids)).
		Bool("has_more", c.hasMore()).
		Msg("Total count resolved")
	c.notify()
}

// Reset clears the persistent error state and the consecutive failure
// counter. A backoff wait still pending is abandoned; a fetch already
// dispatched is left to settle. An exhausted total count is requested
// again.
func (c *Coordinator) Reset() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
		c.inFlight = false
	}
	c.err = nil
	c.failures = 0

	c.logger.Info().Int("page", c.pageIndex).Msg("Pagination reset")

	if c.totalErr != nil {
		c.totalErr = nil
		c.totalFailures = 0
		c.RequestTotalCount()
	}
	c.notify()
}

// Close cancels pending retry timers.
func (c *Coordinator) Close() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.totalRetry != nil {
		c.totalRetry.Stop()
		c.totalRetry = nil
	}
	c.inFlight = false
	c.totalInFlight = false
	c.cycle++
}

// State returns a snapshot of the pagination state.
func (c *Coordinator) State() State {
	return State{
		PageIndex:     c.pageIndex,
		PageSize:      c.config.PageSize,
		TotalCount:    c.total,
		TotalKnown:    c.total != UnknownTotal,
		LoadedCount:   len(c.ids),
		HasMore:       c.hasMore(),
		FetchInFlight: c.inFlight,
		Failures:      c.failures,
		Err:           c.err,
		TotalErr:      c.totalErr,
	}
}

// IDs returns the resource ids in arrival order.
func (c *Coordinator) IDs() []string {
	return append([]string(nil), c.ids...)
}

func (c *Coordinator) hasMore() bool {
	if c.ended {
		return false
	}
	if c.total != UnknownTotal && len(c.ids) >= c.total {
		return false
	}
	return true
}

func (c *Coordinator) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
