// Package wall assembles the lazy-loading image wall: a paginated,
// visibility-driven collection of resources laid out on a grid.
package wall

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sternrassler/lazywall/pkg/eventloop"
	"github.com/Sternrassler/lazywall/pkg/pagination"
	"github.com/Sternrassler/lazywall/pkg/resource"
	"github.com/Sternrassler/lazywall/pkg/visibility"
	"github.com/rs/zerolog"
)

// SentinelTarget is the element placed after the last item. Its visibility
// requests the next page.
const SentinelTarget visibility.Target = "__sentinel__"

// ErrClosed is returned by operations on a closed wall.
var ErrClosed = errors.New("wall closed")

// Grid is a fixed-column layout.
type Grid struct {
	Columns   int     `yaml:"columns"`
	RowHeight float64 `yaml:"row_height"`
}

// Validate checks the grid dimensions.
func (g Grid) Validate() error {
	if g.Columns < 1 {
		return fmt.Errorf("columns must be >= 1 (got %d)", g.Columns)
	}
	if g.RowHeight <= 0 {
		return fmt.Errorf("row_height must be > 0 (got %v)", g.RowHeight)
	}
	return nil
}

// Rect returns the layout of the item at index.
func (g Grid) Rect(index int) visibility.Rect {
	row := index / g.Columns
	return visibility.Rect{Top: float64(row) * g.RowHeight, Height: g.RowHeight}
}

// SentinelRect returns the layout of the sentinel after n items.
func (g Grid) SentinelRect(n int) visibility.Rect {
	rows := math.Ceil(float64(n) / float64(g.Columns))
	return visibility.Rect{Top: rows * g.RowHeight}
}

// Config holds wall configuration.
type Config struct {
	Pagination     pagination.Config
	Resource       resource.Config
	Visibility     visibility.Options
	ViewportHeight float64
	Grid           Grid

	// DisableVisibility runs without a visibility primitive: every item
	// loads immediately and pages are fetched back to back.
	DisableVisibility bool
}

// DefaultConfig returns the default wall configuration.
func DefaultConfig() Config {
	return Config{
		Pagination:     pagination.DefaultConfig(),
		Resource:       resource.DefaultConfig(),
		Visibility:     visibility.DefaultOptions(),
		ViewportHeight: 800,
		Grid:           Grid{Columns: 3, RowHeight: 300},
	}
}

// Snapshot is the view of the wall a renderer needs.
type Snapshot struct {
	Items      []resource.Entity `json:"items"`
	Loaded     int               `json:"loaded"`
	Total      int               `json:"total"`
	Loading    bool              `json:"loading"`
	HasMore    bool              `json:"has_more"`
	Done       bool              `json:"done"`
	Error      string            `json:"error,omitempty"`
	TotalError string            `json:"total_error,omitempty"`
	ScrollTop  float64           `json:"scroll_top"`
}

// Wall wires the viewport, detector, loader and coordinator together.
// All methods must be called from the event loop.
type Wall struct {
	config   Config
	logger   zerolog.Logger
	viewport *visibility.Viewport
	detector *visibility.Detector
	loader   *resource.Loader
	coord    *pagination.Coordinator
	order    []string
	started  bool
	closed   bool
}

// New creates a wall fed by source, loading resources through fetcher.
func New(sched eventloop.Scheduler, source pagination.Source, fetcher resource.Fetcher, config Config, logger zerolog.Logger) (*Wall, error) {
	if err := config.Grid.Validate(); err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	if err := config.Visibility.Validate(); err != nil {
		return nil, fmt.Errorf("visibility: %w", err)
	}
	if config.ViewportHeight <= 0 {
		return nil, fmt.Errorf("viewport_height must be > 0 (got %v)", config.ViewportHeight)
	}

	w := &Wall{
		config:   config,
		logger:   logger.With().Str("component", "wall").Logger(),
		viewport: visibility.NewViewport(config.ViewportHeight, config.Visibility),
	}

	var prim visibility.Primitive
	if !config.DisableVisibility {
		prim = w.viewport
	}
	w.detector = visibility.NewDetector(prim, sched, logger.With().Str("component", "visibility").Logger())

	loader, err := resource.NewLoader(sched, fetcher, w.detector, config.Resource, logger.With().Str("component", "resource").Logger())
	if err != nil {
		return nil, fmt.Errorf("resource loader: %w", err)
	}
	w.loader = loader

	coord, err := pagination.NewCoordinator(sched, source, w, config.Pagination, logger.With().Str("component", "pagination").Logger())
	if err != nil {
		return nil, fmt.Errorf("pagination: %w", err)
	}
	coord.OnChange(w.onCollectionChanged)
	w.coord = coord

	return w, nil
}

// Start places the sentinel and requests the total count. The first page
// is fetched as soon as the sentinel is reported visible.
func (w *Wall) Start() error {
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return nil
	}
	w.started = true

	w.viewport.Place(SentinelTarget, w.config.Grid.SentinelRect(0))
	w.detector.Observe(SentinelTarget, visibility.Repeating, w.coord.OnSentinelVisible)
	w.coord.RequestTotalCount()

	w.logger.Info().
		Int("page_size", w.config.Pagination.PageSize).
		Bool("degraded", w.detector.Degraded()).
		Msg("Wall started")
	return nil
}

// Add implements pagination.Appender. The item is placed on the grid
// after the loader starts observing it.
func (w *Wall) Add(desc resource.Descriptor) (resource.Entity, error) {
	e, err := w.loader.Add(desc)
	if err != nil {
		return e, err
	}
	w.viewport.Place(visibility.Target(e.ID), w.config.Grid.Rect(len(w.order)))
	w.order = append(w.order, e.ID)
	return e, nil
}

// onCollectionChanged moves the sentinel behind the last item and re-arms
// it, so a sentinel still in view requests the next page.
func (w *Wall) onCollectionChanged() {
	if w.closed {
		return
	}
	w.viewport.Place(SentinelTarget, w.config.Grid.SentinelRect(len(w.order)))
	w.detector.Refresh(SentinelTarget)
}

// ScrollTo moves the viewport.
func (w *Wall) ScrollTo(y float64) {
	w.viewport.ScrollTo(y)
}

// RequestManualRetry retries a failed resource.
func (w *Wall) RequestManualRetry(id string) error {
	if w.closed {
		return ErrClosed
	}
	return w.loader.ManualRetry(id)
}

// RequestCoordinatorReset clears a halted pagination and re-arms the
// sentinel.
func (w *Wall) RequestCoordinatorReset() error {
	if w.closed {
		return ErrClosed
	}
	w.coord.Reset()
	return nil
}

// Snapshot returns the current view of the wall.
func (w *Wall) Snapshot() Snapshot {
	st := w.coord.State()
	snap := Snapshot{
		Items:     make([]resource.Entity, 0, len(w.order)),
		Loaded:    len(w.order),
		Total:     st.TotalCount,
		Loading:   st.FetchInFlight,
		HasMore:   st.HasMore,
		Done:      !st.HasMore,
		ScrollTop: w.viewport.ScrollTop(),
	}
	for _, id := range w.order {
		if e, ok := w.loader.Get(id); ok {
			snap.Items = append(snap.Items, e)
		}
	}
	if st.Err != nil {
		snap.Error = st.Err.Error()
	}
	if st.TotalErr != nil {
		snap.TotalError = st.TotalErr.Error()
	}
	return snap
}

// Close stops all observations and timers.
func (w *Wall) Close() {
	if w.closed {
		return
	}
	w.closed = true
	w.coord.Close()
	w.detector.Unobserve(SentinelTarget)
	w.loader.Close()
	w.logger.Info().Int("loaded", len(w.order)).Msg("Wall closed")
}
