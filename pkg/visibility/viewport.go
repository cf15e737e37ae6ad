package visibility

import (
	"fmt"
	"strconv"
	"strings"
)

// Options mirror the intersection observer settings.
type Options struct {
	// RootMargin grows the viewport by this many pixels above and below,
	// so targets count as visible slightly before they scroll into view.
	RootMargin float64

	// Threshold is the fraction of the target that must intersect, 0..1.
	// Zero means any overlap.
	Threshold float64
}

// DefaultOptions matches the sentinel settings of the original wall:
// a 200px margin and a 10% threshold.
func DefaultOptions() Options {
	return Options{RootMargin: 200, Threshold: 0.1}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.RootMargin < 0 {
		return fmt.Errorf("root margin must be >= 0 (got %v)", o.RootMargin)
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0,1] (got %v)", o.Threshold)
	}
	return nil
}

// ParseMargin parses a CSS-like margin such as "200px", "50" or "0px".
func ParseMargin(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "px"), 64)
	if err != nil {
		return 0, fmt.Errorf("parse root margin %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("root margin must be >= 0 (got %q)", s)
	}
	return v, nil
}

// Rect is a target's vertical extent in document coordinates.
type Rect struct {
	Top    float64
	Height float64
}

// Viewport is a geometric Primitive over a vertically scrolling document.
// It must only be used from the event loop.
type Viewport struct {
	opts      Options
	height    float64
	scrollTop float64
	rects     map[Target]Rect
	watchers  map[Target]map[uint64]func(bool)
	seq       uint64
}

// NewViewport creates a viewport of the given height scrolled to the top.
func NewViewport(height float64, opts Options) *Viewport {
	return &Viewport{
		opts:     opts,
		height:   height,
		rects:    make(map[Target]Rect),
		watchers: make(map[Target]map[uint64]func(bool)),
	}
}

// Watch implements Primitive. The current state is reported immediately.
func (v *Viewport) Watch(target Target, fn func(visible bool)) func() {
	v.seq++
	id := v.seq
	if v.watchers[target] == nil {
		v.watchers[target] = make(map[uint64]func(bool))
	}
	v.watchers[target][id] = fn

	fn(v.Visible(target))

	return func() {
		if ws, ok := v.watchers[target]; ok {
			delete(ws, id)
			if len(ws) == 0 {
				delete(v.watchers, target)
			}
		}
	}
}

// Place sets a target's layout and reports its visibility.
func (v *Viewport) Place(target Target, r Rect) {
	v.rects[target] = r
	v.notify(target)
}

// Remove forgets a target's layout.
func (v *Viewport) Remove(target Target) {
	delete(v.rects, target)
	v.notify(target)
}

// ScrollTo moves the viewport and reports every watched target. The
// offset is clamped to the document: the viewport cannot start above 0 or
// end below the bottom of the lowest placed target.
func (v *Viewport) ScrollTo(y float64) {
	y = min(y, v.DocumentBottom()-v.height)
	if y < 0 {
		y = 0
	}
	v.scrollTop = y
	for target := range v.watchers {
		v.notify(target)
	}
}

// ScrollTop returns the current scroll offset.
func (v *Viewport) ScrollTop() float64 {
	return v.scrollTop
}

// DocumentBottom returns the lowest edge of all placed targets.
func (v *Viewport) DocumentBottom() float64 {
	var bottom float64
	for _, r := range v.rects {
		bottom = max(bottom, r.Top+r.Height)
	}
	return bottom
}

// Height returns the viewport height.
func (v *Viewport) Height() float64 {
	return v.height
}

// Visible reports whether target intersects the margin-extended viewport
// by at least the threshold. Unplaced targets are not visible.
func (v *Viewport) Visible(target Target) bool {
	r, ok := v.rects[target]
	if !ok {
		return false
	}

	top := v.scrollTop - v.opts.RootMargin
	bottom := v.scrollTop + v.height + v.opts.RootMargin

	if r.Height <= 0 {
		return r.Top >= top && r.Top <= bottom
	}

	overlap := min(r.Top+r.Height, bottom) - max(r.Top, top)
	if overlap <= 0 {
		return false
	}
	return overlap/r.Height >= v.opts.Threshold
}

func (v *Viewport) notify(target Target) {
	ws := v.watchers[target]
	if len(ws) == 0 {
		return
	}
	visible := v.Visible(target)
	fns := make([]func(bool), 0, len(ws))
	for _, fn := range ws {
		fns = append(fns, fn)
	}
	for _, fn := range fns {
		fn(visible)
	}
}
