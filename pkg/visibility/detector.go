// Package visibility reports when watched targets enter the viewport.
//
// A Detector sits on top of a Primitive, the platform's intersection
// signal. Targets are either one-shot (lazy activation of a single image:
// the detector stops watching after the first entry) or repeating (the
// pagination sentinel, which must fire again each time the viewer reaches
// the end of the list). When no primitive is available the detector treats
// every target as visible, so the system keeps working without the lazy
// activation optimisation.
package visibility

import (
	"github.com/Sternrassler/lazywall/pkg/eventloop"
	"github.com/rs/zerolog"
)

// Target identifies a watched element.
type Target string

// Mode selects how long a target stays observed.
type Mode int

const (
	// OneShot stops observing after the first visible transition.
	OneShot Mode = iota

	// Repeating keeps observing and fires on every visible transition.
	Repeating
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case OneShot:
		return "one_shot"
	case Repeating:
		return "repeating"
	default:
		return "unknown"
	}
}

// Primitive is the platform intersection signal. Watch reports the
// target's visibility whenever it may have changed, including its initial
// state, until cancel is called.
type Primitive interface {
	Watch(target Target, fn func(visible bool)) (cancel func())
}

// Detector turns raw visibility reports into onVisible callbacks.
// It must only be used from the event loop.
type Detector struct {
	prim    Primitive
	sched   eventloop.Scheduler
	logger  zerolog.Logger
	watches map[Target]*watch
	gen     uint64
}

type watch struct {
	mode      Mode
	onVisible func()
	visible   bool
	pending   bool
	cancel    func()
	gen       uint64
}

// NewDetector creates a detector. A nil prim degrades to always-visible.
func NewDetector(prim Primitive, sched eventloop.Scheduler, logger zerolog.Logger) *Detector {
	if prim == nil {
		logger.Warn().Msg("No visibility primitive available, treating every target as visible")
	}
	return &Detector{
		prim:    prim,
		sched:   sched,
		logger:  logger,
		watches: make(map[Target]*watch),
	}
}

// Degraded reports whether the detector runs without a primitive.
func (d *Detector) Degraded() bool {
	return d.prim == nil
}

// Observe starts watching target. Observing an already watched target
// replaces the previous registration.
func (d *Detector) Observe(target Target, mode Mode, onVisible func()) {
	d.Unobserve(target)

	d.gen++
	w := &watch{mode: mode, onVisible: onVisible, gen: d.gen}
	d.watches[target] = w

	d.logger.Debug().
		Str("target", string(target)).
		Str("mode", mode.String()).
		Msg("Observing target")

	if d.prim == nil {
		d.report(target, w, true)
		return
	}
	w.cancel = d.prim.Watch(target, func(visible bool) {
		d.report(target, w, visible)
	})
}

// Unobserve stops watching target and drops any undelivered callback.
// It is idempotent.
func (d *Detector) Unobserve(target Target) {
	w, ok := d.watches[target]
	if !ok {
		return
	}
	delete(d.watches, target)
	if w.cancel != nil {
		w.cancel()
	}
	d.logger.Debug().Str("target", string(target)).Msg("Unobserved target")
}

// Refresh forgets the last reported visibility of a repeating target so a
// target that is still in view fires again.
func (d *Detector) Refresh(target Target) {
	w, ok := d.watches[target]
	if !ok {
		return
	}
	w.visible = false

	if d.prim == nil {
		d.report(target, w, true)
		return
	}
	// Re-registering makes the primitive report the current state.
	if w.cancel != nil {
		w.cancel()
	}
	w.cancel = d.prim.Watch(target, func(visible bool) {
		d.report(target, w, visible)
	})
}

// Observing reports whether target is currently watched.
func (d *Detector) Observing(target Target) bool {
	_, ok := d.watches[target]
	return ok
}

// report records a visibility sample and schedules onVisible on an
// entering transition.
func (d *Detector) report(target Target, w *watch, visible bool) {
	if d.watches[target] != w {
		return
	}
	was := w.visible
	w.visible = visible
	if !visible || was || w.pending {
		return
	}

	w.pending = true
	gen := w.gen
	d.sched.Post(func() {
		cur, ok := d.watches[target]
		if !ok || cur.gen != gen {
			return
		}
		cur.pending = false
		if cur.mode == OneShot {
			d.Unobserve(target)
		}
		cur.onVisible()
	})
}
