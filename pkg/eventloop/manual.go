package eventloop

import (
	"context"
	"sort"
	"time"
)

// Manual is a deterministic Scheduler with a virtual clock.
//
// Work passed to Go runs immediately, but its completion is held until
// Settle. Timers fire only when Advance moves the clock past their deadline.
// Manual is not safe for concurrent use.
type Manual struct {
	now     time.Duration
	seq     int
	queue   []func()
	settles []func()
	timers  []*manualTimer
}

// NewManual creates a Manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.queue = append(m.queue, fn)
}

// Go implements Scheduler.
func (m *Manual) Go(work func(ctx context.Context) error, done func(err error)) {
	err := work(context.Background())
	m.settles = append(m.settles, func() { done(err) })
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, delay: d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Call runs fn and then drains posted callbacks.
func (m *Manual) Call(_ context.Context, fn func()) error {
	fn()
	m.Flush()
	return nil
}

// Flush runs posted callbacks until none remain.
func (m *Manual) Flush() {
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

// Settle delivers every held completion in dispatch order and returns how
// many were delivered. Completions dispatched while settling are delivered too.
func (m *Manual) Settle() int {
	n := 0
	m.Flush()
	for len(m.settles) > 0 {
		done := m.settles[0]
		m.settles = m.settles[1:]
		done()
		n++
		m.Flush()
	}
	return n
}

// SettleOne delivers only the oldest held completion.
func (m *Manual) SettleOne() bool {
	m.Flush()
	if len(m.settles) == 0 {
		return false
	}
	done := m.settles[0]
	m.settles = m.settles[1:]
	done()
	m.Flush()
	return true
}

// InFlight returns the number of held completions.
func (m *Manual) InFlight() int {
	return len(m.settles)
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	m.Flush()
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.at
		m.remove(t)
		t.fn()
		m.Flush()
	}
	m.now = target
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	return m.now
}

// Timers returns the original delays of pending timers, oldest first.
func (m *Manual) Timers() []time.Duration {
	pending := m.sorted()
	out := make([]time.Duration, 0, len(pending))
	for _, t := range pending {
		out = append(out, t.delay)
	}
	return out
}

func (m *Manual) sorted() []*manualTimer {
	pending := append([]*manualTimer(nil), m.timers...)
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].at != pending[j].at {
			return pending[i].at < pending[j].at
		}
		return pending[i].seq < pending[j].seq
	})
	return pending
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	pending := m.sorted()
	if len(pending) == 0 || pending[0].at > target {
		return nil
	}
	return pending[0]
}

func (m *Manual) remove(t *manualTimer) bool {
	for i, cur := range m.timers {
		if cur == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	m     *Manual
	at    time.Duration
	delay time.Duration
	seq   int
	fn    func()
}

func (t *manualTimer) Stop() bool {
	return t.m.remove(t)
}
