// Package eventloop provides the single-threaded cooperative scheduler that
// drives the pagination coordinator and the resource state machines.
//
// All state owned by those components is mutated only inside callbacks that
// run on the loop, so they need no locks. Blocking transport calls run on
// their own goroutines and hand their result back to the loop.
package eventloop

import (
	"context"
	"errors"
	"time"
)

// ErrStopped is returned by Call when the loop is no longer running.
var ErrStopped = errors.New("event loop stopped")

// Scheduler is the capability core components use to defer work.
type Scheduler interface {
	// Post queues fn to run on the loop.
	Post(fn func())

	// Go runs work off the loop and delivers its result to done on the loop.
	Go(work func(ctx context.Context) error, done func(err error))

	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop prevents the task from running. It reports whether the call
	// stopped the task, false if it already ran or was stopped.
	Stop() bool
}

// Loop is the production Scheduler backed by a single goroutine.
type Loop struct {
	events chan func()
	done   chan struct{}
	ctx    context.Context
}

// New creates a loop whose event queue holds buffer callbacks before Post blocks.
func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		events: make(chan func(), buffer),
		done:   make(chan struct{}),
		ctx:    context.Background(),
	}
}

// Run processes callbacks until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

// Post queues fn. Callbacks posted after the loop stopped are dropped.
// Safe for concurrent use.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
	case l.events <- fn:
	}
}

// Go must be called from the loop goroutine.
func (l *Loop) Go(work func(ctx context.Context) error, done func(err error)) {
	ctx := l.ctx
	go func() {
		err := work(ctx)
		l.Post(func() { done(err) })
	}()
}

// AfterFunc must be called from the loop goroutine.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.fired {
				return
			}
			lt.fired = true
			fn()
		})
	})
	return lt
}

// Call runs fn on the loop and waits for it to finish.
// Safe for concurrent use; must not be called from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case l.events <- func() {
		defer close(finished)
		fn()
	}:
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loopTimer state is only touched on the loop goroutine, except t.Stop.
type loopTimer struct {
	t     *time.Timer
	fired bool
}

func (lt *loopTimer) Stop() bool {
	lt.t.Stop()
	if lt.fired {
		return false
	}
	lt.fired = true
	return true
}
