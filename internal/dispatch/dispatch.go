// Package dispatch provides the single logical thread the terminal client runs on.
//
// Every component of the client (connection manager, coalescer, echo engine,
// classifier, restorer) keeps plain unsynchronised state and is only ever touched
// from the dispatch loop. Blocking work (dialing, socket reads and writes, HTTP
// calls, disk writes) runs on helper goroutines that hand their results back
// through Post. Timers fire into the loop as well, so a component never sees two
// callbacks at once.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultFrameInterval is the render tick used by Soon.
	DefaultFrameInterval = 16 * time.Millisecond

	// DefaultIdleDelay is how long WhenIdle waits before running deferred work.
	DefaultIdleDelay = 16 * time.Millisecond
)

// ErrStopped is returned when work is submitted to a loop that has been stopped.
var ErrStopped = errors.New("dispatch loop stopped")

// Timer is a pending callback. Stop is idempotent: stopping a timer that already
// fired or was already stopped does nothing.
type Timer interface {
	Stop()
}

// Scheduler is the capability components use to defer work onto the loop.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time

	// Post queues fn to run on the loop. It reports false if the loop is gone.
	// Safe to call from any goroutine.
	Post(fn func()) bool

	// After runs fn on the loop once d has elapsed.
	After(d time.Duration, fn func()) Timer

	// Soon runs fn on the next render tick.
	Soon(fn func()) Timer

	// WhenIdle runs fn once the loop has had a moment of idle time.
	WhenIdle(fn func()) Timer
}

// Options configures a Loop.
type Options struct {
	FrameInterval time.Duration
	IdleDelay     time.Duration
}

// Loop is the production Scheduler: a goroutine draining an unbounded FIFO of
// callbacks in submission order.
type Loop struct {
	frame time.Duration
	idle  time.Duration

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewLoop creates a loop. Call Run to start processing.
func NewLoop(opts Options) *Loop {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = DefaultIdleDelay
	}
	return &Loop{
		frame: opts.FrameInterval,
		idle:  opts.IdleDelay,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Run processes callbacks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			select {
			case <-l.done:
				return nil
			default:
			}
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Stop ends Run. Callbacks still queued are dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

// Done is closed once the loop has been stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post queues fn to run on the loop.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
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

// After runs fn on the loop after d.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return t
}

// Soon runs fn on the next render tick.
func (l *Loop) Soon(fn func()) Timer {
	return l.After(l.frame, fn)
}

// WhenIdle runs fn after the idle delay.
func (l *Loop) WhenIdle(fn func()) Timer {
	return l.After(l.idle, fn)
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

// Stop cancels the timer. A callback already queued on the loop is skipped.
func (t *loopTimer) Stop() {
	t.stopped.Store(true)
	t.timer.Stop()
}
