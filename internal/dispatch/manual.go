package dispatch

import (
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Time only moves on Advance, and
// posted callbacks only run on RunPosted, WaitPosted or Advance, always on the
// calling goroutine, which plays the role of the loop.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	timers  []*manualTimer
	posted  []func()
	arrived chan struct{}

	frame time.Duration
	idle  time.Duration
}

type manualTimer struct {
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	m       *Manual
}

// NewManual returns a Manual scheduler frozen at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:     start,
		arrived: make(chan struct{}, 1),
		frame:   DefaultFrameInterval,
		idle:    DefaultIdleDelay,
	}
}

// FrameInterval is the delay Soon schedules with.
func (m *Manual) FrameInterval() time.Duration { return m.frame }

// IdleDelay is the delay WhenIdle schedules with.
func (m *Manual) IdleDelay() time.Duration { return m.idle }

// Now returns the frozen time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Post queues fn. Safe from any goroutine.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	m.posted = append(m.posted, fn)
	m.mu.Unlock()
	select {
	case m.arrived <- struct{}{}:
	default:
	}
	return true
}

// After registers fn to run once the clock passes now+d.
func (m *Manual) After(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn, m: m}
	m.timers = append(m.timers, t)
	return t
}

// Soon registers fn for the next render tick.
func (m *Manual) Soon(fn func()) Timer { return m.After(m.frame, fn) }

// WhenIdle registers fn for the next idle slot.
func (m *Manual) WhenIdle(fn func()) Timer { return m.After(m.idle, fn) }

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// NextDelay reports how far away the earliest armed timer is.
func (m *Manual) NextDelay() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.earliestLocked(time.Time{}, false)
	if t == nil {
		return 0, false
	}
	return t.at.Sub(m.now), true
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and then draining posted callbacks.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.RunPosted()
		m.mu.Lock()
		t := m.earliestLocked(target, true)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		t.stopped = true
		if t.at.After(m.now) {
			m.now = t.at
		}
		m.mu.Unlock()
		t.fn()
	}
	m.RunPosted()
}

// RunPosted runs queued callbacks, including ones they post, and returns how
// many ran.
func (m *Manual) RunPosted() int {
	n := 0
	for {
		m.mu.Lock()
		batch := m.posted
		m.posted = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// WaitPosted blocks until a callback has been posted (typically by a helper
// goroutine), then runs the queue. It reports false on timeout.
func (m *Manual) WaitPosted(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if m.RunPosted() > 0 {
			return true
		}
		select {
		case <-m.arrived:
		case <-deadline.C:
			return m.RunPosted() > 0
		}
	}
}

func (m *Manual) earliestLocked(limit time.Time, bounded bool) *manualTimer {
	var best *manualTimer
	live := m.timers[:0]
	for _, t := range m.timers {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if bounded && t.at.After(limit) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.seq < best.seq) {
			best = t
		}
	}
	m.timers = live
	return best
}

// Stop cancels the timer.
func (t *manualTimer) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.stopped = true
}
