// Package coalesce batches terminal output per render tick and applies flow
// control toward the remote process when the renderer falls behind.
package coalesce

import (
	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
)

const (
	// SafetyValve is the queued byte count above which a flush happens
	// immediately instead of waiting for the render tick.
	SafetyValve = 512 * 1024

	// HighWater is the number of unacknowledged deliveries that pauses output.
	HighWater = 5
)

// Control byte values handed to the ControlFunc.
const (
	ControlPause  byte = 0x32
	ControlResume byte = 0x33
)

// DeliverFunc receives one coalesced unit of output.
type DeliverFunc func(data []byte)

// ControlFunc sends a flow control frame to the remote process.
type ControlFunc func(b byte)

// Config configures a Coalescer.
type Config struct {
	Scheduler   dispatch.Scheduler
	Deliver     DeliverFunc
	Control     ControlFunc
	SafetyValve int
	HighWater   int
}

// Coalescer owns the pending output buffer. It must only be used from the
// dispatch loop.
type Coalescer struct {
	sched   dispatch.Scheduler
	deliver DeliverFunc
	control ControlFunc
	valve   int
	high    int

	chunks [][]byte
	total  int
	tick   dispatch.Timer

	pending int
	paused  bool

	pauses  int
	resumes int
	flushes int
}

// New creates a Coalescer.
func New(cfg Config) *Coalescer {
	if cfg.SafetyValve <= 0 {
		cfg.SafetyValve = SafetyValve
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = HighWater
	}
	if cfg.Control == nil {
		cfg.Control = func(byte) {}
	}
	return &Coalescer{
		sched:   cfg.Scheduler,
		deliver: cfg.Deliver,
		control: cfg.Control,
		valve:   cfg.SafetyValve,
		high:    cfg.HighWater,
	}
}

// Push queues one decoded output payload.
func (c *Coalescer) Push(payload []byte) {
	if len(payload) == 0 {
		return
	}
	c.chunks = append(c.chunks, payload)
	c.total += len(payload)

	if c.total > c.valve {
		c.Flush()
		return
	}
	if c.tick == nil {
		c.tick = c.sched.Soon(c.Flush)
	}
}

// Flush delivers everything queued as one unit, in arrival order.
func (c *Coalescer) Flush() {
	if c.tick != nil {
		c.tick.Stop()
		c.tick = nil
	}
	if len(c.chunks) == 0 {
		return
	}

	var combined []byte
	if len(c.chunks) == 1 {
		combined = c.chunks[0]
	} else {
		combined = make([]byte, 0, c.total)
		for _, chunk := range c.chunks {
			combined = append(combined, chunk...)
		}
	}
	c.chunks = nil
	c.total = 0
	c.flushes++

	c.pending++
	if c.pending >= c.high && !c.paused {
		c.paused = true
		c.pauses++
		c.control(ControlPause)
	}

	if c.deliver != nil {
		c.deliver(combined)
	}
}

// Ack records that the renderer finished one delivered unit.
func (c *Coalescer) Ack() {
	if c.pending == 0 {
		return
	}
	c.pending--
	if c.pending == 0 && c.paused {
		c.paused = false
		c.resumes++
		c.control(ControlResume)
	}
}

// Close flushes synchronously and cancels the pending tick.
func (c *Coalescer) Close() {
	c.Flush()
}

// Reset forgets renderer acknowledgements that will never arrive, e.g. after
// the connection is gone. It does not send any control frame.
func (c *Coalescer) Reset() {
	c.pending = 0
	c.paused = false
}

// Queued returns the number of bytes waiting for the next flush.
func (c *Coalescer) Queued() int { return c.total }

// PendingWrites returns the number of deliveries not yet acknowledged.
func (c *Coalescer) PendingWrites() int { return c.pending }

// Paused reports whether a pause frame is outstanding.
func (c *Coalescer) Paused() bool { return c.paused }

// Stats reports how many flushes, pauses and resumes happened.
func (c *Coalescer) Stats() (flushes, pauses, resumes int) {
	return c.flushes, c.pauses, c.resumes
}
