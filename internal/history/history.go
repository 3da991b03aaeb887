// Package history keeps the most recent terminal output so that presentation
// clients attaching late can be brought up to date.
package history

import (
	"sync"
	"unicode/utf8"
)

// DefaultCapacity is the amount of output retained.
const DefaultCapacity = 64 * 1024

// Ring is a fixed-size circular byte buffer. When full, the oldest bytes are
// overwritten. It is safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	buf     []byte
	start   int
	size    int
	written uint64
}

// NewRing creates a Ring holding up to capacity bytes; capacity below 1
// becomes 1.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes as needed. It never fails.
func (r *Ring) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.written += uint64(n)
	capacity := len(r.buf)
	if n >= capacity {
		copy(r.buf, p[n-capacity:])
		r.start = 0
		r.size = capacity
		return n, nil
	}

	end := (r.start + r.size) % capacity
	first := copy(r.buf[end:], p)
	copy(r.buf, p[first:])

	r.size += n
	if r.size > capacity {
		r.start = (r.start + r.size - capacity) % capacity
		r.size = capacity
	}
	return n, nil
}

// Snapshot returns a copy of the retained bytes, oldest first. When older
// output has been discarded, any partial UTF-8 sequence at the front is
// dropped so the copy starts on a character boundary.
func (r *Ring) Snapshot() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}
	out := make([]byte, r.size)
	first := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[first:], r.buf[:r.size-first])

	if r.written > uint64(r.size) {
		for i := 0; i < utf8.UTFMax && i < len(out); i++ {
			if utf8.RuneStart(out[i]) {
				return out[i:]
			}
		}
	}
	return out
}

// Written returns the total number of bytes ever written.
func (r *Ring) Written() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.written
}

// Reset discards the retained bytes. Written is not reset.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.size = 0
}

// Len returns the number of retained bytes.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
