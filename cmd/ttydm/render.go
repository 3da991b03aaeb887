package main

import (
	"io"
	"sync"
)

type renderItem struct {
	data []byte
	ack  bool
}

// renderQueue moves output off the dispatch loop to a writer goroutine. Push
// never blocks; the remote side is paused through flow control instead.
type renderQueue struct {
	mu     sync.Mutex
	items  []renderItem
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newRenderQueue() *renderQueue {
	return &renderQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push queues data. ack marks a delivered unit the renderer must acknowledge.
func (q *renderQueue) Push(data []byte, ack bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, renderItem{data: data, ack: ack})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops the queue once everything pushed so far has been written.
func (q *renderQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (q *renderQueue) Done() <-chan struct{} { return q.done }

// Run writes queued items to w in order, calling ack after each
// acknowledged unit and observe after every write.
func (q *renderQueue) Run(w io.Writer, ack func(), observe func([]byte)) {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, it := range batch {
			if _, err := w.Write(it.data); err != nil {
				return
			}
			if observe != nil {
				observe(it.data)
			}
			if it.ack && ack != nil {
				ack()
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
