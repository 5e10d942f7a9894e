// Package queue implements the bounded blocking FIFO that hands frame
// references between worker goroutines.
//
// It is built on sync.Mutex+sync.Cond rather than a buffered channel: an
// explicit safety-cap overflow signal needs to be distinct from the
// ordinary empty/non-empty states a channel already gives for free, the
// same reason internal/codec/ringbuffer.go reached past a plain slice for
// an overflow-aware circular buffer.
package queue

import (
	"sync"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
)

// Overflow is the default safety cap. The router and worker queues sit far
// below this in steady state (one or two frames of depth); reaching it means
// a downstream consumer has stalled and the queue should force a shutdown
// rather than grow without bound.
const Overflow = 200

// Queue is a FIFO of *frame.Frame with a blocking Pop and a terminal
// Shutdown state. A Queue is safe for concurrent use by any number of
// pushers and poppers.
type Queue struct {
	name string
	cap  int

	mu       sync.Mutex
	cond     *sync.Cond
	items    []*frame.Frame
	shutdown bool
	overflow bool
}

// New creates an empty queue. name is used only in log output by callers;
// cap is the overflow safety cap (Overflow if zero).
func New(name string, cap int) *Queue {
	if cap <= 0 {
		cap = Overflow
	}
	q := &Queue{name: name, cap: cap}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name reports the queue's diagnostic name.
func (q *Queue) Name() string { return q.name }

// Push appends f to the queue and wakes one blocked popper. It reports
// false, without appending, once the queue has shut down or has already
// tripped its overflow backstop, and also when the queue already holds cap
// frames, in which case this push trips the backstop.
func (q *Queue) Push(f *frame.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown || q.overflow {
		return false
	}
	if len(q.items) >= q.cap {
		q.overflow = true
		q.cond.Broadcast()
		return false
	}
	q.items = append(q.items, f)
	q.cond.Signal()
	return true
}

// Pop blocks until a frame is available, the queue shuts down, or the queue
// trips overflow. ok is false in the latter two cases.
func (q *Queue) Pop() (f *frame.Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.shutdown && !q.overflow {
		q.cond.Wait()
	}
	if q.shutdown || q.overflow || len(q.items) == 0 {
		return nil, false
	}
	f, q.items[0] = q.items[0], nil
	q.items = q.items[1:]
	return f, true
}

// Len reports the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Overflowed reports whether the overflow backstop has tripped.
func (q *Queue) Overflowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}

// Shutdown transitions the queue to its terminal state and releases every
// blocked Pop. Safe to call more than once.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	q.shutdown = true
	q.cond.Broadcast()
}

// ShuttingDown reports whether Shutdown has been called.
func (q *Queue) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}
