// Package queue is the fan-in conduit between all line sources and the single
// consumer.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/modoterra/a12rta/pkg/core"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 4096

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the queue
// is closed and empty.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of log lines. Many goroutines may Enqueue; one
// consumer reads. When full, Enqueue blocks until space frees up or its
// context is done: nothing is ever dropped.
type Queue struct {
	ch     chan core.LogLine
	mu     sync.RWMutex
	closed bool
}

// New creates a queue holding up to capacity lines.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan core.LogLine, capacity)}
}

// Enqueue appends line, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, line core.LogLine) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest line, blocking until one is available, the queue
// is closed and drained, or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (core.LogLine, error) {
	select {
	case line, ok := <-q.ch:
		if !ok {
			return core.LogLine{}, ErrClosed
		}
		return line, nil
	case <-ctx.Done():
		return core.LogLine{}, ctx.Err()
	}
}

// TryDequeue removes the oldest line if one is immediately available.
func (q *Queue) TryDequeue() (core.LogLine, bool) {
	select {
	case line, ok := <-q.ch:
		return line, ok
	default:
		return core.LogLine{}, false
	}
}

// C exposes the receive side for select loops. It is closed by Close.
func (q *Queue) C() <-chan core.LogLine { return q.ch }

// Len returns the number of queued lines.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Close stops accepting lines. Lines already queued stay readable. Close waits
// for in-flight Enqueue calls to return, so it should be called once all
// producers have stopped. Calling Close more than once is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
