// Package turnqueue provides the bounded FIFO of pending turn-execution
// units. It is the only global concurrency limiter in the runtime: producers
// enqueue under backpressure, a fixed pool of workers dequeues.
package turnqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once the queue has been closed and, for Dequeue,
// fully drained.
var ErrClosed = errors.New("turnqueue: closed")

// Unit is one deferred turn execution. The passed context combines the
// conversation scope with the process-wide shutdown signal.
type Unit func(ctx context.Context)

// Queue is a bounded FIFO of Units. Blocked Enqueue callers resume in arrival
// order as space frees; blocked Dequeue callers resume in FIFO order as items
// arrive. Both observe their context and abort rather than hang.
type Queue struct {
	ch     chan Unit
	closed chan struct{}
	once   sync.Once
}

// New creates a queue with the given fixed capacity. Capacity must be at
// least 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan Unit, capacity),
		closed: make(chan struct{}),
	}
}

// Capacity returns the fixed capacity the queue was constructed with.
func (q *Queue) Capacity() int { return cap(q.ch) }

// Len returns the number of units currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Enqueue adds a unit, suspending while the queue is full. It returns
// ctx.Err() if the context is cancelled first, or ErrClosed after Close.
func (q *Queue) Enqueue(ctx context.Context, u Unit) error {
	if u == nil {
		return errors.New("turnqueue: nil unit")
	}
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- u:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest unit, suspending while the queue is empty. After
// Close, remaining units are still drained in order; once empty it returns
// ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (Unit, error) {
	// Drain buffered work even when already closed.
	select {
	case u := <-q.ch:
		return u, nil
	default:
	}
	select {
	case u := <-q.ch:
		return u, nil
	case <-q.closed:
		// Closed while waiting; a unit may have raced in.
		select {
		case u := <-q.ch:
			return u, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the queue closed. Pending units remain dequeueable; further
// Enqueue calls fail with ErrClosed. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}
