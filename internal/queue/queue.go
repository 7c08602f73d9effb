// Package queue provides the bounded FIFO admission queue in front of the inference worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrFull is returned by TryEnqueue when every slot is taken.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned after Close, once the queue has drained.
	ErrClosed = errors.New("queue closed")
)

// Queue is a fixed-capacity FIFO. Producers never block; a single consumer blocks in
// Dequeue. The channel buffer is the only state shared between them.
type Queue[T any] struct {
	items chan T

	mu     sync.RWMutex
	closed bool
}

// New creates a queue with the given capacity, which must be positive.
func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	return &Queue[T]{items: make(chan T, capacity)}, nil
}

// TryEnqueue admits item without blocking, or returns ErrFull/ErrClosed.
func (q *Queue[T]) TryEnqueue(item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until an item is available, ctx is done, or the queue is closed and
// drained.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case item, ok := <-q.items:
		if !ok {
			return zero, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryDequeue returns the next item without blocking. ok is false when the queue is empty.
func (q *Queue[T]) TryDequeue() (item T, ok bool) {
	select {
	case item, ok = <-q.items:
		return item, ok
	default:
		return item, false
	}
}

// Close stops admission. Items already queued can still be dequeued. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }
