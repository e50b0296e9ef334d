// Package ringbuf provides a bounded, concurrency-safe FIFO ring buffer
// used as the backing store for pipeline stages and metric history.
package ringbuf

import "sync"

// Ring is a fixed-capacity FIFO buffer safe for concurrent use by any
// number of producers and consumers. Operations take an exclusive lock;
// both media pipelines push from multiple worker goroutines, so the
// simpler MPMC discipline is required over a single-producer fast path.
type Ring[T any] struct {
	mu   sync.Mutex
	buf  []T
	head int
	tail int
	n    int
}

// New creates a Ring holding at most capacity items. Capacity must be
// positive; New panics otherwise, since a zero-capacity stage buffer can
// never make progress.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends item to the buffer. It returns false without storing the
// item when the buffer is full; the caller retains ownership.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n == len(r.buf) {
		return false
	}
	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % len(r.buf)
	r.n++
	return true
}

// PushEvict appends item to the buffer, evicting the oldest item under
// the same lock when the buffer is full. The second return value is true
// when an eviction happened.
func (r *Ring[T]) PushEvict(item T) (evicted T, wasFull bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n == len(r.buf) {
		evicted = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		wasFull = true
	}
	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % len(r.buf)
	r.n++
	return evicted, wasFull
}

// Pop removes and returns the oldest item. The second return value is
// false when the buffer is empty.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.n == 0 {
		return zero, false
	}
	item := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return item, true
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the fixed capacity set at construction.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
