// Package buffer provides a generic, thread-safe ring buffer with
// configurable overflow policies. The realtime fanout uses it as a bounded
// per-connection outbox so one slow subscriber never stalls publication to
// the others.
package buffer

import (
	"errors"
	"sync"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// ErrDropped is returned by Write when the item (or the oldest item) was
// dropped because the buffer was full.
var ErrDropped = errors.New("buffer: item dropped")

// Statistics tracks buffer activity. All counters are cumulative.
type Statistics struct {
	Writes  int64
	Reads   int64
	Dropped int64
}

// Ring is a fixed-capacity circular buffer of T.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next read position
	size     int
	capacity int
	policy   OverflowPolicy
	stats    Statistics
}

// NewRing creates a ring buffer with the given capacity and overflow policy.
func NewRing[T any](capacity int, policy OverflowPolicy) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.New("buffer: capacity must be positive")
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   policy,
	}, nil
}

// Write adds an item to the buffer. When the buffer is full the overflow
// policy decides which item is dropped; ErrDropped is returned so callers
// can count the loss.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == r.capacity {
		r.stats.Dropped++
		switch r.policy {
		case DropNewest:
			return ErrDropped
		case DropOldest:
			// Overwrite the oldest slot and advance the read position.
			r.items[r.head] = item
			r.head = (r.head + 1) % r.capacity
			r.stats.Writes++
			return ErrDropped
		}
	}

	r.items[(r.head+r.size)%r.capacity] = item
	r.size++
	r.stats.Writes++
	return nil
}

// Read retrieves and removes the oldest item.
// Returns the zero value and false when the buffer is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.head]
	r.items[r.head] = zero // release reference
	r.head = (r.head + 1) % r.capacity
	r.size--
	r.stats.Reads++
	return item, true
}

// ReadBatch retrieves and removes up to max items, oldest first.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max > r.size {
		max = r.size
	}
	if max <= 0 {
		return nil
	}

	var zero T
	batch := make([]T, 0, max)
	for i := 0; i < max; i++ {
		batch = append(batch, r.items[r.head])
		r.items[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.size--
		r.stats.Reads++
	}
	return batch
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// IsEmpty returns true when the buffer contains no items.
func (r *Ring[T]) IsEmpty() bool {
	return r.Size() == 0
}

// Stats returns a snapshot of the buffer statistics.
func (r *Ring[T]) Stats() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Clear removes all items from the buffer.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
