// Package ringbuf provides a fixed-capacity ring that overwrites its oldest
// element when full. It backs the websocket replay history and the P&L
// fill log.
package ringbuf

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded FIFO of T. Push never blocks or fails; once the ring is
// full each push evicts the oldest element. Safe for concurrent use.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	head uint64 // total pushes; next write slot is head % len(buf)

	// Evictions, for metrics.
	overwritten atomic.Uint64
}

// New creates a ring holding up to capacity elements. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head >= uint64(len(r.buf)) {
		r.overwritten.Add(1)
	}
	r.buf[r.head%uint64(len(r.buf))] = v
	r.head++
}

// Snapshot returns the buffered elements, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.len()
	out := make([]T, n)
	start := r.head - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+uint64(i))%uint64(len(r.buf))]
	}
	return out
}

// Filter returns the buffered elements for which keep is true, oldest first.
func (r *Ring[T]) Filter(keep func(T) bool) []T {
	all := r.Snapshot()
	out := all[:0]
	for _, v := range all {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the current number of elements.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

func (r *Ring[T]) len() int {
	if r.head < uint64(len(r.buf)) {
		return int(r.head)
	}
	return len(r.buf)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Overwritten returns how many elements were evicted by pushes.
func (r *Ring[T]) Overwritten() uint64 { return r.overwritten.Load() }
