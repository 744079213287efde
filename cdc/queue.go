package cdc

import "github.com/ardnew/eptri/pkg"

type queued[T any] struct {
	v    T
	wait int
}

// Queue is a bounded handoff queue between two domains. An item pushed by
// the source becomes poppable after latency destination ticks; items leave
// in push order.
type Queue[T any] struct {
	items   []queued[T]
	depth   int
	latency int
}

// NewQueue creates a handoff queue.
func NewQueue[T any](depth, latency int) *Queue[T] {
	return &Queue[T]{items: make([]queued[T], 0, depth), depth: depth, latency: latency}
}

// Push enqueues v from the source domain.
func (q *Queue[T]) Push(v T) error {
	if len(q.items) >= q.depth {
		return pkg.ErrQueueFull
	}
	q.items = append(q.items, queued[T]{v: v, wait: q.latency})
	return nil
}

// Full reports whether Push would fail.
func (q *Queue[T]) Full() bool { return len(q.items) >= q.depth }

// Len returns the number of items in flight or ready.
func (q *Queue[T]) Len() int { return len(q.items) }

// Tick ages in-flight items on a destination clock edge.
func (q *Queue[T]) Tick() {
	for i := range q.items {
		if q.items[i].wait > 0 {
			q.items[i].wait--
		}
	}
}

// Peek returns the oldest item without removing it, if it has crossed.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if len(q.items) == 0 || q.items[0].wait > 0 {
		return zero, false
	}
	return q.items[0].v, true
}

// Pop returns the oldest item if it has crossed.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 || q.items[0].wait > 0 {
		return zero, false
	}
	v := q.items[0].v
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = queued[T]{}
	q.items = q.items[:len(q.items)-1]
	return v, true
}

// Clear drops every item.
func (q *Queue[T]) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}
