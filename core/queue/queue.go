// Package queue defines the readiness queue: orders waiting for a courier,
// served in priority order.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable signals that the backing store could not be reached.
var ErrUnavailable = errors.New("queue: store unavailable")

// Priority orders the queue; lower values are served first. The default
// priority is the enqueue time, which approximates FIFO.
type Priority float64

// At builds a priority from a timestamp.
func At(t time.Time) Priority { return Priority(t.UnixMilli()) }

// ReadinessQueue is a shared priority queue of order ids. Entries are unique
// per order; PopNext must be atomic across concurrent workers.
type ReadinessQueue interface {
	// Enqueue inserts the order with the given priority. Re-enqueueing an
	// order already queued is a no-op.
	Enqueue(ctx context.Context, orderID string, p Priority) error
	// EnqueueBoosted inserts the order, or lowers its priority if already
	// queued with a higher one. Used for timeout/reject requeues so starved
	// orders are served ahead of newly-ready ones.
	EnqueueBoosted(ctx context.Context, orderID string, p Priority) error
	// PopNext atomically removes and returns the lowest-priority entry.
	// ok is false when the queue is empty.
	PopNext(ctx context.Context) (orderID string, ok bool, err error)
	// Len returns the number of queued orders. Observability only.
	Len(ctx context.Context) (int64, error)
}
