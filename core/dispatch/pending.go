package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// ErrNoOffer is returned when a courier acts on an offer that does not exist
// or belongs to another courier.
var ErrNoOffer = errors.New("dispatch: no pending offer for courier")

// PendingStore holds in-flight assignment offers. At most one offer exists
// per order; while one exists the order is absent from the readiness queue.
type PendingStore interface {
	// Create stores the offer unless one already exists for the order.
	// created is false when an offer was already in flight.
	Create(ctx context.Context, p model.PendingAssignment) (created bool, err error)
	// Get returns the offer for an order, ok=false when none exists.
	Get(ctx context.Context, orderID string) (p model.PendingAssignment, ok bool, err error)
	// Delete removes the offer only if it is held by the given courier.
	// deleted is false when no matching offer existed.
	Delete(ctx context.Context, orderID, courierID string) (deleted bool, err error)
	// PopExpired atomically removes and returns up to limit offers whose
	// deadline has passed, so concurrent sweepers never requeue twice.
	PopExpired(ctx context.Context, now time.Time, limit int) ([]model.PendingAssignment, error)
	// Count returns the number of offers in flight. Observability only.
	Count(ctx context.Context) (int64, error)
}
