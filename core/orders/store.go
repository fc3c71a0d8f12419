// Package orders defines the narrow contract the dispatch core holds against
// the external order service. Orders and their financial records are owned
// elsewhere; the core only reads them and writes the driver-assignment fields.
package orders

import (
	"context"
	"errors"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

var (
	// ErrNotFound means the order does not exist.
	ErrNotFound = errors.New("orders: not found")
	// ErrConflict means a conditional update lost a race, e.g. two couriers
	// confirming the same offer. The caller must not retry the same update.
	ErrConflict = errors.New("orders: conflict")
	// ErrInvalidTransition means the order is in a status that does not
	// allow the requested change.
	ErrInvalidTransition = errors.New("orders: invalid status transition")
	// ErrUnavailable means the order store could not be reached.
	ErrUnavailable = errors.New("orders: store unavailable")
)

// Store is the order-service boundary consumed by the dispatch core.
type Store interface {
	// GetOrder fetches an order by id.
	GetOrder(ctx context.Context, orderID string) (model.Order, error)
	// AssignDriver sets the order's driver in a single atomic conditional
	// update: it succeeds only if the driver is currently unset and the
	// order status still allows assignment. A lost race yields ErrConflict.
	AssignDriver(ctx context.Context, orderID, courierID string) (model.Order, error)
	// CompleteDelivery marks the order delivered, conditional on the given
	// courier being the assigned driver and the status being deliverable.
	CompleteDelivery(ctx context.Context, orderID, courierID string) (model.Order, error)
}
