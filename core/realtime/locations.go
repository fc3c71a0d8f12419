package realtime

import (
	"context"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// LocationStore persists the last accepted sample per courier and per active
// order, with a TTL, so late-joining room members get an immediate position.
// The redis implementation lives under infra.
type LocationStore interface {
	// SaveLast stores the sample under both the courier and order keys.
	SaveLast(ctx context.Context, sample model.LocationSample) error
	// LastForOrder returns the most recent non-expired sample for an order.
	LastForOrder(ctx context.Context, orderID string) (model.LocationSample, bool, error)
	// LastForCourier returns the most recent non-expired sample for a courier.
	LastForCourier(ctx context.Context, courierID string) (model.LocationSample, bool, error)
}

// nopLocationStore is used when no shared store is configured; replay is
// simply unavailable.
type nopLocationStore struct{}

func (nopLocationStore) SaveLast(context.Context, model.LocationSample) error { return nil }
func (nopLocationStore) LastForOrder(context.Context, string) (model.LocationSample, bool, error) {
	return model.LocationSample{}, false, nil
}
func (nopLocationStore) LastForCourier(context.Context, string) (model.LocationSample, bool, error) {
	return model.LocationSample{}, false, nil
}
