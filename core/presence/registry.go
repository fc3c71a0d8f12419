// Package presence defines the courier presence registry: a geo-indexed view
// of which couriers are online, where they are and whether they can take work.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// ErrUnavailable signals that the backing store could not be reached. Callers
// must treat it as "no candidates right now" and retry later, never as
// "courier offline".
var ErrUnavailable = errors.New("presence: registry unavailable")

// Config holds presence registry tuning.
type Config struct {
	// TTL is how long a presence record survives without a refresh.
	TTLSeconds int `json:"ttl_seconds"`
	// DefaultMaxConcurrentOrders is applied when a courier registers
	// without an explicit capacity.
	DefaultMaxConcurrentOrders int `json:"default_max_concurrent_orders"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = 90
	}
	if c.DefaultMaxConcurrentOrders <= 0 {
		c.DefaultMaxConcurrentOrders = 3
	}
}

// TTL returns the configured record lifetime.
func (c Config) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// Registry tracks courier availability and location. All operations surface
// backing-store failures as ErrUnavailable.
type Registry interface {
	// Register inserts or refreshes a courier as available at the given
	// location. Idempotent.
	Register(ctx context.Context, courier model.CourierPresence) error
	// UpdateLocation moves the courier's geo entry and refreshes the TTL.
	// A courier that is not registered is left untouched.
	UpdateLocation(ctx context.Context, courierID string, loc model.LatLng) error
	// FindNearby returns available couriers within radiusKm of the point,
	// sorted by ascending distance and capped at limit.
	FindNearby(ctx context.Context, loc model.LatLng, radiusKm float64, limit int) ([]model.Candidate, error)
	// MarkDelivering transitions the courier out of the available geo index
	// and increments its active order count.
	MarkDelivering(ctx context.Context, courierID, orderID string) error
	// MarkAvailable decrements the active order count and, when the courier
	// is free again, re-inserts it into the available geo index. A nil
	// location keeps the last recorded one.
	MarkAvailable(ctx context.Context, courierID string, loc *model.LatLng) error
	// Get returns the presence record for a courier.
	Get(ctx context.Context, courierID string) (model.CourierPresence, error)
	// Unregister removes the courier from both the geo index and the
	// presence hash.
	Unregister(ctx context.Context, courierID string) error
}

// ErrNotRegistered is returned by Get for unknown or expired couriers.
var ErrNotRegistered = errors.New("presence: courier not registered")
