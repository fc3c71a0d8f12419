// Package postgres implements the order-service boundary against the shared
// orders database. The dispatch core only reads orders and writes the
// driver-assignment fields; everything else stays with the order service.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/orders"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
)

// Config defines the connection parameters for the orders database.
type Config struct {
	DSN                string `json:"dsn"`
	ConnectTimeoutSecs int    `json:"connect_timeout_seconds"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if c.ConnectTimeoutSecs <= 0 {
		c.ConnectTimeoutSecs = 5
	}
}

// Connect opens a pool against the orders database and verifies it answers.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	cfg.SetDefaults()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSecs)*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open orders pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping orders db: %w", err)
	}
	return pool, nil
}

// OrderStore implements orders.Store. Assignment races are resolved with
// conditional updates; a zero row count is disambiguated by re-reading the
// order.
type OrderStore struct {
	pool *pgxpool.Pool
	log  corelogger.Logger
}

// NewOrderStore creates an OrderStore.
func NewOrderStore(pool *pgxpool.Pool) (*OrderStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &OrderStore{pool: pool, log: logger.New("order-store")}, nil
}

const selectOrder = `
SELECT id, customer_id, restaurant_id, COALESCE(driver_id, ''), status,
       pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, updated_at
FROM orders
WHERE id = $1`

// GetOrder fetches an order by id.
func (s *OrderStore) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	var o model.Order
	var status string
	err := s.pool.QueryRow(ctx, selectOrder, orderID).Scan(
		&o.ID, &o.CustomerID, &o.RestaurantID, &o.DriverID, &status,
		&o.Pickup.Lat, &o.Pickup.Lng, &o.Dropoff.Lat, &o.Dropoff.Lng, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", orders.ErrUnavailable, err)
	}
	o.Status = model.OrderStatus(status)
	return o, nil
}

// AssignDriver sets the driver in one conditional update. Only the first
// courier to run it wins; everyone else gets ErrConflict.
func (s *OrderStore) AssignDriver(ctx context.Context, orderID, courierID string) (model.Order, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE orders
SET driver_id = $2, status = 'assigned', updated_at = now()
WHERE id = $1 AND driver_id IS NULL AND status = 'ready'`,
		orderID, courierID)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", orders.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return s.GetOrder(ctx, orderID)
	}

	// No row updated: either the order is gone, someone else won, or the
	// status moved on. Re-read to tell them apart.
	cur, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	return resolveAssign(cur, courierID)
}

// resolveAssign classifies a zero-row conditional assignment from the
// re-read order state.
func resolveAssign(cur model.Order, courierID string) (model.Order, error) {
	if cur.DriverID != "" && cur.DriverID != courierID {
		return model.Order{}, orders.ErrConflict
	}
	if cur.DriverID == courierID {
		// Retried confirm after a crash between update and response.
		return cur, nil
	}
	return model.Order{}, fmt.Errorf("%w: status %s", orders.ErrInvalidTransition, cur.Status)
}

// CompleteDelivery marks the order delivered, conditional on the courier
// being the assigned driver and the status still being deliverable.
func (s *OrderStore) CompleteDelivery(ctx context.Context, orderID, courierID string) (model.Order, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE orders
SET status = 'delivered', updated_at = now()
WHERE id = $1 AND driver_id = $2 AND status IN ('assigned', 'picked_up')`,
		orderID, courierID)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", orders.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return s.GetOrder(ctx, orderID)
	}

	cur, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	return resolveComplete(cur, courierID)
}

// resolveComplete classifies a zero-row conditional completion from the
// re-read order state.
func resolveComplete(cur model.Order, courierID string) (model.Order, error) {
	if cur.DriverID != courierID {
		return model.Order{}, orders.ErrConflict
	}
	if cur.Status == model.OrderDelivered {
		// Retried completion after a crash between update and response.
		return cur, nil
	}
	return model.Order{}, fmt.Errorf("%w: status %s", orders.ErrInvalidTransition, cur.Status)
}
