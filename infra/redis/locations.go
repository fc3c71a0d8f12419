package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// LocationStore implements realtime.LocationStore: the last accepted sample
// per courier and per order, each with a TTL so stale positions are never
// replayed to late joiners.
type LocationStore struct {
	cli    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewLocationStore creates a LocationStore.
func NewLocationStore(cli *goredis.Client, prefix string, ttl time.Duration) (*LocationStore, error) {
	if cli == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LocationStore{cli: cli, prefix: prefix, ttl: ttl}, nil
}

func (s *LocationStore) orderKey(id string) string   { return s.prefix + "rt:loc:order:" + id }
func (s *LocationStore) courierKey(id string) string { return s.prefix + "rt:loc:courier:" + id }

// SaveLast stores the sample under both the courier and, when the sample is
// tied to an order, the order key.
func (s *LocationStore) SaveLast(ctx context.Context, sample model.LocationSample) error {
	raw, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode location sample: %w", err)
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, s.courierKey(sample.CourierID), raw, s.ttl)
	if sample.OrderID != "" {
		pipe.Set(ctx, s.orderKey(sample.OrderID), raw, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save location sample: %w", err)
	}
	return nil
}

// LastForOrder returns the most recent non-expired sample for an order.
func (s *LocationStore) LastForOrder(ctx context.Context, orderID string) (model.LocationSample, bool, error) {
	return s.load(ctx, s.orderKey(orderID))
}

// LastForCourier returns the most recent non-expired sample for a courier.
func (s *LocationStore) LastForCourier(ctx context.Context, courierID string) (model.LocationSample, bool, error) {
	return s.load(ctx, s.courierKey(courierID))
}

func (s *LocationStore) load(ctx context.Context, key string) (model.LocationSample, bool, error) {
	raw, err := s.cli.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return model.LocationSample{}, false, nil
	}
	if err != nil {
		return model.LocationSample{}, false, fmt.Errorf("load location %s: %w", key, err)
	}
	var sample model.LocationSample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return model.LocationSample{}, false, fmt.Errorf("decode location %s: %w", key, err)
	}
	return sample, true, nil
}
