package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
)

// createScript stores the offer only when none exists for the order and
// registers its deadline in the same step.
var createScript = goredis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 1 then
  redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
  return 1
end
return 0
`)

// deleteScript removes the offer only when it is held by the given courier.
var deleteScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local offer = cjson.decode(raw)
if offer.courier_id ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[2])
return 1
`)

// popExpiredScript claims up to ARGV[2] offers past their deadline. ZREM and
// DEL happen inside the script so two sweepers never claim the same offer.
var popExpiredScript = goredis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
local out = {}
for _, id in ipairs(expired) do
  redis.call("ZREM", KEYS[1], id)
  local raw = redis.call("GET", ARGV[3] .. id)
  if raw then
    redis.call("DEL", ARGV[3] .. id)
    table.insert(out, raw)
  end
end
return out
`)

// PendingStore implements dispatch.PendingStore on redis: one JSON value per
// offer plus a deadline sorted set driving the expiry sweep.
type PendingStore struct {
	cli    *goredis.Client
	prefix string
	log    corelogger.Logger
}

// NewPendingStore creates a PendingStore.
func NewPendingStore(cli *goredis.Client, prefix string) (*PendingStore, error) {
	if cli == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &PendingStore{cli: cli, prefix: prefix, log: logger.New("redis-pending")}, nil
}

func (s *PendingStore) offerPrefix() string            { return s.prefix + "dispatch:pending:" }
func (s *PendingStore) offerKey(orderID string) string { return s.offerPrefix() + orderID }
func (s *PendingStore) deadlineKey() string            { return s.prefix + "dispatch:pending:deadlines" }

// Create stores the offer unless one is already in flight for the order.
func (s *PendingStore) Create(ctx context.Context, p model.PendingAssignment) (bool, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("encode offer %s: %w", p.OrderID, err)
	}
	res, err := createScript.Run(ctx, s.cli,
		[]string{s.offerKey(p.OrderID), s.deadlineKey()},
		raw, p.TimeoutAt.UnixMilli(), p.OrderID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("create offer %s: %w", p.OrderID, err)
	}
	return res == 1, nil
}

// Get returns the offer for an order.
func (s *PendingStore) Get(ctx context.Context, orderID string) (model.PendingAssignment, bool, error) {
	raw, err := s.cli.Get(ctx, s.offerKey(orderID)).Bytes()
	if err == goredis.Nil {
		return model.PendingAssignment{}, false, nil
	}
	if err != nil {
		return model.PendingAssignment{}, false, fmt.Errorf("get offer %s: %w", orderID, err)
	}
	var p model.PendingAssignment
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.PendingAssignment{}, false, fmt.Errorf("decode offer %s: %w", orderID, err)
	}
	return p, true, nil
}

// Delete removes the offer if it is held by the courier.
func (s *PendingStore) Delete(ctx context.Context, orderID, courierID string) (bool, error) {
	res, err := deleteScript.Run(ctx, s.cli,
		[]string{s.offerKey(orderID), s.deadlineKey()},
		courierID, orderID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("delete offer %s: %w", orderID, err)
	}
	return res == 1, nil
}

// PopExpired atomically claims up to limit offers past their deadline.
func (s *PendingStore) PopExpired(ctx context.Context, now time.Time, limit int) ([]model.PendingAssignment, error) {
	raws, err := popExpiredScript.Run(ctx, s.cli,
		[]string{s.deadlineKey()},
		strconv.FormatInt(now.UnixMilli(), 10), limit, s.offerPrefix(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop expired offers: %w", err)
	}
	offers := make([]model.PendingAssignment, 0, len(raws))
	for _, raw := range raws {
		var p model.PendingAssignment
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.log.Errorf("drop undecodable expired offer: %v", err)
			continue
		}
		offers = append(offers, p)
	}
	return offers, nil
}

// Count returns the number of offers in flight.
func (s *PendingStore) Count(ctx context.Context) (int64, error) {
	n, err := s.cli.ZCard(ctx, s.deadlineKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count offers: %w", err)
	}
	return n, nil
}
