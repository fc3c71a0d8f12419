package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vinhphannn/eatnow-dispatch/core/queue"
)

// ReadyQueue implements queue.ReadinessQueue on a redis sorted set. ZPOPMIN
// gives atomic hand-off across concurrent dispatch workers; NX and LT flags
// give the idempotent and boosted enqueue variants.
type ReadyQueue struct {
	cli *goredis.Client
	key string
}

// NewReadyQueue creates a ReadyQueue.
func NewReadyQueue(cli *goredis.Client, prefix string) (*ReadyQueue, error) {
	if cli == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &ReadyQueue{cli: cli, key: prefix + "dispatch:ready"}, nil
}

// Enqueue inserts the order unless it is already queued.
func (q *ReadyQueue) Enqueue(ctx context.Context, orderID string, p queue.Priority) error {
	err := q.cli.ZAddNX(ctx, q.key, goredis.Z{Score: float64(p), Member: orderID}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrUnavailable, err)
	}
	return nil
}

// EnqueueBoosted inserts the order, keeping the lower of the existing and
// given priorities so a requeued order never loses its place.
func (q *ReadyQueue) EnqueueBoosted(ctx context.Context, orderID string, p queue.Priority) error {
	err := q.cli.ZAddLT(ctx, q.key, goredis.Z{Score: float64(p), Member: orderID}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrUnavailable, err)
	}
	return nil
}

// PopNext atomically removes and returns the lowest-priority order.
func (q *ReadyQueue) PopNext(ctx context.Context) (string, bool, error) {
	entries, err := q.cli.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", queue.ErrUnavailable, err)
	}
	if len(entries) == 0 {
		return "", false, nil
	}
	orderID, ok := entries[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: unexpected member type %T", queue.ErrUnavailable, entries[0].Member)
	}
	return orderID, true, nil
}

// Len returns the queue depth.
func (q *ReadyQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.cli.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", queue.ErrUnavailable, err)
	}
	return n, nil
}
