package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/presence"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
)

// Registry implements presence.Registry on a redis instance. Each courier has
// a hash with a TTL; couriers that can take work are additionally indexed in
// a geo sorted set used by FindNearby.
type Registry struct {
	cli    *goredis.Client
	cfg    presence.Config
	prefix string
	log    corelogger.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(cli *goredis.Client, cfg presence.Config, prefix string) (*Registry, error) {
	if cli == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	cfg.SetDefaults()
	return &Registry{
		cli:    cli,
		cfg:    cfg,
		prefix: prefix,
		log:    logger.New("redis-presence"),
	}, nil
}

func (r *Registry) courierKey(id string) string { return r.prefix + "presence:" + id }
func (r *Registry) geoKey() string              { return r.prefix + "presence:geo:available" }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", presence.ErrUnavailable, err)
}

// Register inserts or refreshes the courier record and, when it can take
// work, its entry in the available geo index.
func (r *Registry) Register(ctx context.Context, c model.CourierPresence) error {
	if c.MaxConcurrentOrders <= 0 {
		c.MaxConcurrentOrders = r.cfg.DefaultMaxConcurrentOrders
	}
	if c.Status == "" {
		c.Status = model.StatusAvailable
	}
	if c.LastSeenAt.IsZero() {
		c.LastSeenAt = time.Now()
	}

	pipe := r.cli.TxPipeline()
	pipe.HSet(ctx, r.courierKey(c.CourierID), map[string]any{
		"status":       string(c.Status),
		"lat":          c.Location.Lat,
		"lng":          c.Location.Lng,
		"last_seen_ms": c.LastSeenAt.UnixMilli(),
		"active":       c.ActiveOrderCount,
		"max":          c.MaxConcurrentOrders,
		"rating":       c.Rating,
	})
	pipe.PExpire(ctx, r.courierKey(c.CourierID), r.cfg.TTL())
	if canTakeWork(c) {
		pipe.GeoAdd(ctx, r.geoKey(), &goredis.GeoLocation{
			Name:      c.CourierID,
			Longitude: c.Location.Lng,
			Latitude:  c.Location.Lat,
		})
	} else {
		pipe.ZRem(ctx, r.geoKey(), c.CourierID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// UpdateLocation refreshes the courier's coordinates and TTL. Unregistered
// couriers are ignored so an expired record cannot resurrect half-filled.
func (r *Registry) UpdateLocation(ctx context.Context, courierID string, loc model.LatLng) error {
	cur, err := r.Get(ctx, courierID)
	if err == presence.ErrNotRegistered {
		return nil
	}
	if err != nil {
		return err
	}
	cur.Location = loc
	cur.LastSeenAt = time.Now()
	return r.Register(ctx, cur)
}

// FindNearby queries the available geo index and hydrates each hit from its
// presence hash. Geo entries whose hash has expired are pruned lazily.
func (r *Registry) FindNearby(ctx context.Context, loc model.LatLng, radiusKm float64, limit int) ([]model.Candidate, error) {
	hits, err := r.cli.GeoSearchLocation(ctx, r.geoKey(), &goredis.GeoSearchLocationQuery{
		GeoSearchQuery: goredis.GeoSearchQuery{
			Longitude:  loc.Lng,
			Latitude:   loc.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit * 2,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	candidates := make([]model.Candidate, 0, len(hits))
	for _, hit := range hits {
		if len(candidates) >= limit {
			break
		}
		c, err := r.Get(ctx, hit.Name)
		if err == presence.ErrNotRegistered {
			// Hash expired but the geo entry lingered.
			if remErr := r.cli.ZRem(ctx, r.geoKey(), hit.Name).Err(); remErr != nil {
				r.log.Warnf("prune stale geo entry %s: %v", hit.Name, remErr)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if !canTakeWork(c) {
			continue
		}
		candidates = append(candidates, model.Candidate{CourierPresence: c, DistanceKm: hit.Dist})
	}
	return candidates, nil
}

// MarkDelivering removes the courier from the available index and bumps its
// active order count.
func (r *Registry) MarkDelivering(ctx context.Context, courierID, orderID string) error {
	cur, err := r.Get(ctx, courierID)
	if err != nil {
		return err
	}
	cur.ActiveOrderCount++
	cur.Status = model.StatusDelivering
	cur.LastSeenAt = time.Now()
	if err := r.Register(ctx, cur); err != nil {
		return err
	}
	r.log.Debugw("courier marked delivering", map[string]any{
		"courier_id": courierID,
		"order_id":   orderID,
		"active":     cur.ActiveOrderCount,
	})
	return nil
}

// MarkAvailable drops one active order and, once under capacity, re-inserts
// the courier into the available index. A nil location keeps the last one.
func (r *Registry) MarkAvailable(ctx context.Context, courierID string, loc *model.LatLng) error {
	cur, err := r.Get(ctx, courierID)
	if err != nil {
		return err
	}
	if cur.ActiveOrderCount > 0 {
		cur.ActiveOrderCount--
	}
	if cur.ActiveOrderCount == 0 {
		cur.Status = model.StatusAvailable
	}
	if loc != nil {
		cur.Location = *loc
	}
	cur.LastSeenAt = time.Now()
	return r.Register(ctx, cur)
}

// Get returns the presence record, or ErrNotRegistered for unknown or
// expired couriers.
func (r *Registry) Get(ctx context.Context, courierID string) (model.CourierPresence, error) {
	fields, err := r.cli.HGetAll(ctx, r.courierKey(courierID)).Result()
	if err != nil {
		return model.CourierPresence{}, unavailable(err)
	}
	if len(fields) == 0 {
		return model.CourierPresence{}, presence.ErrNotRegistered
	}
	return parsePresence(courierID, fields)
}

// Unregister removes the courier from both the hash and the geo index.
func (r *Registry) Unregister(ctx context.Context, courierID string) error {
	pipe := r.cli.TxPipeline()
	pipe.Del(ctx, r.courierKey(courierID))
	pipe.ZRem(ctx, r.geoKey(), courierID)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func canTakeWork(c model.CourierPresence) bool {
	return c.Status == model.StatusAvailable && c.ActiveOrderCount < c.MaxConcurrentOrders
}

func parsePresence(courierID string, fields map[string]string) (model.CourierPresence, error) {
	status, err := model.ParseCourierStatus(fields["status"])
	if err != nil {
		return model.CourierPresence{}, fmt.Errorf("presence record %s: %w", courierID, err)
	}
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return model.CourierPresence{}, fmt.Errorf("presence record %s: bad lat: %w", courierID, err)
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return model.CourierPresence{}, fmt.Errorf("presence record %s: bad lng: %w", courierID, err)
	}
	lastSeen, err := strconv.ParseInt(fields["last_seen_ms"], 10, 64)
	if err != nil {
		return model.CourierPresence{}, fmt.Errorf("presence record %s: bad last_seen_ms: %w", courierID, err)
	}
	active, err := strconv.Atoi(fields["active"])
	if err != nil {
		return model.CourierPresence{}, fmt.Errorf("presence record %s: bad active: %w", courierID, err)
	}
	max, err := strconv.Atoi(fields["max"])
	if err != nil {
		return model.CourierPresence{}, fmt.Errorf("presence record %s: bad max: %w", courierID, err)
	}
	rating, err := strconv.ParseFloat(fields["rating"], 64)
	if err != nil {
		return model.CourierPresence{}, fmt.Errorf("presence record %s: bad rating: %w", courierID, err)
	}
	return model.CourierPresence{
		CourierID:           courierID,
		Status:              status,
		Location:            model.LatLng{Lat: lat, Lng: lng},
		LastSeenAt:          time.UnixMilli(lastSeen),
		ActiveOrderCount:    active,
		MaxConcurrentOrders: max,
		Rating:              rating,
	}, nil
}
