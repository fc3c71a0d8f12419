// Package app wires the dispatch worker, realtime hub, infrastructure
// backends and HTTP surface into one runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vinhphannn/eatnow-dispatch/api"
	"github.com/vinhphannn/eatnow-dispatch/config"
	"github.com/vinhphannn/eatnow-dispatch/core/dispatch"
	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	corenotify "github.com/vinhphannn/eatnow-dispatch/core/notify"
	"github.com/vinhphannn/eatnow-dispatch/core/realtime"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
	inframetrics "github.com/vinhphannn/eatnow-dispatch/infra/metrics"
	"github.com/vinhphannn/eatnow-dispatch/infra/mqtt"
	"github.com/vinhphannn/eatnow-dispatch/infra/notify"
	"github.com/vinhphannn/eatnow-dispatch/infra/postgres"
	"github.com/vinhphannn/eatnow-dispatch/infra/redis"
	"github.com/vinhphannn/eatnow-dispatch/internal/eventbus"
)

// Service owns all long-lived components.
type Service struct {
	Worker *dispatch.Worker
	Hub    *realtime.Hub
	Server *api.Server

	redis     *goredis.Client
	pool      interface{ Close() }
	bridge    *mqtt.IngestBridge
	publisher *notify.AMQPPublisher
	bus       eventbus.EventBus
	log       corelogger.Logger
}

// New creates a Service from the configuration. Every backend is connected
// eagerly so misconfiguration fails at startup, not mid-dispatch.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	redisCli, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	registry, err := redis.NewRegistry(redisCli, cfg.Presence, cfg.Redis.KeyPrefix)
	if err != nil {
		return nil, err
	}
	readyQueue, err := redis.NewReadyQueue(redisCli, cfg.Redis.KeyPrefix)
	if err != nil {
		return nil, err
	}
	pending, err := redis.NewPendingStore(redisCli, cfg.Redis.KeyPrefix)
	if err != nil {
		return nil, err
	}
	locations, err := redis.NewLocationStore(redisCli, cfg.Redis.KeyPrefix, cfg.Realtime.LocationTTL())
	if err != nil {
		return nil, err
	}
	orderStore, err := postgres.NewOrderStore(pool)
	if err != nil {
		return nil, err
	}

	sink, err := inframetrics.New(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	var durable corenotify.Publisher = corenotify.Nop{}
	var publisher *notify.AMQPPublisher
	if cfg.Notify.Enabled {
		publisher, err = notify.Dial(cfg.Notify.Config)
		if err != nil {
			return nil, fmt.Errorf("notify broker: %w", err)
		}
		durable = publisher
	}

	hub := realtime.NewHub(cfg.Realtime, locations, logger.New("realtime"))
	bus := eventbus.New()
	go watchDispatchEvents(bus.Subscribe(), hub, logger.New("dispatch-events"))

	worker, err := dispatch.NewWorker(cfg.Dispatch, readyQueue, registry, pending, orderStore,
		hub, durable, sink, bus, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch worker: %w", err)
	}

	var bridge *mqtt.IngestBridge
	if cfg.MQTT.Enabled {
		bridge, err = mqtt.NewIngestBridge(cfg.MQTT.Config, hub, registry)
		if err != nil {
			return nil, fmt.Errorf("mqtt ingest: %w", err)
		}
	}

	server := api.NewServer(cfg.HTTP, worker, hub, registry, readyQueue, pending)

	return &Service{
		Worker:    worker,
		Hub:       hub,
		Server:    server,
		redis:     redisCli,
		pool:      pool,
		bridge:    bridge,
		publisher: publisher,
		bus:       bus,
		log:       log,
	}, nil
}

// watchDispatchEvents mirrors dispatch lifecycle events into the realtime
// stats window and the debug log. It exits when the bus closes.
func watchDispatchEvents(events <-chan eventbus.Event, hub *realtime.Hub, log corelogger.Logger) {
	for e := range events {
		switch ev := e.(type) {
		case dispatch.OfferEvent:
			log.Debugw("offer created", map[string]any{
				"order_id":   ev.Offer.OrderID,
				"courier_id": ev.Offer.CourierID,
				"score":      ev.Score,
			})
		case dispatch.ReassignEvent:
			hub.RecordReassignment()
			log.Debugw("order reassigned", map[string]any{
				"order_id":   ev.OrderID,
				"courier_id": ev.CourierID,
				"reason":     ev.Reason,
			})
		case dispatch.ConfirmEvent:
			log.Debugw("offer confirmed", map[string]any{
				"order_id":   ev.Order.ID,
				"courier_id": ev.CourierID,
			})
		}
	}
}

// Run starts the worker, hub and HTTP server and blocks until the context is
// cancelled, then drains everything.
func (s *Service) Run(ctx context.Context) error {
	s.Worker.Start(ctx)
	go s.Hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	s.log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("http shutdown: %v", err)
	}
	s.Worker.Stop()
	return nil
}

// Close releases all backend connections.
func (s *Service) Close() {
	if s.bridge != nil {
		s.bridge.Disconnect()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}
