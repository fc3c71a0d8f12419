package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinhphannn/eatnow-dispatch/core/dispatch"
	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/orders"
	"github.com/vinhphannn/eatnow-dispatch/core/presence"
	"github.com/vinhphannn/eatnow-dispatch/core/queue"
	"github.com/vinhphannn/eatnow-dispatch/core/realtime"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
	"github.com/vinhphannn/eatnow-dispatch/infra/ws"
)

// Config holds the HTTP server parameters.
type Config struct {
	Addr string     `json:"addr"`
	Auth AuthConfig `json:"auth"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Server wires the HTTP routes to the dispatch worker, the realtime hub and
// the presence registry.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	worker   *dispatch.Worker
	hub      *realtime.Hub
	registry presence.Registry
	queue    queue.ReadinessQueue
	pending  dispatch.PendingStore
	wsh      *ws.Handler
	log      corelogger.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(cfg Config, worker *dispatch.Worker, hub *realtime.Hub, registry presence.Registry, q queue.ReadinessQueue, pending dispatch.PendingStore) *Server {
	cfg.SetDefaults()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		cfg:      cfg,
		echo:     e,
		worker:   worker,
		hub:      hub,
		registry: registry,
		queue:    q,
		pending:  pending,
		wsh:      ws.NewHandler(hub),
		log:      logger.New("api"),
	}
	e.Use(s.requestLogger)

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1", authMiddleware(cfg.Auth.Secret))
	v1.GET("/ws", s.serveWS)

	courier := v1.Group("", requireRole(model.RoleCourier))
	courier.POST("/orders/:id/accept", s.acceptOrder)
	courier.POST("/orders/:id/reject", s.rejectOrder)
	courier.POST("/orders/:id/complete", s.completeOrder)
	courier.PUT("/couriers/presence", s.registerPresence)
	courier.DELETE("/couriers/presence", s.unregisterPresence)

	v1.GET("/dispatch/stats", s.dispatchStats, requireRole(model.RoleAdmin))
	return s
}

// Start runs the HTTP listener until Shutdown.
func (s *Server) Start() error {
	s.log.Infof("http listening on %s", s.cfg.Addr)
	err := s.echo.Start(s.cfg.Addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.Debugw("request", map[string]any{
			"method":      c.Request().Method,
			"path":        c.Request().URL.Path,
			"status":      c.Response().Status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return err
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serveWS(c echo.Context) error {
	p := principal(c)
	return s.wsh.Serve(c.Response(), c.Request(), p.UserID, p.Role)
}

type orderResponse struct {
	OrderID   string            `json:"order_id"`
	Status    model.OrderStatus `json:"status"`
	DriverID  string            `json:"driver_id,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (s *Server) acceptOrder(c echo.Context) error {
	p := principal(c)
	order, err := s.worker.Confirm(c.Request().Context(), c.Param("id"), p.UserID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, orderResponse{
		OrderID:   order.ID,
		Status:    order.Status,
		DriverID:  order.DriverID,
		UpdatedAt: order.UpdatedAt,
	})
}

func (s *Server) rejectOrder(c echo.Context) error {
	p := principal(c)
	if err := s.worker.Reject(c.Request().Context(), c.Param("id"), p.UserID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) completeOrder(c echo.Context) error {
	p := principal(c)
	order, err := s.worker.Complete(c.Request().Context(), c.Param("id"), p.UserID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, orderResponse{
		OrderID:   order.ID,
		Status:    order.Status,
		DriverID:  order.DriverID,
		UpdatedAt: order.UpdatedAt,
	})
}

type presenceRequest struct {
	Lat                 float64 `json:"lat"`
	Lng                 float64 `json:"lng"`
	MaxConcurrentOrders int     `json:"max_concurrent_orders"`
	Rating              float64 `json:"rating"`
}

func (s *Server) registerPresence(c echo.Context) error {
	p := principal(c)
	var req presenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	loc := model.LatLng{Lat: req.Lat, Lng: req.Lng}
	if err := loc.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := s.registry.Register(c.Request().Context(), model.CourierPresence{
		CourierID:           p.UserID,
		Status:              model.StatusAvailable,
		Location:            loc,
		LastSeenAt:          time.Now(),
		MaxConcurrentOrders: req.MaxConcurrentOrders,
		Rating:              req.Rating,
	})
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) unregisterPresence(c echo.Context) error {
	p := principal(c)
	if err := s.registry.Unregister(c.Request().Context(), p.UserID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type statsResponse struct {
	Realtime      realtime.Stats `json:"realtime"`
	QueueDepth    int64          `json:"queue_depth"`
	PendingOffers int64          `json:"pending_offers"`
}

func (s *Server) dispatchStats(c echo.Context) error {
	ctx := c.Request().Context()
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return httpError(err)
	}
	inFlight, err := s.pending.Count(ctx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, statsResponse{
		Realtime:      s.hub.Stats(),
		QueueDepth:    depth,
		PendingOffers: inFlight,
	})
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrNoOffer), errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, realtime.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, orders.ErrUnavailable), errors.Is(err, presence.ErrUnavailable),
		errors.Is(err, queue.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "temporarily unavailable")
	case errors.Is(err, presence.ErrNotRegistered):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
