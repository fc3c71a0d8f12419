// Package realtime implements the stateful transport layer: connection
// registry, rooms, throttled location streaming, chat buffering and the
// broadcast fan-out used by the dispatch worker.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

var (
	// ErrForbidden is returned when an event arrives from a role that may
	// not emit it.
	ErrForbidden = errors.New("realtime: forbidden")
	// ErrUnknownConnection is returned for events from connections the hub
	// no longer tracks.
	ErrUnknownConnection = errors.New("realtime: unknown connection")
)

type conn struct {
	sess         Session
	rooms        map[string]struct{}
	lastActivity time.Time
}

// Hub owns all process-local transport state. The registry, rooms, throttle
// and chat buffers are local to one instance; only the last-known location
// store is shared.
type Hub struct {
	cfg       Config
	log       logger.Logger
	locations LocationStore
	chat      *chatStore
	throttle  *locationThrottle
	limiter   *rateLimiter
	window    *statsWindow

	now func() time.Time

	mu    sync.RWMutex
	conns map[string]*conn
	users map[string]map[string]struct{}
	rooms map[string]map[string]struct{}
}

// NewHub creates a Hub. locations may be nil, which disables replay.
func NewHub(cfg Config, locations LocationStore, log logger.Logger) *Hub {
	cfg.SetDefaults()
	if locations == nil {
		locations = nopLocationStore{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Hub{
		cfg:       cfg,
		log:       log,
		locations: locations,
		chat:      newChatStore(cfg.ChatCapacity, cfg.chatTTL()),
		throttle:  newLocationThrottle(cfg.ThrottleMinMeters, cfg.throttleInterval()),
		limiter:   newRateLimiter(cfg.RateLimitMax, cfg.rateWindow()),
		window:    &statsWindow{},
		now:       time.Now,
		conns:     make(map[string]*conn),
		users:     make(map[string]map[string]struct{}),
		rooms:     make(map[string]map[string]struct{}),
	}
}

// Connect registers a session, evicts the user's previous connections
// (single active session per principal) and auto-joins the role room.
func (h *Hub) Connect(s Session) {
	h.mu.Lock()
	var evicted []Session
	for id := range h.users[s.UserID()] {
		if c, ok := h.conns[id]; ok && c.sess.Role() == s.Role() {
			evicted = append(evicted, c.sess)
			h.removeLocked(id)
		}
	}
	c := &conn{sess: s, rooms: make(map[string]struct{}), lastActivity: h.now()}
	h.conns[s.ID()] = c
	if h.users[s.UserID()] == nil {
		h.users[s.UserID()] = make(map[string]struct{})
	}
	h.users[s.UserID()][s.ID()] = struct{}{}
	h.joinLocked(s.ID(), roleRoom(s))
	h.updateGaugesLocked()
	h.mu.Unlock()

	for _, old := range evicted {
		_ = old.Send(EventSessionReplaced, map[string]string{"conn_id": s.ID()})
		old.Close("replaced by a newer session")
	}
	h.log.Debugw("connection registered", map[string]any{
		"conn_id": s.ID(),
		"user_id": s.UserID(),
		"role":    s.Role(),
	})
}

// Disconnect removes a connection from all rooms and both indexes.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	h.removeLocked(connID)
	h.updateGaugesLocked()
	h.mu.Unlock()
}

// removeLocked requires h.mu held.
func (h *Hub) removeLocked(connID string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(connID, room)
	}
	userID := c.sess.UserID()
	delete(h.conns, connID)
	if set, ok := h.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.users, userID)
		}
	}
}

func (h *Hub) joinLocked(connID, roomID string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	c.rooms[roomID] = struct{}{}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]struct{})
	}
	h.rooms[roomID][connID] = struct{}{}
}

func (h *Hub) leaveLocked(connID, roomID string) {
	if c, ok := h.conns[connID]; ok {
		delete(c.rooms, roomID)
	}
	if set, ok := h.rooms[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func roleRoom(s Session) string {
	switch s.Role() {
	case model.RoleCourier:
		return RoomCourier(s.UserID())
	case model.RoleMerchant:
		return RoomRestaurant(s.UserID())
	default:
		return RoomUser(s.UserID())
	}
}

// JoinOrder adds the connection to the order room and replays the last known
// courier location plus recent chat history.
func (h *Hub) JoinOrder(ctx context.Context, connID, orderID string) error {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	h.joinLocked(connID, RoomOrder(orderID))
	c.lastActivity = h.now()
	h.updateGaugesLocked()
	sess := c.sess
	h.mu.Unlock()

	if sample, ok, err := h.locations.LastForOrder(ctx, orderID); err != nil {
		h.log.Warnf("location replay for order %s: %v", orderID, err)
	} else if ok {
		_ = sess.Send(EventDriverLocation, LocationPayload{
			CourierID: sample.CourierID,
			Lat:       sample.Location.Lat,
			Lng:       sample.Location.Lng,
			OrderID:   orderID,
			Timestamp: sample.At.UnixMilli(),
		})
	}
	if history := h.chat.History(orderID, h.cfg.ChatReplay); len(history) > 0 {
		_ = sess.Send(EventChatHistory, ChatHistoryPayload{OrderID: orderID, Messages: history})
	}
	return nil
}

// LeaveOrder removes the connection from the order room.
func (h *Hub) LeaveOrder(connID, orderID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return ErrUnknownConnection
	}
	h.leaveLocked(connID, RoomOrder(orderID))
	h.updateGaugesLocked()
	return nil
}

// CloseOrderRoom tears down the ephemeral room once an order reaches a
// terminal status, and drops its chat buffer.
func (h *Hub) CloseOrderRoom(orderID string) {
	roomID := RoomOrder(orderID)
	h.mu.Lock()
	for connID := range h.rooms[roomID] {
		h.leaveLocked(connID, roomID)
	}
	h.updateGaugesLocked()
	h.mu.Unlock()
	h.chat.Drop(orderID)
}

// EmitToRoom sends one event to every member of a room. Dead connections are
// pruned.
func (h *Hub) EmitToRoom(roomID, event string, payload any) {
	h.mu.RLock()
	members := make([]Session, 0, len(h.rooms[roomID]))
	for connID := range h.rooms[roomID] {
		if c, ok := h.conns[connID]; ok {
			members = append(members, c.sess)
		}
	}
	h.mu.RUnlock()

	for _, sess := range members {
		if err := sess.Send(event, payload); err != nil {
			h.log.Debugf("drop dead connection %s: %v", sess.ID(), err)
			h.Disconnect(sess.ID())
		}
	}
}

// emitCompat sends the event under both its legacy and versioned names
// during the deprecation window.
func (h *Hub) emitCompat(roomID, legacy, versioned string, payload any) {
	h.EmitToRoom(roomID, legacy, payload)
	h.EmitToRoom(roomID, versioned, payload)
}

// HandleLocation ingests a courier location sample from a connection.
// Only courier connections may emit it; throttled and rate-capped samples
// are dropped silently.
func (h *Hub) HandleLocation(ctx context.Context, connID, orderID string, loc model.LatLng) error {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	c.lastActivity = h.now()
	sess := c.sess
	h.mu.Unlock()

	if sess.Role() != model.RoleCourier {
		return fmt.Errorf("%w: location updates require the courier role", ErrForbidden)
	}
	return h.IngestLocation(ctx, sess.UserID(), orderID, loc)
}

// IngestLocation runs the throttle pipeline for a courier sample and
// broadcasts accepted points to the order room. It is shared by the
// websocket path and the broker ingest bridge.
func (h *Hub) IngestLocation(ctx context.Context, courierID, orderID string, loc model.LatLng) error {
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}
	now := h.now()
	if !h.throttle.ShouldAccept(courierID, loc, now) {
		locationEvents.WithLabelValues("throttled").Inc()
		h.window.add(func(s *Stats) { s.LocationThrottle++ })
		return nil
	}
	if !h.limiter.Allow(courierID, now) {
		locationEvents.WithLabelValues("rate_capped").Inc()
		h.window.add(func(s *Stats) { s.LocationRateCap++ })
		return nil
	}
	// Only a broadcast sample becomes the throttle reference; a rate-capped
	// one must not suppress a later point measured against it.
	h.throttle.Commit(courierID, loc, now)

	locationEvents.WithLabelValues("accepted").Inc()
	h.window.add(func(s *Stats) { s.LocationAccepted++ })

	payload := LocationPayload{
		CourierID: courierID,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		OrderID:   orderID,
		Timestamp: now.UnixMilli(),
	}
	h.emitCompat(RoomOrder(orderID), EventDriverLocation, EventDriverLocationV2, payload)

	sample := model.LocationSample{CourierID: courierID, OrderID: orderID, Location: loc, At: now}
	if err := h.locations.SaveLast(ctx, sample); err != nil {
		h.log.Warnf("persist location for courier %s: %v", courierID, err)
	}
	return nil
}

// HandleChat appends a message to the order's ring buffer and broadcasts it.
func (h *Hub) HandleChat(connID, orderID, text string) error {
	if text == "" || len(text) > h.cfg.MaxChatLength {
		return fmt.Errorf("invalid chat message length %d", len(text))
	}
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	c.lastActivity = h.now()
	sess := c.sess
	h.mu.Unlock()

	msg := model.ChatMessage{
		SenderRole: sess.Role(),
		SenderID:   sess.UserID(),
		Text:       text,
		At:         h.now(),
	}
	h.chat.Append(orderID, msg)
	chatEvents.Inc()
	h.window.add(func(s *Stats) { s.ChatMessages++ })

	h.emitCompat(RoomOrder(orderID), EventChatMessage, EventChatMessageV2, ChatPayload{
		OrderID:    orderID,
		SenderRole: msg.SenderRole,
		SenderID:   msg.SenderID,
		Text:       msg.Text,
		At:         msg.At,
	})
	return nil
}

// NotifyAssignment implements the dispatch notifier boundary: the offer is
// pushed to the courier's room.
func (h *Hub) NotifyAssignment(courierID string, offer model.PendingAssignment, order model.Order) {
	payload := AssignmentPayload{
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		Pickup:       order.Pickup,
		Dropoff:      order.Dropoff,
		ExpiresAt:    offer.TimeoutAt,
	}
	h.emitCompat(RoomCourier(courierID), EventOrderAssigned, EventOrderAssignedV2, payload)
}

// BroadcastStatus fans an order status change out: the minimal payload goes
// to the courier and merchant rooms, the richer one to the customer room and
// the order room. Terminal statuses tear the order room down.
func (h *Hub) BroadcastStatus(order model.Order) {
	minimal := StatusPayload{OrderID: order.ID, Status: order.Status, UpdatedAt: order.UpdatedAt}
	detail := StatusDetailPayload{
		OrderID:   order.ID,
		Status:    order.Status,
		DriverID:  order.DriverID,
		UpdatedAt: order.UpdatedAt,
	}
	h.emitCompat(RoomRestaurant(order.RestaurantID), EventStatusChanged, EventStatusChangedV2, minimal)
	if order.DriverID != "" {
		h.emitCompat(RoomCourier(order.DriverID), EventStatusChanged, EventStatusChangedV2, minimal)
	}
	h.emitCompat(RoomUser(order.CustomerID), EventStatusUpdate, EventStatusUpdateV2, detail)
	h.emitCompat(RoomOrder(order.ID), EventStatusUpdate, EventStatusUpdateV2, detail)

	if order.Status.Terminal() {
		h.CloseOrderRoom(order.ID)
	}
}

// RecordReassignment counts a dispatch reassignment in the reporting window.
func (h *Hub) RecordReassignment() {
	h.window.add(func(s *Stats) { s.Reassignments++ })
}

// Sweep disconnects idle connections and evicts stale throttle and chat
// state. It runs every SweepInterval when started via Run.
func (h *Hub) Sweep() {
	now := h.now()
	cutoff := now.Add(-h.cfg.idleTimeout())

	h.mu.Lock()
	var idle []Session
	for id, c := range h.conns {
		if c.lastActivity.Before(cutoff) {
			idle = append(idle, c.sess)
			h.removeLocked(id)
		}
	}
	h.updateGaugesLocked()
	h.mu.Unlock()

	for _, sess := range idle {
		sess.Close("idle timeout")
	}
	if n := len(idle); n > 0 {
		h.log.Infof("swept %d idle connections", n)
	}
	h.throttle.Sweep(now, h.cfg.LocationTTL())
	h.limiter.Sweep(now)
	if dropped := h.chat.Sweep(now); dropped > 0 {
		h.log.Debugf("swept %d stale chat buffers", dropped)
	}
}

// Run drives the periodic sweep and the stats window reset until the context
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.cfg.SweepInterval())
	reset := time.NewTicker(h.cfg.WindowReset())
	defer sweep.Stop()
	defer reset.Stop()
	for {
		select {
		case <-sweep.C:
			h.Sweep()
		case <-reset.C:
			h.window.Reset()
		case <-ctx.Done():
			return
		}
	}
}

// Stats returns the current reporting-window counters and occupancy.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	conns := len(h.conns)
	rooms := len(h.rooms)
	h.mu.RUnlock()
	return h.window.Snapshot(conns, rooms)
}

// RoomSize returns the member count of a room. Observability only.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// updateGaugesLocked requires h.mu held.
func (h *Hub) updateGaugesLocked() {
	connGauge.Set(float64(len(h.conns)))
	roomGauge.Set(float64(len(h.rooms)))
}
