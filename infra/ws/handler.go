package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/realtime"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
)

// Handler upgrades HTTP requests into hub sessions.
type Handler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	log      corelogger.Logger
}

// NewHandler creates a Handler bound to the hub.
func NewHandler(hub *realtime.Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens on the token, not the Origin header; courier and
			// customer apps connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.New("ws-handler"),
	}
}

// Serve upgrades the request for an already-authenticated principal and runs
// the session until the connection drops.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, userID string, role model.Role) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sess := newSession(conn, userID, role, h.log)
	h.hub.Connect(sess)
	go sess.writePump()
	h.readLoop(r.Context(), sess)
	return nil
}

// inbound payloads.
type joinPayload struct {
	OrderID string `json:"order_id"`
}

type locationPayload struct {
	OrderID string  `json:"order_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type chatPayload struct {
	OrderID string `json:"order_id"`
	Text    string `json:"text"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// readLoop dispatches inbound events to the hub until the connection drops,
// then unregisters the session.
func (h *Handler) readLoop(ctx context.Context, sess *Session) {
	defer func() {
		h.hub.Disconnect(sess.id)
		sess.Close("connection closed")
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env envelope
		if err := sess.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("session %s read: %v", sess.id, err)
			}
			return
		}
		if err := h.dispatch(ctx, sess, env); err != nil {
			_ = sess.Send("error", errorPayload{Message: err.Error()})
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *Session, env envelope) error {
	switch env.Event {
	case realtime.EventJoinOrder:
		var p joinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return h.hub.JoinOrder(ctx, sess.id, p.OrderID)
	case realtime.EventLeaveOrder:
		var p joinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return h.hub.LeaveOrder(sess.id, p.OrderID)
	case realtime.EventLocationUpdate:
		var p locationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return h.hub.HandleLocation(ctx, sess.id, p.OrderID, model.LatLng{Lat: p.Lat, Lng: p.Lng})
	case realtime.EventChatSend:
		var p chatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return h.hub.HandleChat(sess.id, p.OrderID, p.Text)
	default:
		h.log.Debugf("session %s sent unknown event %q", sess.id, env.Event)
		return nil
	}
}
