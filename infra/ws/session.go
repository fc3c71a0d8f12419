// Package ws implements the websocket transport for the realtime hub using
// gorilla/websocket: one Session per connection with buffered writes and an
// inbound event loop dispatching to the hub.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// ErrSlowConsumer is returned by Send when the outbound buffer is full.
var ErrSlowConsumer = errors.New("ws: outbound buffer full")

// envelope is the wire frame for both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Session implements realtime.Session over a gorilla websocket connection.
type Session struct {
	id     string
	userID string
	role   model.Role

	conn *websocket.Conn
	send chan outbound
	log  corelogger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, userID string, role model.Role, log corelogger.Logger) *Session {
	return &Session{
		id:     uuid.NewString(),
		userID: userID,
		role:   role,
		conn:   conn,
		send:   make(chan outbound, sendBuffer),
		log:    log,
		done:   make(chan struct{}),
	}
}

// ID returns the unique connection id.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated principal.
func (s *Session) UserID() string { return s.userID }

// Role returns the authenticated role.
func (s *Session) Role() model.Role { return s.role }

// Send queues one event for delivery. A full buffer means the client cannot
// keep up; the hub treats the error as a dead connection.
func (s *Session) Send(event string, payload any) error {
	select {
	case <-s.done:
		return errors.New("ws: session closed")
	default:
	}
	select {
	case s.send <- outbound{Event: event, Data: payload}:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close tears the transport down after telling the client why.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		deadline := time.Now().Add(writeWait)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.log.Debugf("close frame to %s: %v", s.id, err)
		}
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with pings. It owns all writes.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case out := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(out); err != nil {
				s.Close("write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close("ping failed")
				return
			}
		case <-s.done:
			return
		}
	}
}
