package realtime

import "github.com/vinhphannn/eatnow-dispatch/core/model"

// Session is one authenticated transport connection. Implementations live
// under infra (websocket) and must tolerate Send after Close.
type Session interface {
	// ID is the unique connection id.
	ID() string
	// UserID is the authenticated principal. For merchants this is the
	// restaurant id the session was issued for.
	UserID() string
	// Role is the authenticated role of the principal.
	Role() model.Role
	// Send delivers one event to the client. Errors are treated as a dead
	// connection by the hub.
	Send(event string, payload any) error
	// Close tears the transport down with a reason visible to the client.
	Close(reason string)
}
