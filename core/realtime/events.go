package realtime

import (
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// Outbound event names. The dotted names are the versioned replacements for
// the legacy snake_case ones; both are emitted during the deprecation window.
const (
	EventOrderAssigned    = "order_assigned"
	EventOrderAssignedV2  = "order.assigned"
	EventStatusChanged    = "order_status_changed"
	EventStatusChangedV2  = "order.status.changed"
	EventStatusUpdate     = "order_status_update"
	EventStatusUpdateV2   = "order.status.update"
	EventDriverLocation   = "driver_location_update"
	EventDriverLocationV2 = "driver.location.update"
	EventChatMessage      = "order_chat_message"
	EventChatMessageV2    = "order.chat.message"
	EventChatHistory      = "order_chat_history"
	EventSessionReplaced  = "session_replaced"
)

// Inbound event names.
const (
	EventJoinOrder      = "join_order"
	EventLeaveOrder     = "leave_order"
	EventLocationUpdate = "location_update"
	EventChatSend       = "chat_send"
)

// RoomRestaurant names the merchant room for a restaurant.
func RoomRestaurant(id string) string { return "restaurant:" + id }

// RoomUser names the customer room for a user.
func RoomUser(id string) string { return "user:" + id }

// RoomCourier names the courier room.
func RoomCourier(id string) string { return "courier:" + id }

// RoomOrder names the ephemeral per-order room.
func RoomOrder(id string) string { return "order:" + id }

// AssignmentPayload is pushed to a courier room when an offer is created.
type AssignmentPayload struct {
	OrderID      string       `json:"order_id"`
	RestaurantID string       `json:"restaurant_id"`
	Pickup       model.LatLng `json:"pickup"`
	Dropoff      model.LatLng `json:"dropoff"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// StatusPayload is the minimal status-change event for courier and merchant
// rooms.
type StatusPayload struct {
	OrderID   string            `json:"order_id"`
	Status    model.OrderStatus `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// StatusDetailPayload is the richer customer-facing status event.
type StatusDetailPayload struct {
	OrderID   string            `json:"order_id"`
	Status    model.OrderStatus `json:"status"`
	DriverID  string            `json:"driver_id,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// LocationPayload is broadcast to the order room for each accepted sample.
type LocationPayload struct {
	CourierID string  `json:"courier_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	OrderID   string  `json:"order_id"`
	Timestamp int64   `json:"timestamp"`
}

// ChatPayload is broadcast to the order room for each chat message.
type ChatPayload struct {
	OrderID    string     `json:"order_id"`
	SenderRole model.Role `json:"sender_role"`
	SenderID   string     `json:"sender_id"`
	Text       string     `json:"text"`
	At         time.Time  `json:"at"`
}

// ChatHistoryPayload replays recent messages to a late joiner.
type ChatHistoryPayload struct {
	OrderID  string              `json:"order_id"`
	Messages []model.ChatMessage `json:"messages"`
}
