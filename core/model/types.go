package model

import (
	"fmt"
	"time"
)

// Role identifies the kind of actor behind a connection or token.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleCourier  Role = "courier"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleCourier, RoleMerchant, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CourierStatus is the availability state of a courier in the presence registry.
type CourierStatus string

const (
	StatusAvailable  CourierStatus = "available"
	StatusDelivering CourierStatus = "delivering"
	StatusOffline    CourierStatus = "offline"
)

// ParseCourierStatus converts a stored value into a CourierStatus.
func ParseCourierStatus(s string) (CourierStatus, error) {
	switch CourierStatus(s) {
	case StatusAvailable, StatusDelivering, StatusOffline:
		return CourierStatus(s), nil
	}
	return "", fmt.Errorf("unknown courier status %q", s)
}

// OrderStatus is the lifecycle state of an order as seen by the dispatch core.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderAssigned  OrderStatus = "assigned"
	OrderPickedUp  OrderStatus = "picked_up"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// NeedsAssignment reports whether an order in this status is still waiting
// for a courier.
func (s OrderStatus) NeedsAssignment() bool {
	return s == OrderReady
}

// Deliverable reports whether an assigned courier may settle the delivery.
func (s OrderStatus) Deliverable() bool {
	return s == OrderAssigned || s == OrderPickedUp
}

// Terminal reports whether the order has left the dispatch lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// CourierPresence is the registry record for a courier. It expires unless
// refreshed by registration or location updates.
type CourierPresence struct {
	CourierID           string
	Status              CourierStatus
	Location            LatLng
	LastSeenAt          time.Time
	ActiveOrderCount    int
	MaxConcurrentOrders int
	Rating              float64
}

// Candidate pairs a presence record with its distance to a pickup point.
type Candidate struct {
	CourierPresence
	DistanceKm float64
}

// Order is the subset of the order record the dispatch core depends on.
// The full record is owned by the external order service.
type Order struct {
	ID           string
	CustomerID   string
	RestaurantID string
	DriverID     string // empty until a courier confirms
	Status       OrderStatus
	Pickup       LatLng
	Dropoff      LatLng
	UpdatedAt    time.Time
}

// PendingAssignment is an outstanding offer to a single courier, destroyed by
// confirm, reject or timeout. At most one exists per order.
type PendingAssignment struct {
	OrderID    string    `json:"order_id"`
	CourierID  string    `json:"courier_id"`
	AssignedAt time.Time `json:"assigned_at"`
	TimeoutAt  time.Time `json:"timeout_at"`
}

// Expired reports whether the offer deadline has passed.
func (p PendingAssignment) Expired(now time.Time) bool {
	return now.After(p.TimeoutAt)
}

// LocationSample is a courier position at a point in time.
type LocationSample struct {
	CourierID string    `json:"courier_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Location  LatLng    `json:"location"`
	At        time.Time `json:"at"`
}

// ChatMessage is one entry in an order's chat buffer.
type ChatMessage struct {
	SenderRole Role      `json:"sender_role"`
	SenderID   string    `json:"sender_id"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}
