package dispatch

import (
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// OfferEvent is published on the event bus when an offer is pushed to a
// courier.
type OfferEvent struct {
	Offer model.PendingAssignment
	Score float64
}

// ReassignEvent is published when an order returns to the queue.
type ReassignEvent struct {
	OrderID   string
	CourierID string
	Reason    string
	Time      time.Time
}

// ConfirmEvent is published when a courier wins the confirmation race.
type ConfirmEvent struct {
	Order     model.Order
	CourierID string
	Time      time.Time
}

// Notifier is the realtime transport boundary the worker pushes through.
type Notifier interface {
	// NotifyAssignment delivers an offer to the courier's room.
	NotifyAssignment(courierID string, offer model.PendingAssignment, order model.Order)
	// BroadcastStatus fans an order status change out to the customer,
	// merchant and courier rooms.
	BroadcastStatus(order model.Order)
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyAssignment(string, model.PendingAssignment, model.Order) {}
func (NopNotifier) BroadcastStatus(model.Order)                                   {}
