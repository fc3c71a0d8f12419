// Package notify defines the durable notification boundary. Notifications
// published here survive the recipient being offline; an assigned courier who
// is disconnected still learns of the offer once back.
package notify

import (
	"context"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// Kind classifies a durable notification.
type Kind string

const (
	KindAssignmentOffer Kind = "assignment_offer"
	KindStatusChange    Kind = "status_change"
)

// Notification is a durable message for a single recipient.
type Notification struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	RecipientRole model.Role `json:"recipient_role"`
	RecipientID   string     `json:"recipient_id"`
	OrderID       string     `json:"order_id"`
	Payload       any        `json:"payload,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Publisher persists a notification for delivery outside the realtime path.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Nop drops all notifications. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }
