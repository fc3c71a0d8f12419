// Package metrics defines sink interfaces for dispatch observability events.
// Sinks are implemented under infra/metrics.
package metrics

import "time"

// AssignmentEvent is recorded when an offer is pushed to a courier.
type AssignmentEvent struct {
	OrderID    string
	CourierID  string
	Score      float64
	DistanceKm float64
	Candidates int
	Time       time.Time
}

// ReassignmentEvent is recorded when an order returns to the queue.
type ReassignmentEvent struct {
	OrderID   string
	CourierID string
	Reason    string // "timeout", "reject" or "no_candidates"
	Time      time.Time
}

// ConfirmationEvent is recorded when a courier wins (or loses) the
// confirmation race for an order.
type ConfirmationEvent struct {
	OrderID   string
	CourierID string
	Won       bool
	Latency   time.Duration
	Time      time.Time
}

// Sink records dispatch events for observability purposes.
type Sink interface {
	RecordAssignment(ev AssignmentEvent) error
	RecordReassignment(ev ReassignmentEvent) error
}

// ConfirmationRecorder is implemented by sinks able to record confirmation
// outcomes.
type ConfirmationRecorder interface {
	RecordConfirmation(ev ConfirmationEvent) error
}

// QueueDepthRecorder is implemented by sinks able to record the readiness
// queue length observed at each poll.
type QueueDepthRecorder interface {
	RecordQueueDepth(depth int64) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentEvent) error     { return nil }
func (NopSink) RecordReassignment(ReassignmentEvent) error { return nil }
func (NopSink) RecordConfirmation(ConfirmationEvent) error { return nil }
func (NopSink) RecordQueueDepth(int64) error               { return nil }
