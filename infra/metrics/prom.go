// Package metrics implements the dispatch observability sinks: Prometheus
// counters, InfluxDB line protocol and a fan-out combining several sinks.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/vinhphannn/eatnow-dispatch/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	assignments   *prometheus.CounterVec
	reassignments *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	confirmLat    prometheus.Histogram
	queueDepth    prometheus.Gauge
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sink_assignments_total",
		Help: "Assignment offers pushed to couriers",
	}, []string{"courier_id"})
	reassignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sink_reassignments_total",
		Help: "Orders returned to the readiness queue",
	}, []string{"reason"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sink_confirmations_total",
		Help: "Confirmation attempts by race outcome",
	}, []string{"won"})
	confirmLat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_sink_offer_latency_seconds",
		Help:    "Time between offer creation and courier response",
		Buckets: prometheus.DefBuckets,
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_sink_queue_depth",
		Help: "Readiness queue length observed at the last poll",
	})

	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(reassignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			reassignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(confirmations); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			confirmations = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(confirmLat); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			confirmLat = are.ExistingCollector.(prometheus.Histogram)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(queueDepth); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			queueDepth = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		assignments:   assignments,
		reassignments: reassignments,
		confirmations: confirmations,
		confirmLat:    confirmLat,
		queueDepth:    queueDepth,
	}, nil
}

// RecordAssignment increments the assignment counter.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.CourierID).Inc()
	return nil
}

// RecordReassignment increments the reassignment counter for the reason.
func (s *PromSink) RecordReassignment(ev coremetrics.ReassignmentEvent) error {
	s.reassignments.WithLabelValues(ev.Reason).Inc()
	return nil
}

// RecordConfirmation counts the race outcome and observes the offer latency.
func (s *PromSink) RecordConfirmation(ev coremetrics.ConfirmationEvent) error {
	s.confirmations.WithLabelValues(strconv.FormatBool(ev.Won)).Inc()
	if ev.Latency > 0 {
		s.confirmLat.Observe(ev.Latency.Seconds())
	}
	return nil
}

// RecordQueueDepth sets the queue depth gauge.
func (s *PromSink) RecordQueueDepth(depth int64) error {
	s.queueDepth.Set(float64(depth))
	return nil
}
