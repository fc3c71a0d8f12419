package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ordersOffered  prometheus.Counter
	reassignments  *prometheus.CounterVec
	offerLatency   prometheus.Histogram
	queueDepth     prometheus.Gauge
	pendingOffers  prometheus.Gauge
	orderConfirmed *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, prometheus.Histogram, prometheus.Gauge, prometheus.Gauge, *prometheus.CounterVec) {
	offered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_offers_total",
		Help: "Number of assignment offers pushed to couriers",
	})
	reassign := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_reassignments_total",
		Help: "Number of orders returned to the readiness queue",
	}, []string{"reason"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_offer_duration_seconds",
		Help:    "Time from dequeue to offer notification",
		Buckets: prometheus.DefBuckets,
	})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Readiness queue length observed at the last poll",
	})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_pending_offers",
		Help: "Assignment offers currently in flight",
	})
	confirmed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_confirmations_total",
		Help: "Confirmation attempts by outcome",
	}, []string{"outcome"})
	return offered, reassign, latency, depth, pending, confirmed
}

func init() {
	ordersOffered, reassignments, offerLatency, queueDepth, pendingOffers, orderConfirmed = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(ordersOffered, reassignments, offerLatency, queueDepth, pendingOffers, orderConfirmed)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	ordersOffered, reassignments, offerLatency, queueDepth, pendingOffers, orderConfirmed = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
