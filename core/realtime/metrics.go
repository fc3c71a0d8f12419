package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	locationEvents *prometheus.CounterVec
	chatEvents     prometheus.Counter
	connGauge      prometheus.Gauge
	roomGauge      prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Gauge, prometheus.Gauge) {
	loc := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_location_events_total",
		Help: "Location samples by outcome",
	}, []string{"outcome"})
	chat := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_chat_messages_total",
		Help: "Chat messages accepted",
	})
	conns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Currently registered connections",
	})
	rooms := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms",
		Help: "Rooms with at least one member",
	})
	return loc, chat, conns, rooms
}

func init() {
	locationEvents, chatEvents, connGauge, roomGauge = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers realtime metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(locationEvents, chatEvents, connGauge, roomGauge)
}

// ResetMetrics reinitializes collectors for testing purposes and registers
// them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	locationEvents, chatEvents, connGauge, roomGauge = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

// Stats are windowed counters for the stats endpoint; unlike the prometheus
// counters they reset every reporting window.
type Stats struct {
	LocationAccepted int64 `json:"location_accepted"`
	LocationThrottle int64 `json:"location_throttled"`
	LocationRateCap  int64 `json:"location_rate_capped"`
	ChatMessages     int64 `json:"chat_messages"`
	Reassignments    int64 `json:"reassignments"`
	Connections      int   `json:"connections"`
	Rooms            int   `json:"rooms"`
}

type statsWindow struct {
	mu    sync.Mutex
	stats Stats
}

func (w *statsWindow) add(f func(*Stats)) {
	w.mu.Lock()
	f(&w.stats)
	w.mu.Unlock()
}

// Snapshot returns the current window values.
func (w *statsWindow) Snapshot(conns, rooms int) Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Connections = conns
	s.Rooms = rooms
	return s
}

// Reset clears the window counters.
func (w *statsWindow) Reset() {
	w.mu.Lock()
	w.stats = Stats{}
	w.mu.Unlock()
}
