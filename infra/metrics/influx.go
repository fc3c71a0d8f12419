package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	coremetrics "github.com/vinhphannn/eatnow-dispatch/core/metrics"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      corelogger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordAssignment writes the offer as a line protocol point.
func (s *InfluxSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_assignment").
		AddTag("order_id", ev.OrderID).
		AddTag("courier_id", ev.CourierID).
		AddField("score", ev.Score).
		AddField("distance_km", ev.DistanceKm).
		AddField("candidates", ev.Candidates).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordReassignment writes the requeue event with its reason.
func (s *InfluxSink) RecordReassignment(ev coremetrics.ReassignmentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_reassignment").
		AddTag("order_id", ev.OrderID).
		AddTag("reason", ev.Reason)
	if ev.CourierID != "" {
		p = p.AddTag("courier_id", ev.CourierID)
	}
	p = p.AddField("count", 1).SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordConfirmation writes the confirmation race outcome.
func (s *InfluxSink) RecordConfirmation(ev coremetrics.ConfirmationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_confirmation").
		AddTag("order_id", ev.OrderID).
		AddTag("courier_id", ev.CourierID).
		AddTag("won", strconv.FormatBool(ev.Won)).
		AddField("latency_ms", ev.Latency.Seconds()*1000).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordQueueDepth writes the observed queue depth.
func (s *InfluxSink) RecordQueueDepth(depth int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_queue").
		AddField("depth", depth).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}
