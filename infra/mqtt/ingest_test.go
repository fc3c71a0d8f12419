package mqtt

import (
	"context"
	"testing"

	corelogger "github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

type recSink struct {
	courierID string
	orderID   string
	loc       model.LatLng
	calls     int
}

func (s *recSink) IngestLocation(_ context.Context, courierID, orderID string, loc model.LatLng) error {
	s.courierID, s.orderID, s.loc = courierID, orderID, loc
	s.calls++
	return nil
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestOnMessageForwardsSample(t *testing.T) {
	sink := &recSink{}
	b := &IngestBridge{sink: sink, log: corelogger.Nop{}}

	b.onMessage(nil, fakeMessage{
		topic:   "courier/d42/location",
		payload: []byte(`{"order_id":"o1","lat":10.77,"lng":106.70}`),
	})

	if sink.calls != 1 {
		t.Fatalf("expected 1 forwarded sample, got %d", sink.calls)
	}
	if sink.courierID != "d42" || sink.orderID != "o1" {
		t.Errorf("forwarded ids = (%q, %q)", sink.courierID, sink.orderID)
	}
	if sink.loc.Lat != 10.77 || sink.loc.Lng != 106.70 {
		t.Errorf("forwarded location = %+v", sink.loc)
	}
}

func TestOnMessageDropsBadPayload(t *testing.T) {
	sink := &recSink{}
	b := &IngestBridge{sink: sink, log: corelogger.Nop{}}

	b.onMessage(nil, fakeMessage{topic: "courier/d1/location", payload: []byte("not json")})
	b.onMessage(nil, fakeMessage{topic: "weird/topic", payload: []byte("{}")})

	if sink.calls != 0 {
		t.Fatalf("expected no forwarded samples, got %d", sink.calls)
	}
}

func TestCourierFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		id    string
		ok    bool
	}{
		{"courier/d1/location", "d1", true},
		{"courier/abc-123/location", "abc-123", true},
		{"courier//location", "", false},
		{"courier/+/location", "", false},
		{"driver/d1/location", "", false},
		{"courier/d1/status", "", false},
	}
	for _, tc := range cases {
		id, ok := courierFromTopic(tc.topic)
		if id != tc.id || ok != tc.ok {
			t.Errorf("courierFromTopic(%q) = (%q, %v), want (%q, %v)", tc.topic, id, ok, tc.id, tc.ok)
		}
	}
}
