package realtime

import (
	"testing"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

var base = model.LatLng{Lat: 10.7769, Lng: 106.7009}

// offsetM returns a point roughly meters north of base.
func offsetM(meters float64) model.LatLng {
	return model.LatLng{Lat: base.Lat + meters/111_000, Lng: base.Lng}
}

func TestThrottleSkipsCloseAndSoon(t *testing.T) {
	th := newLocationThrottle(75, 2*time.Second)
	now := time.Now()

	if !th.Allow("c1", base, now) {
		t.Fatal("first sample must pass")
	}
	// Within 75m and within 2s: both conditions hold, skip.
	if th.Allow("c1", offsetM(30), now.Add(time.Second)) {
		t.Fatal("close and soon sample must be skipped")
	}
}

func TestThrottleAcceptsFarEvenIfSoon(t *testing.T) {
	th := newLocationThrottle(75, 2*time.Second)
	now := time.Now()

	th.Allow("c1", base, now)
	if !th.Allow("c1", offsetM(100), now.Add(500*time.Millisecond)) {
		t.Fatal("a sample >= 75m away must pass even within 2s")
	}
}

func TestThrottleAcceptsSlowEvenIfClose(t *testing.T) {
	th := newLocationThrottle(75, 2*time.Second)
	now := time.Now()

	th.Allow("c1", base, now)
	if !th.Allow("c1", offsetM(10), now.Add(3*time.Second)) {
		t.Fatal("a sample older than 2s must pass even if close")
	}
}

func TestThrottleReferenceAdvancesOnAcceptOnly(t *testing.T) {
	th := newLocationThrottle(75, 2*time.Second)
	now := time.Now()

	th.Allow("c1", base, now)
	// Skipped sample must not move the reference point.
	th.Allow("c1", offsetM(30), now.Add(time.Second))
	if th.Allow("c1", offsetM(40), now.Add(1500*time.Millisecond)) {
		t.Fatal("reference must still be the first accepted sample")
	}
}

func TestThrottlePerCourier(t *testing.T) {
	th := newLocationThrottle(75, 2*time.Second)
	now := time.Now()

	th.Allow("c1", base, now)
	if !th.Allow("c2", base, now) {
		t.Fatal("throttle state must be per courier")
	}
}

func TestRateLimiterCap(t *testing.T) {
	rl := newRateLimiter(20, 10*time.Second)
	now := time.Now()

	accepted := 0
	for i := 0; i < 25; i++ {
		if rl.Allow("c1", now.Add(time.Duration(i)*100*time.Millisecond)) {
			accepted++
		}
	}
	if accepted != 20 {
		t.Fatalf("expected 20 accepted events, got %d", accepted)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := newRateLimiter(2, 10*time.Second)
	now := time.Now()

	rl.Allow("c1", now)
	rl.Allow("c1", now.Add(time.Second))
	if rl.Allow("c1", now.Add(2*time.Second)) {
		t.Fatal("third event inside the window must be capped")
	}
	if !rl.Allow("c1", now.Add(11*time.Second)) {
		t.Fatal("event after the window slides must pass")
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := newRateLimiter(2, 10*time.Second)
	now := time.Now()
	rl.Allow("c1", now)
	rl.Sweep(now.Add(time.Minute))
	if len(rl.events) != 0 {
		t.Fatal("idle keys must be swept")
	}
}
