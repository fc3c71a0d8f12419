package realtime

import (
	"sync"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// locationThrottle suppresses redundant samples: a point is skipped only when
// it is within minDist of the last accepted point AND arrived within
// minInterval of it. The reference point only advances on accepted samples.
type locationThrottle struct {
	minDistM    float64
	minInterval time.Duration

	mu   sync.Mutex
	last map[string]acceptedSample
}

type acceptedSample struct {
	loc model.LatLng
	at  time.Time
}

func newLocationThrottle(minDistM float64, minInterval time.Duration) *locationThrottle {
	return &locationThrottle{
		minDistM:    minDistM,
		minInterval: minInterval,
		last:        make(map[string]acceptedSample),
	}
}

// ShouldAccept reports whether the sample clears the distance/time gate. It
// does not record the sample; only broadcast points may become the reference,
// so Commit is a separate step.
func (t *locationThrottle) ShouldAccept(courierID string, loc model.LatLng, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.last[courierID]
	if !ok {
		return true
	}
	closeEnough := prev.loc.DistanceM(loc) < t.minDistM
	soonEnough := now.Sub(prev.at) < t.minInterval
	return !(closeEnough && soonEnough)
}

// Commit records a broadcast sample as the courier's new reference point.
func (t *locationThrottle) Commit(courierID string, loc model.LatLng, now time.Time) {
	t.mu.Lock()
	t.last[courierID] = acceptedSample{loc: loc, at: now}
	t.mu.Unlock()
}

// Allow combines ShouldAccept and Commit for callers with no admission step
// between the two.
func (t *locationThrottle) Allow(courierID string, loc model.LatLng, now time.Time) bool {
	if !t.ShouldAccept(courierID, loc, now) {
		return false
	}
	t.Commit(courierID, loc, now)
	return true
}

// Forget drops the reference point for a courier.
func (t *locationThrottle) Forget(courierID string) {
	t.mu.Lock()
	delete(t.last, courierID)
	t.mu.Unlock()
}

// Sweep drops reference points older than ttl.
func (t *locationThrottle) Sweep(now time.Time, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.last {
		if now.Sub(s.at) > ttl {
			delete(t.last, id)
		}
	}
}

// rateLimiter caps accepted events per key within a sliding window.
type rateLimiter struct {
	window time.Duration
	max    int

	mu     sync.Mutex
	events map[string][]time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{window: window, max: max, events: make(map[string][]time.Time)}
}

// Allow reports whether another event fits in the key's window and counts it
// when it does.
func (r *rateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	kept := r.events[key][:0]
	for _, t := range r.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= r.max {
		r.events[key] = kept
		return false
	}
	r.events[key] = append(kept, now)
	return true
}

// Sweep drops keys with no events inside the window.
func (r *rateLimiter) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	for key, ts := range r.events {
		live := false
		for _, t := range ts {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(r.events, key)
		}
	}
}
