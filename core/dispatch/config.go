package dispatch

import (
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/score"
)

// Config holds dispatch worker tuning. Reference intervals are defaults, not
// literals in the loop.
type Config struct {
	// PollIntervalSeconds is the worker tick (reference 3s).
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	// BatchSize caps how many orders a single tick drains (reference 10).
	BatchSize int `json:"batch_size"`
	// RadiusKm bounds the candidate search around the pickup point.
	RadiusKm float64 `json:"radius_km"`
	// CandidateLimit caps the geo query result size to bound tail latency.
	CandidateLimit int `json:"candidate_limit"`
	// OfferTimeoutSeconds bounds an unanswered assignment offer (reference 60s).
	OfferTimeoutSeconds int `json:"offer_timeout_seconds"`
	// SweepIntervalSeconds is the expired-offer sweep period (reference 30s).
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	// NoCandidateBackoffSeconds delays the requeue when no courier is nearby.
	NoCandidateBackoffSeconds int `json:"no_candidate_backoff_seconds"`
	// RequeueBoostSeconds is subtracted from "now" when requeueing after a
	// timeout or reject, so starved orders are served first.
	RequeueBoostSeconds int `json:"requeue_boost_seconds"`

	Score score.Config `json:"score"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.RadiusKm <= 0 {
		c.RadiusKm = 5
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 20
	}
	if c.OfferTimeoutSeconds <= 0 {
		c.OfferTimeoutSeconds = 60
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 30
	}
	if c.NoCandidateBackoffSeconds <= 0 {
		c.NoCandidateBackoffSeconds = 10
	}
	if c.RequeueBoostSeconds <= 0 {
		c.RequeueBoostSeconds = 60
	}
	c.Score.SetDefaults()
	if c.Score.MaxDistanceKm < c.RadiusKm {
		c.Score.MaxDistanceKm = c.RadiusKm
	}
}

// PollInterval returns the tick period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// OfferTimeout returns the pending-offer lifetime.
func (c Config) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutSeconds) * time.Second
}

// SweepInterval returns the expired-offer sweep period.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// NoCandidateBackoff returns the delay applied before a starved order is
// eligible again.
func (c Config) NoCandidateBackoff() time.Duration {
	return time.Duration(c.NoCandidateBackoffSeconds) * time.Second
}

// RequeueBoost returns the priority boost applied on timeout/reject requeues.
func (c Config) RequeueBoost() time.Duration {
	return time.Duration(c.RequeueBoostSeconds) * time.Second
}
