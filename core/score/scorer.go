// Package score ranks eligible couriers for an order using a weighted sum of
// normalized distance, rating and workload terms.
package score

import (
	"sort"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// Weights control the relative influence of each scoring term. They should
// sum to 1 but are used as-is either way.
type Weights struct {
	Distance float64 `json:"distance"`
	Rating   float64 `json:"rating"`
	Workload float64 `json:"workload"`
}

// Config holds scorer tuning. Weights and thresholds come from configuration,
// not constants.
type Config struct {
	Weights       Weights `json:"weights"`
	MaxDistanceKm float64 `json:"max_distance_km"`
	MinRating     float64 `json:"min_rating"`
}

// SetDefaults fills zero values with the reference weights.
func (c *Config) SetDefaults() {
	if c.Weights == (Weights{}) {
		c.Weights = Weights{Distance: 0.4, Rating: 0.3, Workload: 0.3}
	}
	if c.MaxDistanceKm <= 0 {
		c.MaxDistanceKm = 10
	}
	if c.MinRating <= 0 {
		c.MinRating = 3.0
	}
}

// Scorer is a pure candidate ranker. The zero value is unusable; build one
// with New.
type Scorer struct {
	cfg Config
}

// New returns a Scorer for the given configuration.
func New(cfg Config) Scorer {
	cfg.SetDefaults()
	return Scorer{cfg: cfg}
}

// Eligible applies the pre-filter. Candidates failing it are excluded from
// scoring entirely.
func (s Scorer) Eligible(c model.Candidate) bool {
	if c.Status != model.StatusAvailable {
		return false
	}
	if c.ActiveOrderCount >= c.MaxConcurrentOrders {
		return false
	}
	if c.DistanceKm > s.cfg.MaxDistanceKm {
		return false
	}
	if c.Rating < s.cfg.MinRating {
		return false
	}
	return true
}

// Score computes the weighted score for a candidate. All terms are
// normalized to [0,1] before weighting.
func (s Scorer) Score(c model.Candidate) float64 {
	dist := c.DistanceKm
	if dist > s.cfg.MaxDistanceKm {
		dist = s.cfg.MaxDistanceKm
	}
	distanceScore := 1 - dist/s.cfg.MaxDistanceKm
	ratingScore := c.Rating / 5
	workloadScore := 0.0
	if c.MaxConcurrentOrders > 0 {
		workloadScore = 1 - float64(c.ActiveOrderCount)/float64(c.MaxConcurrentOrders)
	}
	w := s.cfg.Weights
	return w.Distance*distanceScore + w.Rating*ratingScore + w.Workload*workloadScore
}

// Rank filters ineligible candidates and sorts the rest by descending score.
// Ties break on smaller distance, then smaller courier id, so results are
// deterministic.
func (s Scorer) Rank(candidates []model.Candidate) []model.Candidate {
	eligible := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if s.Eligible(c) {
			eligible = append(eligible, c)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := s.Score(eligible[i]), s.Score(eligible[j])
		if si != sj {
			return si > sj
		}
		if eligible[i].DistanceKm != eligible[j].DistanceKm {
			return eligible[i].DistanceKm < eligible[j].DistanceKm
		}
		return eligible[i].CourierID < eligible[j].CourierID
	})
	return eligible
}

// Best returns the top-ranked candidate, or ok=false when none is eligible.
func (s Scorer) Best(candidates []model.Candidate) (model.Candidate, bool) {
	ranked := s.Rank(candidates)
	if len(ranked) == 0 {
		return model.Candidate{}, false
	}
	return ranked[0], true
}
