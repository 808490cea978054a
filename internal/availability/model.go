package availability

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// Model estimates how quickly a candidate is claimed by another team.
// Unavailability is an exponential survival process with a per-day intensity.
type Model struct {
	config config.AvailabilityConfig
	logger *logrus.Entry
}

// NewModel creates a new availability model
func NewModel(cfg config.AvailabilityConfig, logger *logrus.Logger) *Model {
	return &Model{
		config: cfg,
		logger: logger.WithField("component", "availability"),
	}
}

// Hazard is the intensity estimate for one candidate
type Hazard struct {
	CandidateID types.CandidateID `json:"candidate_id"`
	Tier        string            `json:"tier"`
	Percentile  float64           `json:"percentile"`
	Rate        float64           `json:"rate"`
}

// SurvivalProbability is P(still available after dt days) = exp(-rate*dt),
// clamped below at the configured floor. Non-positive dt or a zero rate is certain survival.
func (m *Model) SurvivalProbability(rate, dt float64) float64 {
	if dt <= 0 || rate <= 0 || math.IsNaN(rate) {
		return 1
	}
	return math.Max(m.config.MinSurvival, math.Exp(-rate*dt))
}

// HazardRates estimates a per-day intensity for every scored candidate in the pool.
// The base intensity comes from the candidate's value percentile within the pool
// and is scaled by league activity and the candidate's own transaction signals.
func (m *Model) HazardRates(pool []types.ScoredCandidate, leagueActivity float64) map[types.CandidateID]Hazard {
	if leagueActivity <= 0 || math.IsNaN(leagueActivity) {
		leagueActivity = m.config.DefaultLeagueActivity
	}

	percentiles := valuePercentiles(pool)
	rates := make(map[types.CandidateID]Hazard, len(pool))

	for _, sc := range pool {
		pct := percentiles[sc.ID]
		tier := m.tierFor(pct)

		market := 1 + m.config.AddRateWeight*math.Max(0, sc.Market.AddRate) +
			m.config.OwnershipWeight*clamp(sc.Market.OwnershipPct, 0, 100)/100
		rate := math.Min(tier.Intensity*leagueActivity*market, m.config.MaxIntensity)

		rates[sc.ID] = Hazard{
			CandidateID: sc.ID,
			Tier:        tier.Name,
			Percentile:  pct,
			Rate:        rate,
		}
	}

	m.logger.WithFields(logrus.Fields{
		"candidates":      len(pool),
		"league_activity": leagueActivity,
	}).Debug("Estimated snipe intensities")

	return rates
}

func (m *Model) tierFor(percentile float64) config.SnipeTier {
	for _, tier := range m.config.Tiers {
		if percentile >= tier.MinPercentile {
			return tier
		}
	}
	return m.config.Tiers[len(m.config.Tiers)-1]
}

// AddNowAdvice compares waiting for a later slot against adding immediately
type AddNowAdvice struct {
	AddNow       bool    `json:"add_now"`
	SnipeRisk    float64 `json:"snipe_risk"`
	ExpectedLoss float64 `json:"expected_loss"`
}

// AdviseAddNow reports whether waiting waitDays risks more value than an immediate add costs.
func (m *Model) AdviseAddNow(rate, waitDays, value, slotCost float64) AddNowAdvice {
	risk := 1 - m.SurvivalProbability(rate, waitDays)
	loss := risk * value
	return AddNowAdvice{
		AddNow:       risk > m.config.AddNowRiskThreshold && loss > slotCost,
		SnipeRisk:    risk,
		ExpectedLoss: loss,
	}
}

// valuePercentiles ranks candidates by peak expected value. Ties share the
// lower rank so equal candidates get equal intensity.
func valuePercentiles(pool []types.ScoredCandidate) map[types.CandidateID]float64 {
	out := make(map[types.CandidateID]float64, len(pool))
	if len(pool) == 0 {
		return out
	}
	if len(pool) == 1 {
		out[pool[0].ID] = 1
		return out
	}

	peaks := make([]float64, len(pool))
	for i := range pool {
		peaks[i] = pool[i].PeakExpectedValue()
	}
	sorted := append([]float64(nil), peaks...)
	sort.Float64s(sorted)

	n := float64(len(pool) - 1)
	for i, sc := range pool {
		below := sort.SearchFloat64s(sorted, peaks[i])
		out[sc.ID] = float64(below) / n
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
