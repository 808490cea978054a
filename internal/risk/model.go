package risk

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// Assessment is the risk profile of one candidate-day
type Assessment struct {
	ExpectedValue       float64        `json:"expected_value"`
	StdDev              float64        `json:"std_dev"`
	Floor               float64        `json:"floor"`
	Ceiling             float64        `json:"ceiling"`
	EventRate           float64        `json:"event_rate"`
	DisasterProbability float64        `json:"disaster_probability"`
	Tier                types.RiskTier `json:"tier"`
}

// Model converts a projection into floor/ceiling, disaster probability and a risk tier.
// It is stateless; the tier table and quantiles come from configuration.
type Model struct {
	config config.RiskConfig
	logger *logrus.Entry
}

// NewModel creates a new risk model
func NewModel(cfg config.RiskConfig, logger *logrus.Logger) *Model {
	return &Model{
		config: cfg,
		logger: logger.WithField("component", "risk_model"),
	}
}

// Score assesses a projection with the given expected value, variance and
// context-derived catastrophic event rate.
func (m *Model) Score(expectedValue, variance, eventRate float64) Assessment {
	if variance < m.config.VarianceEpsilon || math.IsNaN(variance) {
		variance = m.config.VarianceEpsilon
	}
	sigma := math.Sqrt(variance)

	normal := distuv.Normal{Mu: expectedValue, Sigma: sigma}
	floor := normal.Quantile(m.config.FloorQuantile)
	ceiling := normal.Quantile(m.config.CeilingQuantile)

	rate := m.effectiveEventRate(variance, eventRate)
	disaster := m.disasterProbability(rate)

	return Assessment{
		ExpectedValue:       expectedValue,
		StdDev:              sigma,
		Floor:               math.Min(floor, expectedValue),
		Ceiling:             math.Max(ceiling, expectedValue),
		EventRate:           rate,
		DisasterProbability: disaster,
		Tier:                m.Tier(disaster),
	}
}

// effectiveEventRate is the larger of the context rate and the rate implied
// by variance in excess of the baseline.
func (m *Model) effectiveEventRate(variance, contextRate float64) float64 {
	if math.IsNaN(contextRate) || contextRate < 0 {
		contextRate = 0
	}
	excess := math.Max(0, variance-m.config.BaselineVariance)
	implied := excess / (m.config.EventPenalty * m.config.EventPenalty)
	return math.Max(contextRate, implied)
}

// disasterProbability is P(X >= threshold) for X ~ Poisson(rate)
func (m *Model) disasterProbability(rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	if math.IsInf(rate, 1) {
		return 1
	}
	poisson := distuv.Poisson{Lambda: rate}
	p := 1 - poisson.CDF(float64(m.config.DisasterThreshold-1))
	switch {
	case math.IsNaN(p):
		m.logger.WithField("event_rate", rate).Warn("Poisson tail evaluated to NaN, treating as certain disaster")
		return 1
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Tier maps a disaster probability onto the ordered tier scale
func (m *Model) Tier(disasterProbability float64) types.RiskTier {
	th := m.config.TierThresholds
	for i := 0; i < len(th)-1; i++ {
		if disasterProbability < th[i] {
			return types.RiskTier(i)
		}
	}
	if disasterProbability <= th[len(th)-1] {
		return types.RiskTierDangerous
	}
	return types.RiskTierNoGo
}
