package projection

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// Exclusion reasons reported for unusable projection data
const (
	ReasonMissingProjection = "missing_projection"
	ReasonInvalidProjection = "invalid_projection"
	ReasonDayOutOfRange     = "day_out_of_range"
)

// DayEstimate is a normalized per-day projection
type DayEstimate struct {
	Day           int     `json:"day"`
	ExpectedValue float64 `json:"expected_value"`
	Variance      float64 `json:"variance"`
	EventRate     float64 `json:"event_rate"`
}

// Normalizer turns heterogeneous upstream projections into comparable per-day estimates
type Normalizer struct {
	config config.ProjectionConfig
	logger *logrus.Entry
}

// NewNormalizer creates a new projection normalizer
func NewNormalizer(cfg config.ProjectionConfig, logger *logrus.Logger) *Normalizer {
	return &Normalizer{
		config: cfg,
		logger: logger.WithField("component", "projection_normalizer"),
	}
}

// Normalize returns one estimate per usable scheduled day, ordered by day.
// Days with absent or malformed projections come back as exclusions.
func (n *Normalizer) Normalize(c types.Candidate) ([]DayEstimate, []types.Exclusion) {
	days := append([]int(nil), c.ScheduledDays...)
	sort.Ints(days)

	var estimates []DayEstimate
	var exclusions []types.Exclusion
	seen := make(map[int]bool, len(days))

	for _, day := range days {
		if seen[day] {
			continue
		}
		seen[day] = true

		if day < 0 || day >= types.DaysPerWeek {
			exclusions = append(exclusions, types.Exclusion{CandidateID: c.ID, Day: day, Reason: ReasonDayOutOfRange})
			continue
		}
		raw, ok := c.RawProjection[day]
		if !ok {
			exclusions = append(exclusions, types.Exclusion{CandidateID: c.ID, Day: day, Reason: ReasonMissingProjection})
			continue
		}
		est, ok := n.normalizeDay(day, raw)
		if !ok {
			exclusions = append(exclusions, types.Exclusion{CandidateID: c.ID, Day: day, Reason: ReasonInvalidProjection})
			continue
		}
		estimates = append(estimates, est)
	}

	if len(exclusions) > 0 {
		n.logger.WithFields(logrus.Fields{
			"candidate_id":  c.ID,
			"excluded_days": len(exclusions),
		}).Debug("Dropped days with unusable projections")
	}

	return estimates, exclusions
}

func (n *Normalizer) normalizeDay(day int, raw types.RawProjection) (DayEstimate, bool) {
	if !finite(raw.Mean, raw.Variance, raw.QualityIndex, raw.OpponentFactor, raw.ParkFactor, raw.WeatherIndex, raw.EventRate) {
		return DayEstimate{}, false
	}
	if raw.Variance < 0 || raw.EventRate < 0 || raw.QualityIndex < 0 || raw.OpponentFactor < 0 || raw.ParkFactor < 0 {
		return DayEstimate{}, false
	}

	quality := orDefault(raw.QualityIndex, 1.0)
	opponent := orDefault(raw.OpponentFactor, 1.0)
	park := orDefault(raw.ParkFactor, 100) / 100
	weather := orDefault(raw.WeatherIndex, 5)

	mean := raw.Mean * quality
	mean *= 1 + n.config.OpponentWeight*(1-opponent)
	mean *= 1 - n.config.ParkWeight*(park-1)
	mean *= 1 - n.config.WeatherWeight*(weather-5)/5

	variance := math.Max(raw.Variance*park, n.config.VarianceEpsilon)

	rate := raw.EventRate
	if rate == 0 {
		rate = n.config.BaseEventRate
	}
	rate *= opponent * park * (1 + n.config.WeatherEventAdj*(weather-5))
	rate = math.Max(rate, 0)

	return DayEstimate{
		Day:           day,
		ExpectedValue: mean,
		Variance:      variance,
		EventRate:     rate,
	}, true
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
