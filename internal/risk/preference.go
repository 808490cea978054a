package risk

import (
	"math"

	"github.com/stitts-dev/stream-planner/pkg/types"
)

// Theta is the situational risk preference for the current matchup.
// Positive values protect a lead and penalize spread; negative values chase a deficit.
func (m *Model) Theta(matchup types.Matchup, daysRemaining int) float64 {
	diff := matchup.Differential()

	if daysRemaining <= 1 && math.Abs(diff) > m.config.FinalDayMargin {
		if diff > 0 {
			return m.config.FinalDayTheta
		}
		return -m.config.FinalDayTheta
	}

	for _, band := range m.config.Preference {
		if diff > band.AboveDifferential {
			return band.Theta
		}
	}
	return m.config.FallbackTheta
}

// Utility is the risk-adjusted value of an assessment under preference theta
func (m *Model) Utility(a Assessment, theta float64) float64 {
	return a.ExpectedValue - m.config.UtilityStdWeight*theta*a.StdDev - m.config.DisasterPenalty*a.DisasterProbability
}
