package addpolicy

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// Policy sets the bar new adds must clear and ranks candidates by urgency
type Policy struct {
	config config.AddPolicyConfig
	logger *logrus.Entry
}

// NewPolicy creates a new add policy
func NewPolicy(cfg config.AddPolicyConfig, logger *logrus.Logger) *Policy {
	return &Policy{
		config: cfg,
		logger: logger.WithField("component", "add_policy"),
	}
}

// Limits returns the per-day minimum values and the held-back reserve for a
// solve on day now. A disabled policy returns zero limits.
func (p *Policy) Limits(now, addsLeft int, history []float64, roster types.RosterStatus) types.AddLimits {
	var limits types.AddLimits
	if !p.config.Enabled || addsLeft <= 0 {
		return limits
	}

	th := NewThresholds(p.config, history)
	for d := now; d < types.DaysPerWeek; d++ {
		limits.MinValue[d] = math.Max(0, th.Threshold(d, addsLeft)+th.OptionValue(d, addsLeft))
	}
	limits.ReserveUnits = p.ReserveTarget(roster)
	limits.ReserveValue = p.config.CostUnderage

	p.logger.WithFields(logrus.Fields{
		"day":           now,
		"adds_left":     addsLeft,
		"history":       len(history),
		"min_value":     limits.MinValue[now],
		"reserve_units": limits.ReserveUnits,
	}).Debug("Add limits computed")

	return limits
}

// CriticalFractile is the newsvendor service level Cu / (Cu + Co)
func (p *Policy) CriticalFractile() float64 {
	return p.config.CostUnderage / (p.config.CostUnderage + p.config.CostOverage)
}

// EmergencyProbability is the chance that at least one roster emergency needs an add
func (p *Policy) EmergencyProbability(roster types.RosterStatus) float64 {
	prob := p.config.EmergencyRate +
		float64(roster.InjuredList)*p.config.InjuredRate +
		float64(roster.DayToDay)*p.config.DayToDayRate
	return math.Min(p.config.MaxEmergency, math.Max(0, prob))
}

// ReserveTarget is the number of adds to hold back: the smallest k with
// P(N <= k) at the critical fractile, where N ~ Poisson is calibrated so that
// P(N >= 1) equals the emergency probability.
func (p *Policy) ReserveTarget(roster types.RosterStatus) int {
	prob := p.EmergencyProbability(roster)
	if prob <= 0 {
		return 0
	}

	emergencies := distuv.Poisson{Lambda: -math.Log1p(-prob)}
	fractile := p.CriticalFractile()
	for k := 0; k < p.config.MaxReserve; k++ {
		if emergencies.CDF(float64(k)) >= fractile {
			return k
		}
	}
	return p.config.MaxReserve
}

// UrgencyScore is value per day left, boosted for candidates with more than
// one remaining day
func (p *Policy) UrgencyScore(value float64, daysLeft int, multiDay bool) float64 {
	if daysLeft <= 0 {
		return 0
	}
	score := value / float64(daysLeft)
	if multiDay {
		score *= p.config.MultiDayMultiplier
	}
	return score
}

// RankByUrgency orders the pool by urgency score, highest first. A candidate's
// value is its best remaining bandit score plus a bonus that grows as its last
// remaining day approaches.
func (p *Policy) RankByUrgency(pool []types.ScoredCandidate, now int) []types.UrgencyRank {
	ranks := make([]types.UrgencyRank, 0, len(pool))
	for _, sc := range pool {
		if sc.RiskTier >= types.RiskTierNoGo {
			continue
		}

		best, last, remaining := math.Inf(-1), -1, 0
		for _, ds := range sc.Days {
			if ds.Day < now || !sc.IsScheduled(ds.Day) || ds.RiskTier >= types.RiskTierNoGo {
				continue
			}
			remaining++
			best = math.Max(best, ds.Bandit.Total)
			if ds.Day > last {
				last = ds.Day
			}
		}
		if remaining == 0 {
			continue
		}

		daysLeft := last - now + 1
		value := best + p.config.UrgencyBonus/float64(daysLeft)
		ranks = append(ranks, types.UrgencyRank{
			CandidateID: sc.ID,
			Score:       p.UrgencyScore(value, daysLeft, remaining > 1),
			Value:       value,
			DaysLeft:    daysLeft,
			MultiDay:    remaining > 1,
		})
	}

	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Score != ranks[j].Score {
			return ranks[i].Score > ranks[j].Score
		}
		return ranks[i].CandidateID < ranks[j].CandidateID
	})
	return ranks
}
