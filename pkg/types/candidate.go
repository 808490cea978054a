package types

import (
	"fmt"
	"strings"
)

// DaysPerWeek is the length of one planning horizon.
const DaysPerWeek = 7

// CandidateID is the stable key of a candidate across a week.
type CandidateID string

// RiskTier is an ordered classification of a candidate's downside risk.
// Lower is safer. NO_GO candidates are never scheduled.
type RiskTier int

const (
	RiskTierElite RiskTier = iota
	RiskTierSafe
	RiskTierModerate
	RiskTierRisky
	RiskTierDangerous
	RiskTierNoGo
)

var riskTierNames = [...]string{"elite", "safe", "moderate", "risky", "dangerous", "no_go"}

func (t RiskTier) String() string {
	if t < RiskTierElite || t > RiskTierNoGo {
		return fmt.Sprintf("risk_tier(%d)", int(t))
	}
	return riskTierNames[t]
}

// MarshalText encodes the tier as its lower-case name
func (t RiskTier) MarshalText() ([]byte, error) {
	if t < RiskTierElite || t > RiskTierNoGo {
		return nil, fmt.Errorf("invalid risk tier %d", int(t))
	}
	return []byte(riskTierNames[t]), nil
}

// UnmarshalText decodes a tier name, case-insensitive
func (t *RiskTier) UnmarshalText(text []byte) error {
	tier, err := ParseRiskTier(string(text))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ParseRiskTier converts a tier name into a RiskTier
func ParseRiskTier(name string) (RiskTier, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range riskTierNames {
		if n == normalized {
			return RiskTier(i), nil
		}
	}
	return RiskTierNoGo, fmt.Errorf("unknown risk tier %q", name)
}

// RawProjection is the per-day projection handed in by upstream data sources
// together with the matchup context the normalizer consumes.
type RawProjection struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`

	// QualityIndex scales the mean; 1.0 is a league-average performer.
	QualityIndex float64 `json:"quality_index,omitempty"`
	// OpponentFactor is 1.0 for an average opponent, above 1.0 for a tougher one.
	OpponentFactor float64 `json:"opponent_factor,omitempty"`
	// ParkFactor is 100 for a neutral environment.
	ParkFactor float64 `json:"park_factor,omitempty"`
	// WeatherIndex runs 1..10 with 5 neutral; 0 means unknown.
	WeatherIndex float64 `json:"weather_index,omitempty"`
	// EventRate is the expected count of the catastrophic event; 0 derives it.
	EventRate float64 `json:"event_rate,omitempty"`
}

// MarketSignal carries league transaction activity for one candidate
type MarketSignal struct {
	OwnershipPct float64 `json:"ownership_pct"`
	AddRate      float64 `json:"add_rate"`
}

// Candidate is an addable entity for the current week
type Candidate struct {
	ID            CandidateID           `json:"id"`
	Name          string                `json:"name"`
	Team          string                `json:"team,omitempty"`
	ScheduledDays []int                 `json:"scheduled_days"`
	RawProjection map[int]RawProjection `json:"raw_projection"`
	Context       []float64             `json:"context"`
	Market        MarketSignal          `json:"market"`
}

// IsScheduled reports whether the candidate can earn value on day
func (c *Candidate) IsScheduled(day int) bool {
	for _, d := range c.ScheduledDays {
		if d == day {
			return true
		}
	}
	return false
}

// BanditScore is the value estimator's output for one candidate-day
type BanditScore struct {
	Point     float64 `json:"point"`
	Width     float64 `json:"width"`
	Bonus     float64 `json:"bonus"`
	Total     float64 `json:"total"`
	ColdStart bool    `json:"cold_start"`
}

// DayScore is the fully scored view of a candidate on one scheduled day
type DayScore struct {
	Day                 int         `json:"day"`
	ExpectedValue       float64     `json:"expected_value"`
	Variance            float64     `json:"variance"`
	Floor               float64     `json:"floor"`
	Ceiling             float64     `json:"ceiling"`
	DisasterProbability float64     `json:"disaster_probability"`
	RiskTier            RiskTier    `json:"risk_tier"`
	Utility             float64     `json:"utility"`
	Bandit              BanditScore `json:"bandit"`
	Features            []float64   `json:"features"`
}

// ScoredCandidate is a candidate after the risk, bandit and availability passes
type ScoredCandidate struct {
	Candidate

	Days                []DayScore  `json:"days"`
	Floor               float64     `json:"floor"`
	Ceiling             float64     `json:"ceiling"`
	DisasterProbability float64     `json:"disaster_probability"`
	RiskTier            RiskTier    `json:"risk_tier"`
	HazardRate          float64     `json:"hazard_rate"`
	SnipeTier           string      `json:"snipe_tier"`
	Exclusions          []Exclusion `json:"exclusions,omitempty"`
}

// Day returns the score for day, if the candidate has one
func (sc *ScoredCandidate) Day(day int) (DayScore, bool) {
	for _, ds := range sc.Days {
		if ds.Day == day {
			return ds, true
		}
	}
	return DayScore{}, false
}

// PeakExpectedValue is the highest per-day expected value over scored days
func (sc *ScoredCandidate) PeakExpectedValue() float64 {
	peak := 0.0
	for i, ds := range sc.Days {
		if i == 0 || ds.ExpectedValue > peak {
			peak = ds.ExpectedValue
		}
	}
	return peak
}

// Exclusion records why a candidate or one of its days was left out
type Exclusion struct {
	CandidateID CandidateID `json:"candidate_id"`
	Day         int         `json:"day"` // -1 for the whole candidate
	Reason      string      `json:"reason"`
}
