package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/stitts-dev/stream-planner/pkg/types"
)

// ErrInvalidEngineConfig is returned for malformed engine tuning
var ErrInvalidEngineConfig = errors.New("invalid engine config")

// TieBreak policies for equal-value schedules
const (
	TieBreakDefer    = "defer"
	TieBreakEarliest = "earliest"
)

// EngineConfig is the tuning surface shared by every pipeline component
type EngineConfig struct {
	Projection   ProjectionConfig   `yaml:"projection" json:"projection"`
	Risk         RiskConfig         `yaml:"risk" json:"risk"`
	Bandit       BanditConfig       `yaml:"bandit" json:"bandit"`
	Availability AvailabilityConfig `yaml:"availability" json:"availability"`
	Scheduler    SchedulerConfig    `yaml:"scheduler" json:"scheduler"`
	Contingency  ContingencyConfig  `yaml:"contingency" json:"contingency"`
	AddPolicy    AddPolicyConfig    `yaml:"add_policy" json:"add_policy"`
}

type ProjectionConfig struct {
	OpponentWeight  float64 `yaml:"opponent_weight" json:"opponent_weight"`
	ParkWeight      float64 `yaml:"park_weight" json:"park_weight"`
	WeatherWeight   float64 `yaml:"weather_weight" json:"weather_weight"`
	WeatherEventAdj float64 `yaml:"weather_event_adj" json:"weather_event_adj"`
	BaseEventRate   float64 `yaml:"base_event_rate" json:"base_event_rate"`
	VarianceEpsilon float64 `yaml:"variance_epsilon" json:"variance_epsilon"`
}

// PreferenceBand maps a score differential strictly above AboveDifferential to Theta
type PreferenceBand struct {
	AboveDifferential float64 `yaml:"above_differential" json:"above_differential"`
	Theta             float64 `yaml:"theta" json:"theta"`
}

type RiskConfig struct {
	FloorQuantile     float64 `yaml:"floor_quantile" json:"floor_quantile"`
	CeilingQuantile   float64 `yaml:"ceiling_quantile" json:"ceiling_quantile"`
	VarianceEpsilon   float64 `yaml:"variance_epsilon" json:"variance_epsilon"`
	DisasterThreshold int     `yaml:"disaster_threshold" json:"disaster_threshold"`
	BaselineVariance  float64 `yaml:"baseline_variance" json:"baseline_variance"`
	EventPenalty      float64 `yaml:"event_penalty" json:"event_penalty"`
	DisasterPenalty   float64 `yaml:"disaster_penalty" json:"disaster_penalty"`
	// TierThresholds are the upper disaster-probability bounds of
	// ELITE, SAFE, MODERATE, RISKY and DANGEROUS. Anything above is NO_GO.
	TierThresholds []float64 `yaml:"tier_thresholds" json:"tier_thresholds"`

	Preference       []PreferenceBand `yaml:"preference" json:"preference"`
	FallbackTheta    float64          `yaml:"fallback_theta" json:"fallback_theta"`
	FinalDayMargin   float64          `yaml:"final_day_margin" json:"final_day_margin"`
	FinalDayTheta    float64          `yaml:"final_day_theta" json:"final_day_theta"`
	UtilityStdWeight float64          `yaml:"utility_std_weight" json:"utility_std_weight"`
}

type BanditConfig struct {
	ContextDimension    int     `yaml:"context_dimension" json:"context_dimension"`
	Lambda              float64 `yaml:"lambda" json:"lambda"`
	Alpha               float64 `yaml:"alpha" json:"alpha"`
	MaxConfidenceWidth  float64 `yaml:"max_confidence_width" json:"max_confidence_width"`
	MinExplorationScale float64 `yaml:"min_exploration_scale" json:"min_exploration_scale"`
	MaxExplorationScale float64 `yaml:"max_exploration_scale" json:"max_exploration_scale"`
	MaxCondition        float64 `yaml:"max_condition" json:"max_condition"`
}

// SnipeTier assigns a base intensity to candidates at or above MinPercentile
type SnipeTier struct {
	Name          string  `yaml:"name" json:"name"`
	MinPercentile float64 `yaml:"min_percentile" json:"min_percentile"`
	Intensity     float64 `yaml:"intensity" json:"intensity"`
}

type AvailabilityConfig struct {
	Tiers                 []SnipeTier `yaml:"tiers" json:"tiers"`
	AddRateWeight         float64     `yaml:"add_rate_weight" json:"add_rate_weight"`
	OwnershipWeight       float64     `yaml:"ownership_weight" json:"ownership_weight"`
	MaxIntensity          float64     `yaml:"max_intensity" json:"max_intensity"`
	MinSurvival           float64     `yaml:"min_survival" json:"min_survival"`
	DefaultLeagueActivity float64     `yaml:"default_league_activity" json:"default_league_activity"`
	AddNowRiskThreshold   float64     `yaml:"add_now_risk_threshold" json:"add_now_risk_threshold"`
}

// SchedulerConfig tunes the slot solver. Adjusted values are compared after
// rounding to ValueResolution: values closer than half a step count as equal
// and TieBreak decides between them.
type SchedulerConfig struct {
	TieBreak        string  `yaml:"tie_break" json:"tie_break"`
	ValueResolution float64 `yaml:"value_resolution" json:"value_resolution"`
}

type ContingencyConfig struct {
	TriggerTier      types.RiskTier `yaml:"trigger_tier" json:"trigger_tier"`
	SnipeRiskTrigger float64        `yaml:"snipe_risk_trigger" json:"snipe_risk_trigger"`
	MaxBackupTier    types.RiskTier `yaml:"max_backup_tier" json:"max_backup_tier"`
	DegradeTier      types.RiskTier `yaml:"degrade_tier" json:"degrade_tier"`
	MaxBackups       int            `yaml:"max_backups" json:"max_backups"`
}

// AddPolicyConfig tunes the minimum value of a new add, the emergency reserve
// and urgency ranking. Enabled gates the minimum values and the reserve;
// urgency ranks are always reported. Thresholds are in projected points.
type AddPolicyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	BaseThreshold     float64 `yaml:"base_threshold" json:"base_threshold"`
	DailyDecline      float64 `yaml:"daily_decline" json:"daily_decline"`
	OpeningPercentile float64 `yaml:"opening_percentile" json:"opening_percentile"`
	ClosingPercentile float64 `yaml:"closing_percentile" json:"closing_percentile"`
	FuturePercentile  float64 `yaml:"future_percentile" json:"future_percentile"`
	ScarceMultiplier  float64 `yaml:"scarce_multiplier" json:"scarce_multiplier"`
	AmpleAdds         int     `yaml:"ample_adds" json:"ample_adds"`
	AmpleMultiplier   float64 `yaml:"ample_multiplier" json:"ample_multiplier"`
	HistoryLimit      int     `yaml:"history_limit" json:"history_limit"`

	CostUnderage  float64 `yaml:"cost_underage" json:"cost_underage"`
	CostOverage   float64 `yaml:"cost_overage" json:"cost_overage"`
	EmergencyRate float64 `yaml:"emergency_rate" json:"emergency_rate"`
	InjuredRate   float64 `yaml:"injured_rate" json:"injured_rate"`
	DayToDayRate  float64 `yaml:"day_to_day_rate" json:"day_to_day_rate"`
	MaxEmergency  float64 `yaml:"max_emergency" json:"max_emergency"`
	MaxReserve    int     `yaml:"max_reserve" json:"max_reserve"`

	UrgencyBonus       float64 `yaml:"urgency_bonus" json:"urgency_bonus"`
	MultiDayMultiplier float64 `yaml:"multi_day_multiplier" json:"multi_day_multiplier"`
}

// DefaultEngineConfig returns the calibrated defaults
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Projection: ProjectionConfig{
			OpponentWeight:  0.5,
			ParkWeight:      0.5,
			WeatherWeight:   0.1,
			WeatherEventAdj: 0.08,
			BaseEventRate:   1.1,
			VarianceEpsilon: 1e-6,
		},
		Risk: RiskConfig{
			FloorQuantile:     0.10,
			CeilingQuantile:   0.90,
			VarianceEpsilon:   1e-6,
			DisasterThreshold: 3,
			BaselineVariance:  100,
			EventPenalty:      13,
			DisasterPenalty:   30,
			TierThresholds:    []float64{0.05, 0.10, 0.15, 0.25, 0.30},
			Preference: []PreferenceBand{
				{AboveDifferential: 30, Theta: 2.0},
				{AboveDifferential: 10, Theta: 0.5},
				{AboveDifferential: -10, Theta: 0.0},
				{AboveDifferential: -30, Theta: -1.0},
			},
			FallbackTheta:    -2.0,
			FinalDayMargin:   30,
			FinalDayTheta:    3.0,
			UtilityStdWeight: 0.5,
		},
		Bandit: BanditConfig{
			ContextDimension:    4,
			Lambda:              1.0,
			Alpha:               1.0,
			MaxConfidenceWidth:  10.0,
			MinExplorationScale: 0.1,
			MaxExplorationScale: 2.0,
			MaxCondition:        1e12,
		},
		Availability: AvailabilityConfig{
			Tiers: []SnipeTier{
				{Name: "elite", MinPercentile: 0.90, Intensity: 0.45},
				{Name: "high", MinPercentile: 0.70, Intensity: 0.28},
				{Name: "moderate", MinPercentile: 0.40, Intensity: 0.15},
				{Name: "low", MinPercentile: 0.15, Intensity: 0.08},
				{Name: "minimal", MinPercentile: 0, Intensity: 0.03},
			},
			AddRateWeight:         0.1,
			OwnershipWeight:       0.5,
			MaxIntensity:          3.0,
			MinSurvival:           0.01,
			DefaultLeagueActivity: 1.0,
			AddNowRiskThreshold:   0.20,
		},
		Scheduler: SchedulerConfig{
			TieBreak:        TieBreakDefer,
			ValueResolution: 1e-6,
		},
		Contingency: ContingencyConfig{
			TriggerTier:      types.RiskTierRisky,
			SnipeRiskTrigger: 0.15,
			MaxBackupTier:    types.RiskTierRisky,
			DegradeTier:      types.RiskTierDangerous,
			MaxBackups:       3,
		},
		AddPolicy: AddPolicyConfig{
			Enabled:            false,
			BaseThreshold:      40,
			DailyDecline:       0.1,
			OpeningPercentile:  90,
			ClosingPercentile:  50,
			FuturePercentile:   75,
			ScarceMultiplier:   1.2,
			AmpleAdds:          4,
			AmpleMultiplier:    0.9,
			HistoryLimit:       500,
			CostUnderage:       15,
			CostOverage:        5,
			EmergencyRate:      0.3,
			InjuredRate:        0.15,
			DayToDayRate:       0.20,
			MaxEmergency:       0.9,
			MaxReserve:         2,
			UrgencyBonus:       5,
			MultiDayMultiplier: 1.5,
		},
	}
}

// LoadEngineConfig overlays a YAML tuning file on the defaults and validates the result.
// An empty path yields the defaults.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects tuning that would make the engine misbehave silently
func (c *EngineConfig) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidEngineConfig, fmt.Sprintf(format, args...))
	}

	r := c.Risk
	if !(r.FloorQuantile > 0 && r.FloorQuantile < 0.5) {
		return invalid("risk.floor_quantile must be in (0, 0.5), got %v", r.FloorQuantile)
	}
	if !(r.CeilingQuantile > 0.5 && r.CeilingQuantile < 1) {
		return invalid("risk.ceiling_quantile must be in (0.5, 1), got %v", r.CeilingQuantile)
	}
	if r.VarianceEpsilon <= 0 {
		return invalid("risk.variance_epsilon must be positive")
	}
	if r.DisasterThreshold < 1 {
		return invalid("risk.disaster_threshold must be at least 1")
	}
	if r.EventPenalty <= 0 {
		return invalid("risk.event_penalty must be positive")
	}
	if len(r.TierThresholds) != int(types.RiskTierNoGo) {
		return invalid("risk.tier_thresholds needs %d values, got %d", int(types.RiskTierNoGo), len(r.TierThresholds))
	}
	for i, th := range r.TierThresholds {
		if math.IsNaN(th) || th < 0 || th > 1 {
			return invalid("risk.tier_thresholds[%d]=%v outside [0, 1]", i, th)
		}
		if i > 0 && th <= r.TierThresholds[i-1] {
			return invalid("risk.tier_thresholds must be strictly ascending")
		}
	}
	if !sort.SliceIsSorted(r.Preference, func(i, j int) bool {
		return r.Preference[i].AboveDifferential > r.Preference[j].AboveDifferential
	}) {
		return invalid("risk.preference bands must be ordered by descending differential")
	}

	b := c.Bandit
	if b.ContextDimension < 0 {
		return invalid("bandit.context_dimension must be non-negative")
	}
	if b.Lambda <= 0 {
		return invalid("bandit.lambda must be positive")
	}
	if b.Alpha < 0 {
		return invalid("bandit.alpha must be non-negative")
	}
	if b.MaxConfidenceWidth <= 0 {
		return invalid("bandit.max_confidence_width must be positive")
	}
	if b.MinExplorationScale < 0 || b.MaxExplorationScale < b.MinExplorationScale {
		return invalid("bandit exploration scale bounds are inconsistent")
	}

	a := c.Availability
	if len(a.Tiers) == 0 {
		return invalid("availability.tiers must not be empty")
	}
	for i, tier := range a.Tiers {
		if tier.Intensity < 0 {
			return invalid("availability.tiers[%d] intensity is negative", i)
		}
		if i > 0 && tier.MinPercentile >= a.Tiers[i-1].MinPercentile {
			return invalid("availability.tiers must be ordered by descending min_percentile")
		}
	}
	if a.Tiers[len(a.Tiers)-1].MinPercentile > 0 {
		return invalid("availability.tiers must end with a tier covering percentile 0")
	}
	if a.MinSurvival <= 0 || a.MinSurvival >= 1 {
		return invalid("availability.min_survival must be in (0, 1)")
	}
	if a.MaxIntensity <= 0 {
		return invalid("availability.max_intensity must be positive")
	}

	s := c.Scheduler
	if s.TieBreak != TieBreakDefer && s.TieBreak != TieBreakEarliest {
		return invalid("scheduler.tie_break must be %q or %q, got %q", TieBreakDefer, TieBreakEarliest, s.TieBreak)
	}
	if s.ValueResolution <= 0 {
		return invalid("scheduler.value_resolution must be positive")
	}

	k := c.Contingency
	if k.MaxBackups < 0 {
		return invalid("contingency.max_backups must be non-negative")
	}
	if k.MaxBackupTier >= types.RiskTierNoGo {
		return invalid("contingency.max_backup_tier cannot admit NO_GO backups")
	}

	ap := c.AddPolicy
	for name, pct := range map[string]float64{
		"opening_percentile": ap.OpeningPercentile,
		"closing_percentile": ap.ClosingPercentile,
		"future_percentile":  ap.FuturePercentile,
	} {
		if pct < 0 || pct > 100 {
			return invalid("add_policy.%s must be in [0, 100], got %v", name, pct)
		}
	}
	if ap.CostUnderage <= 0 || ap.CostOverage <= 0 {
		return invalid("add_policy costs must be positive")
	}
	if ap.MaxEmergency <= 0 || ap.MaxEmergency >= 1 {
		return invalid("add_policy.max_emergency must be in (0, 1)")
	}
	if ap.MaxReserve < 0 || ap.HistoryLimit < 0 {
		return invalid("add_policy.max_reserve and history_limit must be non-negative")
	}

	return nil
}
