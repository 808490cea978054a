package addpolicy

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

func enabledConfig() config.AddPolicyConfig {
	cfg := config.DefaultEngineConfig().AddPolicy
	cfg.Enabled = true
	return cfg
}

func newTestPolicy(cfg config.AddPolicyConfig) *Policy {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return NewPolicy(cfg, log)
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestThresholdDeclinesWithoutHistory(t *testing.T) {
	th := NewThresholds(enabledConfig(), nil)

	assert.InDelta(t, 40, th.Threshold(0, 3), 1e-9)
	assert.InDelta(t, 28, th.Threshold(3, 3), 1e-9)
	assert.InDelta(t, 16, th.Threshold(6, 3), 1e-9)

	assert.InDelta(t, 40*2.0/3, th.OptionValue(0, 3), 1e-9)
	assert.InDelta(t, 40*2.0/3*3/6, th.OptionValue(3, 3), 1e-9)
	assert.Zero(t, th.OptionValue(6, 3), "nothing to wait for on the last day")
	assert.Zero(t, th.OptionValue(0, 1), "the last add has no option value")
}

func TestThresholdFollowsRealizedPoints(t *testing.T) {
	th := NewThresholds(enabledConfig(), flat(20, 10))

	assert.InDelta(t, 10, th.Threshold(0, 2), 1e-9)
	assert.InDelta(t, 12, th.Threshold(0, 1), 1e-9, "a last add is more precious")
	assert.InDelta(t, 9, th.Threshold(0, 5), 1e-9, "plenty of adds lowers the bar")
	assert.InDelta(t, 5, th.OptionValue(0, 2), 1e-9)

	spread := make([]float64, 100)
	for i := range spread {
		spread[i] = float64(100 - i)
	}
	th = NewThresholds(enabledConfig(), spread)
	assert.Greater(t, th.Threshold(0, 2), th.Threshold(3, 2))
	assert.Greater(t, th.Threshold(3, 2), th.Threshold(6, 2))
}

func TestThresholdUsesRecentHistoryOnly(t *testing.T) {
	cfg := enabledConfig()
	cfg.HistoryLimit = 5
	history := append(flat(50, 100), flat(5, 8)...)

	assert.InDelta(t, 8, NewThresholds(cfg, history).Threshold(0, 2), 1e-9)
}

func TestLimits(t *testing.T) {
	t.Run("disabled policy sets no limits", func(t *testing.T) {
		p := newTestPolicy(config.DefaultEngineConfig().AddPolicy)
		assert.Equal(t, types.AddLimits{}, p.Limits(0, 4, flat(10, 10), types.RosterStatus{InjuredList: 3}))
	})

	t.Run("enabled policy bars remaining days", func(t *testing.T) {
		p := newTestPolicy(enabledConfig())
		limits := p.Limits(2, 3, nil, types.RosterStatus{})

		assert.Zero(t, limits.MinValue[0])
		assert.Zero(t, limits.MinValue[1])
		assert.InDelta(t, 32+40*2.0/3*4/6, limits.MinValue[2], 1e-9)
		assert.InDelta(t, 16, limits.MinValue[6], 1e-9)
		assert.Equal(t, 1, limits.ReserveUnits)
		assert.Equal(t, 15.0, limits.ReserveValue)
	})

	t.Run("no adds left", func(t *testing.T) {
		p := newTestPolicy(enabledConfig())
		assert.Equal(t, types.AddLimits{}, p.Limits(2, 0, nil, types.RosterStatus{}))
	})
}

func TestReserveTarget(t *testing.T) {
	p := newTestPolicy(enabledConfig())
	require.InDelta(t, 0.75, p.CriticalFractile(), 1e-12)

	tests := []struct {
		name   string
		rate   float64
		roster types.RosterStatus
		want   int
	}{
		{"no emergency risk", 0, types.RosterStatus{}, 0},
		{"low base rate", 0.2, types.RosterStatus{}, 0},
		{"default base rate", 0.3, types.RosterStatus{}, 1},
		{"two injured players", 0.3, types.RosterStatus{InjuredList: 2}, 1},
		{"injured and day to day", 0.3, types.RosterStatus{InjuredList: 2, DayToDay: 1}, 2},
		{"capped", 0.3, types.RosterStatus{InjuredList: 9, DayToDay: 9}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			cfg.EmergencyRate = tt.rate
			assert.Equal(t, tt.want, newTestPolicy(cfg).ReserveTarget(tt.roster))
		})
	}

	assert.InDelta(t, 0.9, p.EmergencyProbability(types.RosterStatus{InjuredList: 9}), 1e-12)
}

func ranked(id string, tier types.RiskTier, values map[int]float64) types.ScoredCandidate {
	sc := types.ScoredCandidate{Candidate: types.Candidate{ID: types.CandidateID(id)}, RiskTier: tier}
	for d := 0; d < types.DaysPerWeek; d++ {
		v, ok := values[d]
		if !ok {
			continue
		}
		sc.ScheduledDays = append(sc.ScheduledDays, d)
		sc.Days = append(sc.Days, types.DayScore{Day: d, RiskTier: tier, Bandit: types.BanditScore{Total: v}})
	}
	return sc
}

func TestRankByUrgency(t *testing.T) {
	p := newTestPolicy(config.DefaultEngineConfig().AddPolicy)
	pool := []types.ScoredCandidate{
		ranked("later", types.RiskTierSafe, map[int]float64{5: 20}),
		ranked("twice", types.RiskTierSafe, map[int]float64{2: 12, 4: 12}),
		ranked("soon", types.RiskTierSafe, map[int]float64{1: 10}),
		ranked("gone", types.RiskTierSafe, map[int]float64{0: 30}),
		ranked("blowup", types.RiskTierNoGo, map[int]float64{3: 50}),
	}

	ranks := p.RankByUrgency(pool, 1)
	require.Len(t, ranks, 3)

	assert.Equal(t, types.CandidateID("soon"), ranks[0].CandidateID)
	assert.Equal(t, 1, ranks[0].DaysLeft)
	assert.InDelta(t, 15, ranks[0].Score, 1e-9)

	assert.Equal(t, types.CandidateID("twice"), ranks[1].CandidateID)
	assert.True(t, ranks[1].MultiDay)
	assert.Equal(t, 4, ranks[1].DaysLeft)
	assert.InDelta(t, (12+5.0/4)/4*1.5, ranks[1].Score, 1e-9)

	assert.Equal(t, types.CandidateID("later"), ranks[2].CandidateID)
	assert.InDelta(t, (20+1.0)/5, ranks[2].Score, 1e-9)

	assert.Zero(t, p.UrgencyScore(10, 0, false))
}
