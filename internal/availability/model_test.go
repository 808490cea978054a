package availability

import (
	"fmt"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

func newTestModel() *Model {
	return NewModel(config.DefaultEngineConfig().Availability, logrus.New())
}

func scored(id string, peak float64, market types.MarketSignal) types.ScoredCandidate {
	return types.ScoredCandidate{
		Candidate: types.Candidate{ID: types.CandidateID(id), Market: market},
		Days:      []types.DayScore{{Day: 3, ExpectedValue: peak}},
	}
}

func TestSurvivalMonotoneNonIncreasing(t *testing.T) {
	m := newTestModel()

	for _, rate := range []float64{0, 0.03, 0.15, 0.45, 3, math.Inf(1)} {
		prev := 1.0
		for dt := -1.0; dt <= 7; dt += 0.25 {
			s := m.SurvivalProbability(rate, dt)
			assert.LessOrEqual(t, s, prev, "survival increased at rate=%v dt=%v", rate, dt)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
			prev = s
		}
	}
}

func TestSurvivalEdgeCases(t *testing.T) {
	m := newTestModel()
	cfg := config.DefaultEngineConfig().Availability

	assert.Equal(t, 1.0, m.SurvivalProbability(0, 5), "zero intensity never gets sniped")
	assert.Equal(t, 1.0, m.SurvivalProbability(0.4, 0), "no waiting means no snipe risk")
	assert.Equal(t, 1.0, m.SurvivalProbability(0.4, -2))
	assert.Equal(t, cfg.MinSurvival, m.SurvivalProbability(math.Inf(1), 1), "infinite intensity clamps to the floor")
	assert.InDelta(t, math.Exp(-0.45*2), m.SurvivalProbability(0.45, 2), 1e-12)
}

func TestHazardRatesFollowValueTier(t *testing.T) {
	m := newTestModel()

	var pool []types.ScoredCandidate
	for i := 0; i < 20; i++ {
		pool = append(pool, scored(fmt.Sprintf("c%02d", i), float64(i), types.MarketSignal{}))
	}

	rates := m.HazardRates(pool, 1.0)
	require.Len(t, rates, 20)

	assert.Equal(t, "elite", rates["c19"].Tier)
	assert.InDelta(t, 0.45, rates["c19"].Rate, 1e-12)
	assert.Equal(t, "minimal", rates["c00"].Tier)
	assert.InDelta(t, 0.03, rates["c00"].Rate, 1e-12)

	for i := 1; i < 20; i++ {
		lower := rates[types.CandidateID(fmt.Sprintf("c%02d", i-1))].Rate
		higher := rates[types.CandidateID(fmt.Sprintf("c%02d", i))].Rate
		assert.LessOrEqual(t, lower, higher, "more valuable candidates should not be safer from snipes")
	}
}

func TestHazardRatesScaleWithActivity(t *testing.T) {
	m := newTestModel()
	pool := []types.ScoredCandidate{
		scored("quiet", 10, types.MarketSignal{}),
		scored("hot", 10, types.MarketSignal{AddRate: 5, OwnershipPct: 40}),
	}

	calm := m.HazardRates(pool, 1.0)
	busy := m.HazardRates(pool, 2.0)

	assert.Greater(t, calm["hot"].Rate, calm["quiet"].Rate, "trending adds should raise intensity")
	assert.InDelta(t, 2*calm["quiet"].Rate, busy["quiet"].Rate, 1e-12)

	defaulted := m.HazardRates(pool, 0)
	assert.Equal(t, calm["quiet"].Rate, defaulted["quiet"].Rate, "missing league activity uses the default")

	capped := m.HazardRates(pool, 1000)
	assert.Equal(t, config.DefaultEngineConfig().Availability.MaxIntensity, capped["hot"].Rate)
}

func TestAdviseAddNow(t *testing.T) {
	m := newTestModel()

	wait := m.AdviseAddNow(0.03, 2, 12, 3)
	assert.False(t, wait.AddNow, "low intensity should wait")

	now := m.AdviseAddNow(0.45, 3, 20, 3)
	assert.True(t, now.AddNow)
	assert.InDelta(t, 1-math.Exp(-1.35), now.SnipeRisk, 1e-12)
	assert.InDelta(t, now.SnipeRisk*20, now.ExpectedLoss, 1e-12)
}
