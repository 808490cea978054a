package bandit

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

var midWeek = WeekProgress{RemainingBudget: 4, TotalBudget: 7, RemainingDays: 4, TotalDays: 7}

func newTestEstimator() *Estimator {
	return NewEstimator(config.DefaultEngineConfig().Bandit, logrus.New())
}

func TestColdStartUsesPriorWithMaximalWidth(t *testing.T) {
	e := newTestEstimator()
	cfg := config.DefaultEngineConfig().Bandit

	x, err := e.Features([]float64{0.4, 0.6, 0.5, 0.2}, 13.5)
	require.NoError(t, err)

	score, err := e.Score("rookie", x, midWeek)
	require.NoError(t, err)

	assert.True(t, score.ColdStart)
	assert.Equal(t, cfg.MaxConfidenceWidth, score.Width, "a never-updated candidate should get the widest interval")
	assert.InDelta(t, 13.5, score.Point, 1e-12, "prior estimate should equal the risk-adjusted utility")
	assert.InDelta(t, score.Point+score.Bonus, score.Total, 1e-12)
}

func TestColdStartWidthIsMaximalAmongCandidates(t *testing.T) {
	e := newTestEstimator()
	veteran, err := e.Features([]float64{0.5, 0.5, 0.5, 0.5}, 12)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Update(Observation{CandidateID: "veteran", Features: veteran, Reward: 11}))
	}

	warm, err := e.Score("veteran", veteran, midWeek)
	require.NoError(t, err)
	cold, err := e.Score("rookie", veteran, midWeek)
	require.NoError(t, err)

	assert.False(t, warm.ColdStart)
	assert.Less(t, warm.Width, cold.Width)
	assert.Greater(t, cold.Bonus, warm.Bonus)
}

func TestUpdatesPullEstimateTowardRewards(t *testing.T) {
	e := newTestEstimator()
	x, err := e.Features([]float64{0.5, 0.5, 0.5, 0.5}, 10)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Update(Observation{CandidateID: "ace", Features: x, Reward: 20}))
	}

	score, err := e.Score("ace", x, midWeek)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, score.Point, 0.05)
	assert.Less(t, score.Width, 1.0)
	assert.True(t, e.Observed("ace"))
}

func TestExplorationScalesWithBudgetPace(t *testing.T) {
	e := newTestEstimator()
	x, err := e.Features([]float64{0, 0, 0, 0}, 8)
	require.NoError(t, err)

	hoarding, err := e.Score("c", x, WeekProgress{RemainingBudget: 7, TotalBudget: 7, RemainingDays: 2, TotalDays: 7})
	require.NoError(t, err)
	onPace, err := e.Score("c", x, midWeek)
	require.NoError(t, err)
	spent, err := e.Score("c", x, WeekProgress{RemainingBudget: 1, TotalBudget: 7, RemainingDays: 6, TotalDays: 7})
	require.NoError(t, err)
	over, err := e.Score("c", x, WeekProgress{RemainingBudget: 3, TotalBudget: 7, RemainingDays: 0, TotalDays: 7})
	require.NoError(t, err)

	cfg := config.DefaultEngineConfig().Bandit
	assert.InDelta(t, cfg.Alpha*cfg.MaxExplorationScale*cfg.MaxConfidenceWidth, hoarding.Bonus, 1e-9, "scale should clamp at the maximum")
	assert.InDelta(t, cfg.Alpha*1.0*cfg.MaxConfidenceWidth, onPace.Bonus, 1e-9)
	assert.Less(t, spent.Bonus, onPace.Bonus)
	assert.InDelta(t, cfg.Alpha*cfg.MinExplorationScale*cfg.MaxConfidenceWidth, over.Bonus, 1e-9, "no days left should use the minimum scale")
}

func TestSingularDesignFallsBackToPrior(t *testing.T) {
	cfg := config.DefaultEngineConfig().Bandit
	dim := cfg.ContextDimension + 2
	params := types.BanditParams{
		Dimension: dim,
		Design:    make([]float64, dim*dim),
		Response:  make([]float64, dim),
		Observed:  []string{"broken"},
	}

	e, err := NewEstimatorFromParams(cfg, params, logrus.New())
	require.NoError(t, err)

	x, err := e.Features([]float64{1, 1, 1, 1}, 9)
	require.NoError(t, err)
	score, err := e.Score("broken", x, midWeek)
	require.NoError(t, err, "a singular design must not fail scoring")

	assert.False(t, score.ColdStart)
	assert.InDelta(t, 9.0, score.Point, 1e-12)
	assert.Equal(t, cfg.MaxConfidenceWidth, score.Width)
}

func TestFeatureDimensionChecks(t *testing.T) {
	e := newTestEstimator()

	_, err := e.Features([]float64{1, 2}, 5)
	assert.True(t, errors.Is(err, ErrFeatureDimension))

	_, err = e.Score("x", []float64{1, 2, 3}, midWeek)
	assert.True(t, errors.Is(err, ErrFeatureDimension))

	err = e.Update(Observation{CandidateID: "x", Features: []float64{1}, Reward: 3})
	assert.True(t, errors.Is(err, ErrFeatureDimension))
}

func TestParamsRoundTripPreservesScores(t *testing.T) {
	cfg := config.DefaultEngineConfig().Bandit
	e := newTestEstimator()
	a, _ := e.Features([]float64{0.2, 0.9, 0.1, 0.7}, 14)
	b, _ := e.Features([]float64{0.8, 0.1, 0.6, 0.3}, 6)
	require.NoError(t, e.Update(Observation{CandidateID: "a", Features: a, Reward: 17}))
	require.NoError(t, e.Update(Observation{CandidateID: "b", Features: b, Reward: 2}))

	restored, err := NewEstimatorFromParams(cfg, e.Params(), logrus.New())
	require.NoError(t, err)

	for _, id := range []types.CandidateID{"a", "b", "c"} {
		want, err := e.Score(id, a, midWeek)
		require.NoError(t, err)
		got, err := restored.Score(id, a, midWeek)
		require.NoError(t, err)
		assert.InDelta(t, want.Total, got.Total, 1e-9, "candidate %s", id)
		assert.Equal(t, want.ColdStart, got.ColdStart)
	}
	assert.Equal(t, 2, restored.Params().Observations)
}
