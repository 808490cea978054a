package bandit

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

var (
	// ErrFeatureDimension is returned when a context vector has the wrong length
	ErrFeatureDimension = errors.New("feature dimension mismatch")
	// ErrInvalidFeatures is returned for NaN or infinite features
	ErrInvalidFeatures = errors.New("invalid features")
)

// WeekProgress describes how much of the week's budget and time is left
type WeekProgress struct {
	RemainingBudget int `json:"remaining_budget"`
	TotalBudget     int `json:"total_budget"`
	RemainingDays   int `json:"remaining_days"`
	TotalDays       int `json:"total_days"`
}

// Observation is one delayed reward for a previously scored feature vector
type Observation struct {
	CandidateID types.CandidateID `json:"candidate_id"`
	Features    []float64         `json:"features"`
	Reward      float64           `json:"reward"`
}

// Estimator is a shared ridge-regularized linear UCB model whose prior
// expects the reward to equal the risk-adjusted utility feature. The
// exploration bonus scales with how fast the weekly budget is being spent
// relative to the days left.
type Estimator struct {
	config config.BanditConfig
	logger *logrus.Entry

	mu           sync.Mutex
	dim          int
	design       *mat.SymDense
	response     *mat.VecDense
	prior        *mat.VecDense
	observed     map[types.CandidateID]bool
	observations int

	// cached factorization, rebuilt after updates
	dirty    bool
	usable   bool
	chol     mat.Cholesky
	theta    *mat.VecDense
	lastCond float64
}

// NewEstimator creates a cold estimator with the configured ridge prior
func NewEstimator(cfg config.BanditConfig, logger *logrus.Logger) *Estimator {
	dim := cfg.ContextDimension + 2
	design := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		design.SetSym(i, i, cfg.Lambda)
	}
	return newEstimator(cfg, logger, design, mat.NewVecDense(dim, nil), nil, 0)
}

// NewEstimatorFromParams restores an estimator from exported parameters
func NewEstimatorFromParams(cfg config.BanditConfig, params types.BanditParams, logger *logrus.Logger) (*Estimator, error) {
	dim := cfg.ContextDimension + 2
	if params.Dimension != dim {
		return nil, fmt.Errorf("restore bandit params: %w: have %d, want %d", ErrFeatureDimension, params.Dimension, dim)
	}
	if len(params.Design) != dim*dim || len(params.Response) != dim {
		return nil, fmt.Errorf("restore bandit params: %w: design/response sizes do not match dimension %d", ErrFeatureDimension, dim)
	}

	design := mat.NewSymDense(dim, append([]float64(nil), params.Design...))
	response := mat.NewVecDense(dim, append([]float64(nil), params.Response...))
	return newEstimator(cfg, logger, design, response, params.Observed, params.Observations), nil
}

func newEstimator(cfg config.BanditConfig, logger *logrus.Logger, design *mat.SymDense, response *mat.VecDense, observed []string, observations int) *Estimator {
	dim := cfg.ContextDimension + 2
	prior := mat.NewVecDense(dim, nil)
	prior.SetVec(dim-1, 1)

	seen := make(map[types.CandidateID]bool, len(observed))
	for _, id := range observed {
		seen[types.CandidateID(id)] = true
	}

	return &Estimator{
		config:       cfg,
		logger:       logger.WithField("component", "bandit"),
		dim:          dim,
		design:       design,
		response:     response,
		prior:        prior,
		observed:     seen,
		observations: observations,
		dirty:        true,
	}
}

// Dimension is the length of the feature vectors the estimator accepts
func (e *Estimator) Dimension() int {
	return e.dim
}

// Features builds the model's feature vector: a bias term, the candidate's
// context, and the risk-adjusted utility of the day.
func (e *Estimator) Features(context []float64, utility float64) ([]float64, error) {
	if len(context) != e.config.ContextDimension {
		return nil, fmt.Errorf("%w: context has %d values, want %d", ErrFeatureDimension, len(context), e.config.ContextDimension)
	}
	x := make([]float64, 0, e.dim)
	x = append(x, 1)
	x = append(x, context...)
	x = append(x, utility)
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrInvalidFeatures
		}
	}
	return x, nil
}

// Score returns the point estimate and budget-aware optimistic bonus for a feature vector.
// It never fails on numerical trouble: a singular design falls back to the prior.
func (e *Estimator) Score(id types.CandidateID, features []float64, progress WeekProgress) (types.BanditScore, error) {
	if len(features) != e.dim {
		return types.BanditScore{}, fmt.Errorf("%w: got %d features, want %d", ErrFeatureDimension, len(features), e.dim)
	}
	x := mat.NewVecDense(e.dim, append([]float64(nil), features...))
	scale := e.explorationScale(progress)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.observed[id] {
		return e.priorScore(x, scale, true), nil
	}

	e.refresh()
	if !e.usable {
		return e.priorScore(x, scale, false), nil
	}

	point := mat.Dot(e.theta, x)

	var z mat.VecDense
	if err := e.chol.SolveVecTo(&z, x); err != nil {
		e.logger.WithError(err).Warn("Confidence width solve failed, using prior")
		return e.priorScore(x, scale, false), nil
	}
	width := math.Sqrt(math.Max(0, mat.Dot(x, &z)))
	width = math.Min(width, e.config.MaxConfidenceWidth)
	bonus := e.config.Alpha * scale * width

	return types.BanditScore{
		Point: point,
		Width: width,
		Bonus: bonus,
		Total: point + bonus,
	}, nil
}

func (e *Estimator) priorScore(x *mat.VecDense, scale float64, coldStart bool) types.BanditScore {
	point := mat.Dot(e.prior, x)
	width := e.config.MaxConfidenceWidth
	bonus := e.config.Alpha * scale * width
	return types.BanditScore{
		Point:     point,
		Width:     width,
		Bonus:     bonus,
		Total:     point + bonus,
		ColdStart: coldStart,
	}
}

// explorationScale is the budget-to-time ratio clamped to the configured range.
// Spending slower than time passes raises exploration; no days left means minimum.
func (e *Estimator) explorationScale(p WeekProgress) float64 {
	lo, hi := e.config.MinExplorationScale, e.config.MaxExplorationScale
	if p.RemainingDays <= 0 || p.TotalDays <= 0 {
		return lo
	}
	budgetRatio := 0.0
	if p.TotalBudget > 0 {
		budgetRatio = float64(p.RemainingBudget) / float64(p.TotalBudget)
	}
	timeRatio := float64(p.RemainingDays) / float64(p.TotalDays)
	return math.Max(lo, math.Min(hi, budgetRatio/timeRatio))
}

// refresh recomputes the factorization and coefficients after updates. Caller holds mu.
func (e *Estimator) refresh() {
	if !e.dirty {
		return
	}
	e.dirty = false
	e.usable = false

	if ok := e.chol.Factorize(e.design); !ok {
		e.logger.WithField("observations", e.observations).Warn("Design matrix is not positive definite, falling back to prior")
		return
	}
	e.lastCond = e.chol.Cond()
	if e.config.MaxCondition > 0 && e.lastCond > e.config.MaxCondition {
		e.logger.WithFields(logrus.Fields{
			"condition":    e.lastCond,
			"observations": e.observations,
		}).Warn("Design matrix is ill-conditioned, falling back to prior")
		return
	}

	rhs := mat.NewVecDense(e.dim, nil)
	rhs.AddScaledVec(e.response, e.config.Lambda, e.prior)

	theta := mat.NewVecDense(e.dim, nil)
	if err := e.chol.SolveVecTo(theta, rhs); err != nil {
		e.logger.WithError(err).Warn("Coefficient solve failed, falling back to prior")
		return
	}
	e.theta = theta
	e.usable = true
}

// Update folds one realized reward into the shared model
func (e *Estimator) Update(obs Observation) error {
	if len(obs.Features) != e.dim {
		return fmt.Errorf("%w: got %d features, want %d", ErrFeatureDimension, len(obs.Features), e.dim)
	}
	if math.IsNaN(obs.Reward) || math.IsInf(obs.Reward, 0) {
		return fmt.Errorf("%w: reward %v", ErrInvalidFeatures, obs.Reward)
	}
	x := mat.NewVecDense(e.dim, append([]float64(nil), obs.Features...))

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < e.dim; i++ {
		for j := i; j < e.dim; j++ {
			e.design.SetSym(i, j, e.design.At(i, j)+x.AtVec(i)*x.AtVec(j))
		}
	}
	e.response.AddScaledVec(e.response, obs.Reward, x)
	e.observed[obs.CandidateID] = true
	e.observations++
	e.dirty = true

	e.logger.WithFields(logrus.Fields{
		"candidate_id": obs.CandidateID,
		"reward":       obs.Reward,
		"observations": e.observations,
	}).Debug("Bandit updated")

	return nil
}

// Observed reports whether a candidate has contributed feedback
func (e *Estimator) Observed(id types.CandidateID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observed[id]
}

// Params exports the estimator state for carrying across weeks
func (e *Estimator) Params() types.BanditParams {
	e.mu.Lock()
	defer e.mu.Unlock()

	design := make([]float64, 0, e.dim*e.dim)
	for i := 0; i < e.dim; i++ {
		for j := 0; j < e.dim; j++ {
			design = append(design, e.design.At(i, j))
		}
	}
	observed := make([]string, 0, len(e.observed))
	for id := range e.observed {
		observed = append(observed, string(id))
	}
	sort.Strings(observed)

	return types.BanditParams{
		Dimension:    e.dim,
		Lambda:       e.config.Lambda,
		Design:       design,
		Response:     append([]float64(nil), e.response.RawVector().Data...),
		Observed:     observed,
		Observations: e.observations,
	}
}
