package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/internal/addpolicy"
	"github.com/stitts-dev/stream-planner/internal/availability"
	"github.com/stitts-dev/stream-planner/internal/bandit"
	"github.com/stitts-dev/stream-planner/internal/contingency"
	"github.com/stitts-dev/stream-planner/internal/projection"
	"github.com/stitts-dev/stream-planner/internal/risk"
	"github.com/stitts-dev/stream-planner/internal/scheduler"
	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// ReasonIncompleteContext marks candidates whose context vector cannot be scored
const ReasonIncompleteContext = "incomplete_context"

// Input is one solve's worth of data and week limits. History holds
// realized points of earlier adds, oldest first.
type Input struct {
	Snapshot    types.Snapshot
	Budget      int
	Capacity    [types.DaysPerWeek]int
	Commitments []types.Commitment
	Now         int
	History     []float64
}

// Result is the pipeline output
type Result struct {
	Plan          types.Plan               `json:"plan"`
	Contingencies []types.ContingencyEntry `json:"contingencies"`
	Scored        []types.ScoredCandidate  `json:"scored"`
	Theta         float64                  `json:"theta"`
	Limits        types.AddLimits          `json:"limits"`
	Urgency       []types.UrgencyRank      `json:"urgency"`
}

// Pipeline runs normalizer, risk, bandit, availability, add policy, scheduler
// and contingency in order. It reads the estimator but never updates it.
type Pipeline struct {
	normalizer   *projection.Normalizer
	risk         *risk.Model
	estimator    *bandit.Estimator
	availability *availability.Model
	policy       *addpolicy.Policy
	scheduler    *scheduler.Scheduler
	contingency  *contingency.Planner
	logger       *logrus.Entry
}

// NewPipeline wires the engine components from one configuration
func NewPipeline(cfg *config.EngineConfig, estimator *bandit.Estimator, logger *logrus.Logger) *Pipeline {
	avail := availability.NewModel(cfg.Availability, logger)
	sched := scheduler.NewScheduler(cfg.Scheduler, avail, logger)
	return &Pipeline{
		normalizer:   projection.NewNormalizer(cfg.Projection, logger),
		risk:         risk.NewModel(cfg.Risk, logger),
		estimator:    estimator,
		availability: avail,
		policy:       addpolicy.NewPolicy(cfg.AddPolicy, logger),
		scheduler:    sched,
		contingency:  contingency.NewPlanner(cfg.Contingency, sched, logger),
		logger:       logger.WithField("component", "pipeline"),
	}
}

// Run scores the snapshot and solves the schedule for day in.Now
func (p *Pipeline) Run(in Input) (Result, error) {
	progress := bandit.WeekProgress{
		RemainingBudget: in.Budget - len(in.Commitments),
		TotalBudget:     in.Budget,
		RemainingDays:   types.DaysPerWeek - in.Now,
		TotalDays:       types.DaysPerWeek,
	}
	theta := p.risk.Theta(in.Snapshot.Matchup, types.DaysPerWeek-in.Now)

	var pool []types.ScoredCandidate
	var dropped []types.Exclusion
	for _, c := range in.Snapshot.Candidates {
		sc, err := p.score(c, in.Now, theta, progress)
		if err != nil {
			dropped = append(dropped, types.Exclusion{CandidateID: c.ID, Day: -1, Reason: ReasonIncompleteContext})
			p.logger.WithFields(logrus.Fields{
				"candidate_id": c.ID,
				"error":        err.Error(),
			}).Warn("Excluding candidate with unusable context")
			continue
		}
		if len(sc.Days) == 0 {
			dropped = append(dropped, sc.Exclusions...)
			continue
		}
		pool = append(pool, sc)
	}

	hazards := p.availability.HazardRates(pool, in.Snapshot.LeagueActivity)
	for i := range pool {
		h := hazards[pool[i].ID]
		pool[i].HazardRate = h.Rate
		pool[i].SnipeTier = h.Tier
	}

	limits := p.policy.Limits(in.Now, progress.RemainingBudget, in.History, in.Snapshot.Matchup.Roster)

	plan, err := p.scheduler.Solve(scheduler.Request{
		Candidates:  pool,
		Budget:      in.Budget,
		Capacity:    in.Capacity,
		Commitments: in.Commitments,
		Now:         in.Now,
		MinValue:    limits.MinValue,
		Reserve:     scheduler.Reserve{Units: limits.ReserveUnits, Value: limits.ReserveValue},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to solve schedule for day %d: %w", in.Now, err)
	}

	if len(dropped) > 0 {
		sort.SliceStable(dropped, func(i, j int) bool {
			if dropped[i].CandidateID != dropped[j].CandidateID {
				return dropped[i].CandidateID < dropped[j].CandidateID
			}
			return dropped[i].Day < dropped[j].Day
		})
		plan.Excluded = append(plan.Excluded, dropped...)
	}
	p.flagEarlyAdds(&plan, hazards, in.Now)

	contingencies := p.contingency.Plan(plan, pool, in.Now)

	p.logger.WithFields(logrus.Fields{
		"plan_id":       plan.ID,
		"day":           in.Now,
		"theta":         theta,
		"scored":        len(pool),
		"entries":       len(plan.Entries),
		"reserve_units": limits.ReserveUnits,
		"contingencies": len(contingencies),
	}).Info("Pipeline run complete")

	return Result{
		Plan:          plan,
		Contingencies: contingencies,
		Scored:        pool,
		Theta:         theta,
		Limits:        limits,
		Urgency:       p.policy.RankByUrgency(pool, in.Now),
	}, nil
}

// flagEarlyAdds marks future entries whose snipe risk before their day
// outweighs holding the slot from today
func (p *Pipeline) flagEarlyAdds(plan *types.Plan, hazards map[types.CandidateID]availability.Hazard, now int) {
	for i := range plan.Entries {
		e := &plan.Entries[i]
		if e.Committed || e.Day <= now {
			continue
		}
		advice := p.availability.AdviseAddNow(hazards[e.CandidateID].Rate, float64(e.Day-now), e.BanditScore, 0)
		e.AddNow = advice.AddNow
	}
}

// score runs the per-candidate passes for every remaining scheduled day
func (p *Pipeline) score(c types.Candidate, now int, theta float64, progress bandit.WeekProgress) (types.ScoredCandidate, error) {
	estimates, exclusions := p.normalizer.Normalize(c)

	sc := types.ScoredCandidate{Candidate: c, Exclusions: exclusions, RiskTier: types.RiskTierNoGo}
	for _, est := range estimates {
		if est.Day < now {
			continue
		}
		a := p.risk.Score(est.ExpectedValue, est.Variance, est.EventRate)
		utility := p.risk.Utility(a, theta)

		x, err := p.estimator.Features(c.Context, utility)
		if err != nil {
			return sc, err
		}
		score, err := p.estimator.Score(c.ID, x, progress)
		if err != nil {
			return sc, err
		}

		sc.Days = append(sc.Days, types.DayScore{
			Day:                 est.Day,
			ExpectedValue:       a.ExpectedValue,
			Variance:            est.Variance,
			Floor:               a.Floor,
			Ceiling:             a.Ceiling,
			DisasterProbability: a.DisasterProbability,
			RiskTier:            a.Tier,
			Utility:             utility,
			Bandit:              score,
			Features:            x,
		})
	}

	// candidate-level view is the best remaining day: a candidate is NO_GO
	// only when every remaining day is
	sc.Floor, sc.Ceiling, sc.DisasterProbability = math.Inf(1), math.Inf(-1), 1
	for _, ds := range sc.Days {
		sc.Floor = math.Min(sc.Floor, ds.Floor)
		sc.Ceiling = math.Max(sc.Ceiling, ds.Ceiling)
		sc.DisasterProbability = math.Min(sc.DisasterProbability, ds.DisasterProbability)
		if ds.RiskTier < sc.RiskTier {
			sc.RiskTier = ds.RiskTier
		}
	}
	if len(sc.Days) == 0 {
		sc.Floor, sc.Ceiling = 0, 0
	}
	return sc, nil
}

// IsInfeasible reports whether err is a fatal scheduling infeasibility
func IsInfeasible(err error) bool {
	return errors.Is(err, scheduler.ErrInfeasible)
}
