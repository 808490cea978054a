package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// ErrInfeasible is returned when budget, capacity and commitments cannot all hold
var ErrInfeasible = errors.New("infeasible plan")

// Exclusion reasons reported by the scheduler
const (
	ReasonNoGo           = "no_go"
	ReasonBelowThreshold = "below_add_threshold"
)

var planNamespace = uuid.MustParse("6f1d7c1e-3b8a-4c35-9a57-2f0e4d1b8c90")

// SurvivalEstimator gives the probability a candidate is still available after dt days
type SurvivalEstimator interface {
	SurvivalProbability(rate, dt float64) float64
}

// Request is everything one solve needs. Budget and Capacity are the week's
// gross limits; Commitments consume them before any new assignment.
type Request struct {
	Candidates  []types.ScoredCandidate
	Budget      int
	Capacity    [types.DaysPerWeek]int
	Commitments []types.Commitment
	Now         int
	// MinValue is the adjusted value a new pair on each day must exceed.
	MinValue [types.DaysPerWeek]float64
	Reserve  Reserve
}

// Reserve holds Units of the residual budget back for pairs whose adjusted
// value exceeds Value. A zero Reserve leaves the whole budget open.
type Reserve struct {
	Units int     `json:"units"`
	Value float64 `json:"value"`
}

type pairKey struct {
	id  types.CandidateID
	day int
}

// Scheduler assigns candidates to day-slots by exact min-cost flow
type Scheduler struct {
	config   config.SchedulerConfig
	survival SurvivalEstimator
	logger   *logrus.Entry
}

// NewScheduler creates a new slot scheduler
func NewScheduler(cfg config.SchedulerConfig, survival SurvivalEstimator, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		config:   cfg,
		survival: survival,
		logger:   logger.WithField("component", "scheduler"),
	}
}

type pair struct {
	candidate int
	day       int
	value     float64
	quantized int64
	bandit    float64
	survival  float64
	features  []float64
}

// Solve returns the value-maximizing set of (candidate, day) pairs. Every pair
// uses one unit of budget and one slot on its day, so a candidate scheduled on
// several days may be picked on each of them.
func (s *Scheduler) Solve(req Request) (types.Plan, error) {
	start := time.Now()

	if req.Now < 0 || req.Now >= types.DaysPerWeek {
		return types.Plan{}, fmt.Errorf("%w: day %d outside the week", ErrInfeasible, req.Now)
	}
	residualBudget, residualCapacity, err := applyCommitments(req)
	if err != nil {
		return types.Plan{}, err
	}

	pool, excluded := s.eligiblePool(req)
	pairs, below := s.buildPairs(pool, req)
	excluded = append(excluded, below...)

	maxPairs := residualBudget
	slots := 0
	for _, c := range residualCapacity {
		slots += c
	}
	if slots < maxPairs {
		maxPairs = slots
	}
	if len(pairs) < maxPairs {
		maxPairs = len(pairs)
	}

	reserved := req.Reserve.Units
	if reserved < 0 {
		reserved = 0
	}
	if reserved > residualBudget {
		reserved = residualBudget
	}

	chosen, err := s.assign(pairs, residualCapacity, maxPairs, residualBudget-reserved, req.Reserve.Value)
	if err != nil {
		return types.Plan{}, err
	}

	plan := buildPlan(req, pool, chosen, excluded)

	s.logger.WithFields(logrus.Fields{
		"day":             req.Now,
		"candidates":      len(req.Candidates),
		"eligible":        len(pool),
		"pairs":           len(pairs),
		"residual_budget": residualBudget,
		"reserved":        reserved,
		"assigned":        len(chosen),
		"commitments":     len(req.Commitments),
		"total_value":     plan.TotalValue,
		"solve_duration":  time.Since(start),
	}).Info("Slot schedule solved")

	return plan, nil
}

// applyCommitments checks that commitments fit the gross limits and returns what remains
func applyCommitments(req Request) (int, [types.DaysPerWeek]int, error) {
	capacity := req.Capacity
	if req.Budget < 0 {
		return 0, capacity, fmt.Errorf("%w: negative budget %d", ErrInfeasible, req.Budget)
	}
	for d, c := range capacity {
		if c < 0 {
			return 0, capacity, fmt.Errorf("%w: negative capacity %d on day %d", ErrInfeasible, c, d)
		}
	}
	if len(req.Commitments) > req.Budget {
		return 0, capacity, fmt.Errorf("%w: %d commitments exceed budget %d", ErrInfeasible, len(req.Commitments), req.Budget)
	}

	seen := make(map[pairKey]bool, len(req.Commitments))
	for _, cm := range req.Commitments {
		if cm.Day < 0 || cm.Day >= types.DaysPerWeek {
			return 0, capacity, fmt.Errorf("%w: commitment %s on day %d outside the week", ErrInfeasible, cm.CandidateID, cm.Day)
		}
		key := pairKey{cm.CandidateID, cm.Day}
		if seen[key] {
			return 0, capacity, fmt.Errorf("%w: candidate %s committed twice on day %d", ErrInfeasible, cm.CandidateID, cm.Day)
		}
		seen[key] = true
		capacity[cm.Day]--
		if capacity[cm.Day] < 0 {
			return 0, capacity, fmt.Errorf("%w: commitments exceed capacity %d on day %d", ErrInfeasible, req.Capacity[cm.Day], cm.Day)
		}
	}
	return req.Budget - len(req.Commitments), capacity, nil
}

// eligiblePool drops duplicate and NO_GO candidates and orders the rest by ID.
// Committed candidates stay; their committed days are skipped in buildPairs.
func (s *Scheduler) eligiblePool(req Request) ([]types.ScoredCandidate, []types.Exclusion) {
	sorted := append([]types.ScoredCandidate(nil), req.Candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var pool []types.ScoredCandidate
	var excluded []types.Exclusion
	for i, sc := range sorted {
		if i > 0 && sorted[i-1].ID == sc.ID {
			s.logger.WithField("candidate_id", sc.ID).Warn("Duplicate candidate in pool, keeping first")
			continue
		}
		excluded = append(excluded, sc.Exclusions...)
		if sc.RiskTier >= types.RiskTierNoGo {
			excluded = append(excluded, types.Exclusion{CandidateID: sc.ID, Day: -1, Reason: ReasonNoGo})
			continue
		}
		pool = append(pool, sc)
	}
	return pool, excluded
}

// buildPairs lists every uncommitted candidate-day worth more than its day's
// minimum. Pairs only held back by a positive minimum are reported.
func (s *Scheduler) buildPairs(pool []types.ScoredCandidate, req Request) ([]pair, []types.Exclusion) {
	now := req.Now
	committed := make(map[pairKey]bool, len(req.Commitments))
	for _, cm := range req.Commitments {
		committed[pairKey{cm.CandidateID, cm.Day}] = true
	}

	var pairs []pair
	var below []types.Exclusion
	for ci, sc := range pool {
		days := append([]types.DayScore(nil), sc.Days...)
		sort.Slice(days, func(i, j int) bool { return days[i].Day < days[j].Day })

		for _, ds := range days {
			if ds.Day < now || ds.Day >= types.DaysPerWeek || !sc.IsScheduled(ds.Day) {
				continue
			}
			if ds.RiskTier >= types.RiskTierNoGo || committed[pairKey{sc.ID, ds.Day}] {
				continue
			}
			survival := s.survival.SurvivalProbability(sc.HazardRate, float64(ds.Day-now))
			value := s.AdjustedValue(sc, ds, now)
			if math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			q := int64(math.Round(value / s.config.ValueResolution))
			if q <= 0 {
				continue
			}
			if threshold := req.MinValue[ds.Day]; threshold > 0 && value <= threshold {
				below = append(below, types.Exclusion{CandidateID: sc.ID, Day: ds.Day, Reason: ReasonBelowThreshold})
				continue
			}
			pairs = append(pairs, pair{
				candidate: ci,
				day:       ds.Day,
				value:     value,
				quantized: q,
				bandit:    ds.Bandit.Total,
				survival:  survival,
				features:  ds.Features,
			})
		}
	}
	return pairs, below
}

// AdjustedValue is the bandit score of a candidate-day discounted by the
// probability the candidate survives until that day.
func (s *Scheduler) AdjustedValue(sc types.ScoredCandidate, ds types.DayScore, now int) float64 {
	return ds.Bandit.Total * s.survival.SurvivalProbability(sc.HazardRate, float64(ds.Day-now))
}

// SurvivalProbability delegates to the availability estimate used for valuation
func (s *Scheduler) SurvivalProbability(rate, dt float64) float64 {
	return s.survival.SurvivalProbability(rate, dt)
}

// tieBonus ranks days among equal-value schedules
func (s *Scheduler) tieBonus(day int) int64 {
	if s.config.TieBreak == config.TieBreakEarliest {
		return int64(types.DaysPerWeek - 1 - day)
	}
	return int64(day)
}

// assign solves the residual problem on source -> {open, reserve} -> pair ->
// day -> sink. Open budget reaches every pair, reserved budget only pairs
// worth more than reserveValue. Costs are -(quantized value*K + tieBonus)
// with K larger than any achievable tie-bonus difference, so day preference
// only decides between schedules whose quantized totals are equal.
func (s *Scheduler) assign(pairs []pair, capacity [types.DaysPerWeek]int, maxPairs, open int, reserveValue float64) ([]pair, error) {
	if maxPairs <= 0 || len(pairs) == 0 {
		return nil, nil
	}

	k := int64(types.DaysPerWeek-1)*int64(maxPairs) + 1
	limit := math.MaxInt64 / 4 / (k * int64(len(pairs)+1))
	for _, p := range pairs {
		if p.quantized > limit {
			return nil, fmt.Errorf("value %.4f of %d pairs exceeds solver range at resolution %g", p.value, len(pairs), s.config.ValueResolution)
		}
	}

	source := 0
	openNode := 1
	reserveNode := 2
	firstPair := 3
	firstDay := firstPair + len(pairs)
	sink := firstDay + types.DaysPerWeek
	g := newFlowGraph(sink + 1)

	if open > 0 {
		g.addEdge(source, openNode, open, 0)
	}
	if reserved := maxPairs - open; reserved > 0 {
		g.addEdge(source, reserveNode, reserved, 0)
	}

	edgeIndex := make([]int, len(pairs))
	for i, p := range pairs {
		g.addEdge(openNode, firstPair+i, 1, 0)
		if p.value > reserveValue {
			g.addEdge(reserveNode, firstPair+i, 1, 0)
		}
		cost := -(p.quantized*k + s.tieBonus(p.day))
		edgeIndex[i] = g.addEdge(firstPair+i, firstDay+p.day, 1, cost)
	}
	for d := 0; d < types.DaysPerWeek; d++ {
		if capacity[d] > 0 {
			g.addEdge(firstDay+d, sink, capacity[d], 0)
		}
	}

	g.minCostFlow(source, sink, maxPairs)

	var chosen []pair
	for i, p := range pairs {
		if g.adj[firstPair+i][edgeIndex[i]].cap == 0 {
			chosen = append(chosen, p)
		}
	}
	return chosen, nil
}

func buildPlan(req Request, pool []types.ScoredCandidate, chosen []pair, excluded []types.Exclusion) types.Plan {
	entries := make([]types.PlanEntry, 0, len(chosen)+len(req.Commitments))

	byID := make(map[types.CandidateID]types.ScoredCandidate, len(req.Candidates))
	for _, sc := range req.Candidates {
		if _, ok := byID[sc.ID]; !ok {
			byID[sc.ID] = sc
		}
	}

	for _, cm := range req.Commitments {
		entry := types.PlanEntry{
			CandidateID: cm.CandidateID,
			Day:         cm.Day,
			Survival:    1,
			Committed:   true,
			Features:    cm.Features,
		}
		if sc, ok := byID[cm.CandidateID]; ok {
			if ds, ok := sc.Day(cm.Day); ok {
				entry.BanditScore = ds.Bandit.Total
				entry.AdjustedValue = ds.Bandit.Total
			}
		}
		entries = append(entries, entry)
	}

	for _, p := range chosen {
		entries = append(entries, types.PlanEntry{
			CandidateID:   pool[p.candidate].ID,
			Day:           p.day,
			AdjustedValue: p.value,
			BanditScore:   p.bandit,
			Survival:      p.survival,
			Features:      p.features,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Day != entries[j].Day {
			return entries[i].Day < entries[j].Day
		}
		return entries[i].CandidateID < entries[j].CandidateID
	})

	total := 0.0
	for _, e := range entries {
		total += e.AdjustedValue
	}

	return types.Plan{
		ID:         planID(req.Now, entries),
		Day:        req.Now,
		Status:     types.PlanStatusOptimal,
		Entries:    entries,
		TotalValue: total,
		BudgetUsed: len(entries),
		Excluded:   excluded,
	}
}

// planID is derived from the assignment so identical solves share an ID
func planID(now int, entries []types.PlanEntry) uuid.UUID {
	var b strings.Builder
	fmt.Fprintf(&b, "day=%d", now)
	for _, e := range entries {
		fmt.Fprintf(&b, "|%s@%d:%t:%.6f", e.CandidateID, e.Day, e.Committed, e.AdjustedValue)
	}
	return uuid.NewSHA1(planNamespace, []byte(b.String()))
}
