package horizon

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/internal/bandit"
	"github.com/stitts-dev/stream-planner/internal/engine"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

var (
	// ErrWeekClosed is returned for planning calls after the last day
	ErrWeekClosed = errors.New("week closed")
	// ErrInvalidReport is returned when a day report contradicts the week state
	ErrInvalidReport = errors.New("invalid day report")
	// ErrInvalidWeek is returned for negative budgets or capacities
	ErrInvalidWeek = errors.New("invalid week configuration")
	// ErrReplanFailed is returned when a transition was applied but the
	// re-plan from the new day failed
	ErrReplanFailed = errors.New("re-plan failed after advance")
)

// historyLimit bounds the realized points kept for add thresholds
const historyLimit = 1000

// Planner runs one solve. *engine.Pipeline is the production planner.
type Planner interface {
	Run(in engine.Input) (engine.Result, error)
}

type commitmentKey struct {
	id  types.CandidateID
	day int
}

// WeekConfig opens a new planning week
type WeekConfig struct {
	WeekID   string                 `json:"week_id"`
	Budget   int                    `json:"budget"`
	Capacity [types.DaysPerWeek]int `json:"capacity"`
}

// Manager owns the week state and drives the pipeline day by day.
// Every transition happens under one lock.
type Manager struct {
	mu        sync.Mutex
	pipeline  Planner
	estimator *bandit.Estimator
	logger    *logrus.Entry
	state     types.WeekState
}

// NewManager creates a manager and opens its first week
func NewManager(pipeline Planner, estimator *bandit.Estimator, week WeekConfig, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{
		pipeline:  pipeline,
		estimator: estimator,
		logger:    logger.WithField("component", "horizon"),
	}
	if err := m.StartWeek(week); err != nil {
		return nil, err
	}
	return m, nil
}

// StartWeek resets all week state. Bandit parameters and realized-point
// history carry over.
func (m *Manager) StartWeek(week WeekConfig) error {
	if week.Budget < 0 {
		return fmt.Errorf("%w: negative budget %d", ErrInvalidWeek, week.Budget)
	}
	for d, c := range week.Capacity {
		if c < 0 {
			return fmt.Errorf("%w: negative capacity %d on day %d", ErrInvalidWeek, c, d)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = types.WeekState{
		WeekID:            week.WeekID,
		Phase:             types.PhasePlanning,
		Day:               0,
		BudgetTotal:       week.Budget,
		RemainingBudget:   week.Budget,
		Capacity:          week.Capacity,
		RemainingCapacity: week.Capacity,
		History:           m.state.History,
	}

	m.logger.WithFields(logrus.Fields{
		"week_id":  week.WeekID,
		"budget":   week.Budget,
		"capacity": week.Capacity,
	}).Info("Planning week started")
	return nil
}

// Solve runs the pipeline for the current day without changing state. It
// also returns the state the plan was solved against.
func (m *Manager) Solve(snapshot types.Snapshot) (engine.Result, types.WeekState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.snapshotState()
	if m.state.Phase == types.PhaseWeekClosed {
		return engine.Result{}, state, ErrWeekClosed
	}
	result, err := m.run(snapshot)
	return result, state, err
}

// run solves for the cursor day with gross limits and all commitments. Caller holds mu.
func (m *Manager) run(snapshot types.Snapshot) (engine.Result, error) {
	return m.pipeline.Run(engine.Input{
		Snapshot:    snapshot,
		Budget:      m.state.BudgetTotal,
		Capacity:    m.state.Capacity,
		Commitments: append([]types.Commitment(nil), m.state.Commitments...),
		Now:         m.state.Day,
		History:     append([]float64(nil), m.state.History...),
	})
}

// Advance moves the cursor to target, folding in every report for the days it
// passes, then re-plans the remaining week from the new day. Missed days are
// caught up in one step; a target at or before the cursor only re-plans.
// A target past the last day closes the week and returns a nil result.
//
// Reports record executions that already happened, so a valid transition
// stands even if the re-plan from the new day fails. That error wraps
// ErrReplanFailed; the state then has no LastPlan and a bumped Version.
func (m *Manager) Advance(target int, reports []types.DayReport, snapshot types.Snapshot) (*engine.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase == types.PhaseWeekClosed {
		return nil, ErrWeekClosed
	}
	if target > types.DaysPerWeek {
		target = types.DaysPerWeek
	}

	next, observations, err := m.applyReports(target, reports)
	if err != nil {
		return nil, err
	}

	from := m.state.Day
	m.state = next
	for _, obs := range observations {
		if err := m.estimator.Update(obs); err != nil {
			m.logger.WithError(err).WithField("candidate_id", obs.CandidateID).Warn("Skipping unusable outcome")
		}
	}

	log := m.logger.WithFields(logrus.Fields{
		"week_id":          m.state.WeekID,
		"from_day":         from,
		"to_day":           m.state.Day,
		"commitments":      len(m.state.Commitments),
		"remaining_budget": m.state.RemainingBudget,
		"outcomes":         len(observations),
	})

	if m.state.Day >= types.DaysPerWeek {
		m.state.Phase = types.PhaseWeekClosed
		m.state.LastPlan = nil
		m.state.Contingencies = nil
		m.state.Version++
		log.Info("Planning week closed")
		return nil, nil
	}

	result, err := m.run(snapshot)
	if err != nil {
		m.state.LastPlan = nil
		m.state.Contingencies = nil
		m.state.Version++
		log.WithError(err).Error("Horizon advanced but re-plan failed")
		return nil, fmt.Errorf("%w: day %d: %w", ErrReplanFailed, m.state.Day, err)
	}
	plan := result.Plan
	m.state.LastPlan = &plan
	m.state.Contingencies = result.Contingencies
	m.state.Version++

	log.WithField("plan_id", plan.ID).Info("Horizon advanced")
	return &result, nil
}

// applyReports validates and applies reports to a copy of the state. Nothing
// is mutated unless every report is consistent. Caller holds mu.
func (m *Manager) applyReports(target int, reports []types.DayReport) (types.WeekState, []bandit.Observation, error) {
	next := cloneState(m.state)
	cursor := m.state.Day
	newDay := cursor
	if target > cursor {
		newDay = target
	}

	ordered := append([]types.DayReport(nil), reports...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Day < ordered[j].Day })

	committed := indexCommitments(next.Commitments)

	for _, r := range ordered {
		if r.Day < 0 || r.Day >= newDay {
			return m.state, nil, fmt.Errorf("%w: report for day %d outside [0, %d)", ErrInvalidReport, r.Day, newDay)
		}
		if r.Day < cursor {
			// already processed; only late outcomes below still count
			continue
		}
		for _, e := range r.Executed {
			if e.Day < r.Day || e.Day >= types.DaysPerWeek {
				return m.state, nil, fmt.Errorf("%w: %s executed on day %d for day %d", ErrInvalidReport, e.CandidateID, r.Day, e.Day)
			}
			key := commitmentKey{e.CandidateID, e.Day}
			if _, dup := committed[key]; dup {
				return m.state, nil, fmt.Errorf("%w: %s is already committed on day %d", ErrInvalidReport, e.CandidateID, e.Day)
			}
			if next.RemainingBudget <= 0 {
				return m.state, nil, fmt.Errorf("%w: executing %s exceeds the weekly budget", ErrInvalidReport, e.CandidateID)
			}
			if next.RemainingCapacity[e.Day] <= 0 {
				return m.state, nil, fmt.Errorf("%w: executing %s exceeds capacity on day %d", ErrInvalidReport, e.CandidateID, e.Day)
			}
			if len(e.Features) > 0 && len(e.Features) != m.estimator.Dimension() {
				return m.state, nil, fmt.Errorf("%w: %s carries %d features, want %d", ErrInvalidReport, e.CandidateID, len(e.Features), m.estimator.Dimension())
			}

			next.RemainingBudget--
			next.RemainingCapacity[e.Day]--
			committed[key] = len(next.Commitments)
			next.Commitments = append(next.Commitments, types.Commitment{
				CandidateID: e.CandidateID,
				Day:         e.Day,
				Features:    append([]float64(nil), e.Features...),
				CommittedOn: r.Day,
			})
		}
	}

	var observations []bandit.Observation
	for _, r := range ordered {
		for _, o := range r.Outcomes {
			obs, resolved := m.resolve(&next, committed, o, newDay)
			if !resolved {
				continue
			}
			next.History = appendHistory(next.History, o.Points)
			if obs != nil {
				observations = append(observations, *obs)
			}
		}
	}

	next.Day = newDay
	return next, observations, nil
}

// resolve marks a commitment's outcome as consumed. It returns the bandit
// observation when the commitment carries features. Unknown, premature and
// repeated outcomes are ignored.
func (m *Manager) resolve(state *types.WeekState, committed map[commitmentKey]int, o types.Outcome, day int) (*bandit.Observation, bool) {
	i, ok := committed[commitmentKey{o.CandidateID, o.Day}]
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"candidate_id": o.CandidateID,
			"day":          o.Day,
		}).Warn("Outcome for uncommitted candidate-day ignored")
		return nil, false
	}
	cm := &state.Commitments[i]
	if cm.Resolved {
		return nil, false
	}
	if cm.Day >= day {
		m.logger.WithFields(logrus.Fields{
			"candidate_id": o.CandidateID,
			"day":          cm.Day,
		}).Warn("Outcome reported before its day passed, ignored")
		return nil, false
	}
	cm.Resolved = true
	if len(cm.Features) == 0 {
		return nil, true
	}
	return &bandit.Observation{CandidateID: cm.CandidateID, Features: cm.Features, Reward: o.Points}, true
}

// RecordOutcome feeds one realized reward back to the value estimator.
// Repeating an already-recorded outcome is a no-op.
func (m *Manager) RecordOutcome(o types.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	committed := indexCommitments(m.state.Commitments)
	i, ok := committed[commitmentKey{o.CandidateID, o.Day}]
	if !ok {
		return fmt.Errorf("%w: %s has no commitment on day %d this week", ErrInvalidReport, o.CandidateID, o.Day)
	}
	if m.state.Commitments[i].Resolved {
		return nil
	}
	if m.state.Commitments[i].Day >= m.state.Day {
		return fmt.Errorf("%w: day %d for %s has not finished", ErrInvalidReport, m.state.Commitments[i].Day, o.CandidateID)
	}

	obs, resolved := m.resolve(&m.state, committed, o, m.state.Day)
	if !resolved {
		return nil
	}
	if obs != nil {
		if err := m.estimator.Update(*obs); err != nil {
			m.state.Commitments[i].Resolved = false
			return fmt.Errorf("failed to record outcome for %s: %w", o.CandidateID, err)
		}
	}
	m.state.History = appendHistory(m.state.History, o.Points)
	m.state.Version++
	return nil
}

func indexCommitments(commitments []types.Commitment) map[commitmentKey]int {
	index := make(map[commitmentKey]int, len(commitments))
	for i, cm := range commitments {
		index[commitmentKey{cm.CandidateID, cm.Day}] = i
	}
	return index
}

// appendHistory adds points and drops the oldest values past historyLimit
func appendHistory(history []float64, points float64) []float64 {
	history = append(history, points)
	if len(history) > historyLimit {
		history = append([]float64(nil), history[len(history)-historyLimit:]...)
	}
	return history
}

// State returns a copy of the week state including current bandit parameters
func (m *Manager) State() types.WeekState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotState()
}

// snapshotState copies the state with current bandit parameters. Caller holds mu.
func (m *Manager) snapshotState() types.WeekState {
	s := cloneState(m.state)
	s.Bandit = m.estimator.Params()
	return s
}

func cloneState(s types.WeekState) types.WeekState {
	out := s
	out.Commitments = make([]types.Commitment, len(s.Commitments))
	for i, cm := range s.Commitments {
		cm.Features = append([]float64(nil), cm.Features...)
		out.Commitments[i] = cm
	}
	if s.LastPlan != nil {
		plan := *s.LastPlan
		plan.Entries = append([]types.PlanEntry(nil), s.LastPlan.Entries...)
		plan.Excluded = append([]types.Exclusion(nil), s.LastPlan.Excluded...)
		out.LastPlan = &plan
	}
	out.Contingencies = append([]types.ContingencyEntry(nil), s.Contingencies...)
	out.History = append([]float64(nil), s.History...)
	return out
}
