package contingency

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// Valuer scores candidate-days the same way the scheduler does
type Valuer interface {
	AdjustedValue(sc types.ScoredCandidate, ds types.DayScore, now int) float64
	SurvivalProbability(rate, dt float64) float64
}

// Planner prepares ranked substitutes for plan entries that may fall through
type Planner struct {
	config config.ContingencyConfig
	valuer Valuer
	logger *logrus.Entry
}

// NewPlanner creates a new contingency planner
func NewPlanner(cfg config.ContingencyConfig, valuer Valuer, logger *logrus.Logger) *Planner {
	return &Planner{
		config: cfg,
		valuer: valuer,
		logger: logger.WithField("component", "contingency"),
	}
}

// Plan returns one entry per uncommitted pick that is risky enough, or likely
// enough to be claimed before its day, to need backups.
func (p *Planner) Plan(plan types.Plan, pool []types.ScoredCandidate, now int) []types.ContingencyEntry {
	byID := make(map[types.CandidateID]types.ScoredCandidate, len(pool))
	for _, sc := range pool {
		if _, ok := byID[sc.ID]; !ok {
			byID[sc.ID] = sc
		}
	}
	inPlan := make(map[types.CandidateID]bool, len(plan.Entries))
	for _, e := range plan.Entries {
		inPlan[e.CandidateID] = true
	}

	var entries []types.ContingencyEntry
	for _, e := range plan.Entries {
		if e.Committed {
			continue
		}
		primary, ok := byID[e.CandidateID]
		if !ok {
			continue
		}

		snipeRisk := 1 - p.valuer.SurvivalProbability(primary.HazardRate, float64(e.Day-now))
		tier := primary.RiskTier
		if ds, ok := primary.Day(e.Day); ok && ds.RiskTier > tier {
			tier = ds.RiskTier
		}
		if tier < p.config.TriggerTier && snipeRisk < p.config.SnipeRiskTrigger {
			continue
		}

		backups := p.backupsFor(e.Day, pool, inPlan, now)
		valueAtRisk := e.AdjustedValue
		if len(backups) > 0 {
			valueAtRisk -= backups[0].AdjustedValue
		}

		entries = append(entries, types.ContingencyEntry{
			PrimaryID: e.CandidateID,
			Day:       e.Day,
			Backups:   backups,
			Triggers: []types.Trigger{
				{Kind: types.TriggerPrimaryUnavailable},
				{Kind: types.TriggerRiskTierDegraded, Tier: p.config.DegradeTier},
			},
			SnipeRisk:   snipeRisk,
			ValueAtRisk: valueAtRisk,
		})
	}

	p.logger.WithFields(logrus.Fields{
		"plan_id": plan.ID,
		"entries": len(entries),
	}).Debug("Contingencies prepared")

	return entries
}

// backupsFor ranks unselected candidates eligible on day by adjusted value
func (p *Planner) backupsFor(day int, pool []types.ScoredCandidate, inPlan map[types.CandidateID]bool, now int) []types.Backup {
	backups := make([]types.Backup, 0)
	seen := make(map[types.CandidateID]bool)
	for _, sc := range pool {
		if inPlan[sc.ID] || seen[sc.ID] || !sc.IsScheduled(day) {
			continue
		}
		ds, ok := sc.Day(day)
		if !ok {
			continue
		}
		tier := sc.RiskTier
		if ds.RiskTier > tier {
			tier = ds.RiskTier
		}
		if tier > p.config.MaxBackupTier {
			continue
		}
		seen[sc.ID] = true
		backups = append(backups, types.Backup{
			CandidateID:   sc.ID,
			AdjustedValue: p.valuer.AdjustedValue(sc, ds, now),
			RiskTier:      tier,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].AdjustedValue != backups[j].AdjustedValue {
			return backups[i].AdjustedValue > backups[j].AdjustedValue
		}
		return backups[i].CandidateID < backups[j].CandidateID
	})
	if len(backups) > p.config.MaxBackups {
		backups = backups[:p.config.MaxBackups]
	}
	return backups
}
