package types

import "github.com/google/uuid"

// PlanStatus marks how a plan was produced
type PlanStatus string

const (
	PlanStatusOptimal PlanStatus = "optimal"
)

// PlanEntry assigns one candidate to one day-slot
type PlanEntry struct {
	CandidateID   CandidateID `json:"candidate_id"`
	Day           int         `json:"day"`
	AdjustedValue float64     `json:"adjusted_value"`
	BanditScore   float64     `json:"bandit_score"`
	Survival      float64     `json:"survival"`
	Committed     bool        `json:"committed"`
	AddNow        bool        `json:"add_now,omitempty"`
	Features      []float64   `json:"features,omitempty"`
}

// Plan is the scheduler's output for one solve
type Plan struct {
	ID         uuid.UUID   `json:"id"`
	Day        int         `json:"day"`
	Status     PlanStatus  `json:"status"`
	Entries    []PlanEntry `json:"entries"`
	TotalValue float64     `json:"total_value"`
	BudgetUsed int         `json:"budget_used"`
	Excluded   []Exclusion `json:"excluded,omitempty"`
}

// EntriesOn returns the entries assigned to day
func (p *Plan) EntriesOn(day int) []PlanEntry {
	var out []PlanEntry
	for _, e := range p.Entries {
		if e.Day == day {
			out = append(out, e)
		}
	}
	return out
}

// Entry returns the entry for a candidate, if present
func (p *Plan) Entry(id CandidateID) (PlanEntry, bool) {
	for _, e := range p.Entries {
		if e.CandidateID == id {
			return e, true
		}
	}
	return PlanEntry{}, false
}

// Commitment is an executed, irrevocable plan entry
type Commitment struct {
	CandidateID CandidateID `json:"candidate_id"`
	Day         int         `json:"day"`
	Features    []float64   `json:"features,omitempty"`
	CommittedOn int         `json:"committed_on"`
	Resolved    bool        `json:"resolved"`
}

// TriggerKind names a condition under which a backup replaces a primary
type TriggerKind string

const (
	TriggerPrimaryUnavailable TriggerKind = "primary_unavailable"
	TriggerRiskTierDegraded   TriggerKind = "risk_tier_degraded"
)

// Trigger is a declarative substitution condition evaluated by the caller
type Trigger struct {
	Kind TriggerKind `json:"kind"`
	// Tier is the threshold for TriggerRiskTierDegraded.
	Tier RiskTier `json:"tier,omitempty"`
}

// Backup is one ranked substitute for a primary pick
type Backup struct {
	CandidateID   CandidateID `json:"candidate_id"`
	AdjustedValue float64     `json:"adjusted_value"`
	RiskTier      RiskTier    `json:"risk_tier"`
}

// ContingencyEntry lists backups for a primary pick on one day
type ContingencyEntry struct {
	PrimaryID   CandidateID `json:"primary_id"`
	Day         int         `json:"day"`
	Backups     []Backup    `json:"backups"`
	Triggers    []Trigger   `json:"triggers"`
	SnipeRisk   float64     `json:"snipe_risk"`
	ValueAtRisk float64     `json:"value_at_risk"`
}

// AddLimits is the bar a new add must clear in one solve. MinValue applies per
// day; the last ReserveUnits of budget only go to pairs worth more than
// ReserveValue.
type AddLimits struct {
	MinValue     [DaysPerWeek]float64 `json:"min_value"`
	ReserveUnits int                  `json:"reserve_units"`
	ReserveValue float64              `json:"reserve_value"`
}

// UrgencyRank orders candidates by how soon their remaining value runs out
type UrgencyRank struct {
	CandidateID CandidateID `json:"candidate_id"`
	Score       float64     `json:"score"`
	Value       float64     `json:"value"`
	DaysLeft    int         `json:"days_left"`
	MultiDay    bool        `json:"multi_day"`
}
