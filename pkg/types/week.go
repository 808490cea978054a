package types

// Matchup is the current head-to-head score state
type Matchup struct {
	MyScore       float64      `json:"my_score"`
	OpponentScore float64      `json:"opponent_score"`
	Roster        RosterStatus `json:"roster"`
}

// RosterStatus counts own-roster players whose return may force an emergency add
type RosterStatus struct {
	InjuredList int `json:"injured_list"`
	DayToDay    int `json:"day_to_day"`
}

// Differential is my score minus the opponent's
func (m Matchup) Differential() float64 {
	return m.MyScore - m.OpponentScore
}

// Snapshot is one materialized input for a solve
type Snapshot struct {
	Candidates     []Candidate `json:"candidates"`
	Matchup        Matchup     `json:"matchup"`
	LeagueActivity float64     `json:"league_activity"`
}

// Outcome is the realized reward of a committed candidate on its day
type Outcome struct {
	CandidateID CandidateID `json:"candidate_id"`
	Day         int         `json:"day"`
	Points      float64     `json:"points"`
}

// DayReport is what actually happened on one day
type DayReport struct {
	Day      int         `json:"day"`
	Executed []PlanEntry `json:"executed"`
	Outcomes []Outcome   `json:"outcomes"`
}

// BanditParams is the exportable state of the value estimator
type BanditParams struct {
	Dimension    int       `json:"dimension"`
	Lambda       float64   `json:"lambda"`
	Design       []float64 `json:"design"`
	Response     []float64 `json:"response"`
	Observed     []string  `json:"observed"`
	Observations int       `json:"observations"`
}

// Phase of the rolling horizon
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseWeekClosed Phase = "week_closed"
)

// WeekState is the rolling horizon's mutable state between solves
type WeekState struct {
	WeekID            string             `json:"week_id"`
	Phase             Phase              `json:"phase"`
	Day               int                `json:"day"`
	Version           int                `json:"version"`
	BudgetTotal       int                `json:"budget_total"`
	RemainingBudget   int                `json:"remaining_budget"`
	Capacity          [DaysPerWeek]int   `json:"capacity"`
	RemainingCapacity [DaysPerWeek]int   `json:"remaining_capacity"`
	Commitments       []Commitment       `json:"commitments"`
	Bandit            BanditParams       `json:"bandit"`
	History           []float64          `json:"history,omitempty"`
	LastPlan          *Plan              `json:"last_plan,omitempty"`
	Contingencies     []ContingencyEntry `json:"contingencies,omitempty"`
}
