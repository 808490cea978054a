package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/stream-planner/internal/engine"
	"github.com/stitts-dev/stream-planner/internal/horizon"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

type advanceCall struct {
	target  int
	reports int
}

type fakeHorizon struct {
	state    types.WeekState
	advances []advanceCall
	started  []horizon.WeekConfig
	err      error
}

func (f *fakeHorizon) State() types.WeekState { return f.state }

func (f *fakeHorizon) StartWeek(week horizon.WeekConfig) error {
	f.started = append(f.started, week)
	f.state = types.WeekState{WeekID: week.WeekID, Phase: types.PhasePlanning, BudgetTotal: week.Budget}
	return nil
}

func (f *fakeHorizon) Advance(target int, reports []types.DayReport, snapshot types.Snapshot) (*engine.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.advances = append(f.advances, advanceCall{target: target, reports: len(reports)})
	if target > f.state.Day {
		f.state.Day = target
	}
	if f.state.Day >= types.DaysPerWeek {
		f.state.Phase = types.PhaseWeekClosed
		return nil, nil
	}
	return &engine.Result{}, nil
}

type fakeProvider struct {
	reportRanges [][3]interface{}
	buildErr     error
}

func (f *fakeProvider) Build(ctx context.Context, weekID string) (types.Snapshot, error) {
	return types.Snapshot{}, f.buildErr
}

func (f *fakeProvider) Reports(ctx context.Context, weekID string, fromDay, toDay int) ([]types.DayReport, error) {
	f.reportRanges = append(f.reportRanges, [3]interface{}{weekID, fromDay, toDay})
	var out []types.DayReport
	for d := fromDay; d < toDay; d++ {
		out = append(out, types.DayReport{Day: d})
	}
	return out, nil
}

type fakeFlusher struct {
	weeks []string
	err   error
}

func (f *fakeFlusher) FlushWeek(ctx context.Context, weekID string) error {
	f.weeks = append(f.weeks, weekID)
	return f.err
}

func newAdvancer(h Horizon, p SnapshotProvider, now time.Time) *DailyAdvancer {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	a := NewDailyAdvancer(AdvancerConfig{
		Schedule:  "0 6 * * *",
		WeekStart: time.Monday,
		Budget:    4,
		Capacity:  [types.DaysPerWeek]int{1, 1, 1, 1, 1, 1, 1},
	}, h, p, log)
	a.now = func() time.Time { return now }
	return a
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDayIndexAndWeekID(t *testing.T) {
	tests := []struct {
		now    string
		start  time.Weekday
		day    int
		weekID string
	}{
		{"2026-10-12 06:00", time.Monday, 0, "2026-W42"},
		{"2026-10-15 06:00", time.Monday, 3, "2026-W42"},
		{"2026-10-18 23:59", time.Monday, 6, "2026-W42"},
		{"2026-10-19 00:01", time.Monday, 0, "2026-W43"},
		{"2027-01-03 06:00", time.Monday, 6, "2026-W53"},
		{"2026-10-18 06:00", time.Sunday, 0, "2026-W42"},
	}

	for _, tt := range tests {
		t.Run(tt.now, func(t *testing.T) {
			now := date(tt.now)
			assert.Equal(t, tt.day, DayIndex(now, tt.start))
			assert.Equal(t, tt.weekID, WeekID(now, tt.start))
		})
	}
}

func TestAdvanceCatchesUpMissedDays(t *testing.T) {
	h := &fakeHorizon{state: types.WeekState{WeekID: "2026-W42", Phase: types.PhasePlanning, Day: 1}}
	p := &fakeProvider{}
	a := newAdvancer(h, p, date("2026-10-15 06:00"))

	require.NoError(t, a.Advance(context.Background()))

	require.Len(t, h.advances, 1)
	assert.Equal(t, advanceCall{target: 3, reports: 2}, h.advances[0])
	assert.Equal(t, [][3]interface{}{{"2026-W42", 1, 3}}, p.reportRanges)
	assert.Empty(t, h.started)
}

func TestAdvanceRollsOverToNewWeek(t *testing.T) {
	h := &fakeHorizon{state: types.WeekState{WeekID: "2026-W42", Phase: types.PhasePlanning, Day: 5}}
	p := &fakeProvider{}
	a := newAdvancer(h, p, date("2026-10-20 06:00"))

	require.NoError(t, a.Advance(context.Background()))

	require.Len(t, h.advances, 2)
	assert.Equal(t, advanceCall{target: types.DaysPerWeek, reports: 2}, h.advances[0], "old week closes with its remaining reports")
	assert.Equal(t, advanceCall{target: 1, reports: 1}, h.advances[1])

	require.Len(t, h.started, 1)
	assert.Equal(t, "2026-W43", h.started[0].WeekID)
	assert.Equal(t, 4, h.started[0].Budget)
}

func TestRolloverFlushesCachedPlans(t *testing.T) {
	h := &fakeHorizon{state: types.WeekState{WeekID: "2026-W42", Phase: types.PhasePlanning, Day: 5}}
	plans := &fakeFlusher{}
	a := newAdvancer(h, &fakeProvider{}, date("2026-10-20 06:00")).WithPlanCache(plans)

	require.NoError(t, a.Advance(context.Background()))
	assert.Equal(t, []string{"2026-W42", "2026-W43"}, plans.weeks)

	// same week again: nothing to flush
	require.NoError(t, a.Advance(context.Background()))
	assert.Len(t, plans.weeks, 2)
}

func TestRolloverIgnoresFlushErrors(t *testing.T) {
	h := &fakeHorizon{state: types.WeekState{WeekID: "2026-W42", Phase: types.PhaseWeekClosed, Day: types.DaysPerWeek}}
	plans := &fakeFlusher{err: errors.New("redis down")}
	a := newAdvancer(h, &fakeProvider{}, date("2026-10-19 06:00")).WithPlanCache(plans)

	require.NoError(t, a.Advance(context.Background()))
	assert.Equal(t, "2026-W43", h.State().WeekID)
	assert.Len(t, plans.weeks, 2)
}

func TestAdvanceSkipsClosingAnAlreadyClosedWeek(t *testing.T) {
	h := &fakeHorizon{state: types.WeekState{WeekID: "2026-W42", Phase: types.PhaseWeekClosed, Day: types.DaysPerWeek}}
	a := newAdvancer(h, &fakeProvider{}, date("2026-10-19 06:00"))

	require.NoError(t, a.Advance(context.Background()))

	require.Len(t, h.advances, 1)
	assert.Equal(t, 0, h.advances[0].target)
	require.Len(t, h.started, 1)
}

func TestRunOnceRecordsFailures(t *testing.T) {
	h := &fakeHorizon{state: types.WeekState{WeekID: "2026-W42", Phase: types.PhasePlanning}}
	p := &fakeProvider{buildErr: errors.New("no candidates")}
	a := newAdvancer(h, p, date("2026-10-13 06:00"))

	a.RunOnce()
	job := a.GetJobs()[dailyAdvanceJob]
	assert.Equal(t, "failed", job.Status)
	assert.Equal(t, 1, job.RunCount)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Contains(t, job.LastError, "no candidates")

	p.buildErr = nil
	a.RunOnce()
	job = a.GetJobs()[dailyAdvanceJob]
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, 2, job.RunCount)
	assert.Equal(t, 1, job.ErrorCount)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	a := newAdvancer(&fakeHorizon{}, &fakeProvider{}, time.Now())
	a.cfg.Schedule = "not a schedule"
	assert.Error(t, a.Start())
}

func TestStartAndStop(t *testing.T) {
	a := newAdvancer(&fakeHorizon{}, &fakeProvider{}, time.Now())
	require.NoError(t, a.Start())
	assert.Error(t, a.Start(), "second start should fail")

	job, ok := a.GetJobs()[dailyAdvanceJob]
	require.True(t, ok)
	assert.Equal(t, "scheduled", job.Status)

	a.Stop()
	a.Stop()
}
