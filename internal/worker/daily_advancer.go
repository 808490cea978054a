package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/internal/engine"
	"github.com/stitts-dev/stream-planner/internal/horizon"
	"github.com/stitts-dev/stream-planner/pkg/logger"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

const dailyAdvanceJob = "daily_advance"

// Horizon is the part of the horizon manager the advancer drives
type Horizon interface {
	State() types.WeekState
	StartWeek(week horizon.WeekConfig) error
	Advance(target int, reports []types.DayReport, snapshot types.Snapshot) (*engine.Result, error)
}

// SnapshotProvider supplies fresh snapshots and the reports of finished days
type SnapshotProvider interface {
	Build(ctx context.Context, weekID string) (types.Snapshot, error)
	Reports(ctx context.Context, weekID string, fromDay, toDay int) ([]types.DayReport, error)
}

// WeekFlusher drops the cached plans of one week
type WeekFlusher interface {
	FlushWeek(ctx context.Context, weekID string) error
}

// JobInfo represents information about a scheduled job
type JobInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   string        `json:"schedule"`
	LastRun    time.Time     `json:"last_run"`
	NextRun    time.Time     `json:"next_run"`
	Status     string        `json:"status"`
	RunCount   int           `json:"run_count"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// AdvancerConfig controls the daily advance schedule and new-week defaults
type AdvancerConfig struct {
	Schedule  string
	WeekStart time.Weekday
	Budget    int
	Capacity  [types.DaysPerWeek]int
	Timeout   time.Duration
}

// DailyAdvancer moves the planning horizon forward once per calendar day and
// rolls over to a new week when the calendar does
type DailyAdvancer struct {
	mu        sync.Mutex
	cfg       AdvancerConfig
	horizon   Horizon
	snapshots SnapshotProvider
	plans     WeekFlusher
	cron      *cron.Cron
	jobs      map[string]JobInfo
	isRunning bool
	now       func() time.Time
	logger    *logrus.Entry
}

// NewDailyAdvancer creates a new advancer; Start schedules it
func NewDailyAdvancer(cfg AdvancerConfig, h Horizon, snapshots SnapshotProvider, logger *logrus.Logger) *DailyAdvancer {
	cronLogger := cron.VerbosePrintfLogger(logger)
	return &DailyAdvancer{
		cfg:       cfg,
		horizon:   h,
		snapshots: snapshots,
		cron:      cron.New(cron.WithLogger(cronLogger)),
		jobs:      make(map[string]JobInfo),
		now:       time.Now,
		logger:    logger.WithField("component", "daily_advancer"),
	}
}

// WithPlanCache makes rollover flush the cached plans of both weeks involved
func (a *DailyAdvancer) WithPlanCache(plans WeekFlusher) *DailyAdvancer {
	a.plans = plans
	return a
}

// Start schedules the daily advance job
func (a *DailyAdvancer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isRunning {
		return fmt.Errorf("daily advancer is already running")
	}

	entryID, err := a.cron.AddFunc(a.cfg.Schedule, a.RunOnce)
	if err != nil {
		return fmt.Errorf("failed to add job %s: %w", dailyAdvanceJob, err)
	}
	a.cron.Start()
	a.isRunning = true

	job := JobInfo{
		ID:       dailyAdvanceJob,
		Name:     "Daily horizon advance",
		Schedule: a.cfg.Schedule,
		Status:   "scheduled",
		NextRun:  a.cron.Entry(entryID).Next,
	}
	a.jobs[dailyAdvanceJob] = job

	a.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"schedule": job.Schedule,
		"next_run": job.NextRun,
	}).Info("Scheduled job added")
	return nil
}

// Stop stops the cron scheduler
func (a *DailyAdvancer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isRunning {
		return
	}

	ctx := a.cron.Stop()
	select {
	case <-ctx.Done():
		a.logger.Info("Cron scheduler stopped gracefully")
	case <-time.After(5 * time.Second):
		a.logger.Warn("Cron scheduler stop timed out")
	}
	a.isRunning = false
}

// GetJobs returns information about all scheduled jobs
func (a *DailyAdvancer) GetJobs() map[string]JobInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	jobs := make(map[string]JobInfo, len(a.jobs))
	for k, v := range a.jobs {
		jobs[k] = v
	}
	return jobs
}

// RunOnce performs one advance with panic recovery and job bookkeeping
func (a *DailyAdvancer) RunOnce() {
	a.mu.Lock()
	job := a.jobs[dailyAdvanceJob]
	job.ID = dailyAdvanceJob
	job.Status = "running"
	job.LastRun = a.now()
	job.RunCount++
	a.jobs[dailyAdvanceJob] = job
	a.mu.Unlock()

	log := a.logger.WithField("run_count", job.RunCount)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Job panicked")
			a.updateJobStatus("failed", fmt.Sprintf("panic: %v", r), time.Since(start))
		}
	}()

	ctx := context.Background()
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	if err := a.Advance(ctx); err != nil {
		log.WithError(err).Error("Daily advance failed")
		a.updateJobStatus("failed", err.Error(), time.Since(start))
		return
	}

	duration := time.Since(start)
	log.WithField("duration", duration).Info("Job completed successfully")
	a.updateJobStatus("completed", "", duration)
}

func (a *DailyAdvancer) updateJobStatus(status, errorMsg string, duration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	job := a.jobs[dailyAdvanceJob]
	job.Status = status
	job.Duration = duration
	if errorMsg != "" {
		job.ErrorCount++
		job.LastError = errorMsg
	}
	if entries := a.cron.Entries(); len(entries) > 0 {
		job.NextRun = entries[0].Next
	}
	a.jobs[dailyAdvanceJob] = job
}

// Advance brings the horizon to today's day index. A finished calendar week
// is closed with its remaining reports before the new week starts.
func (a *DailyAdvancer) Advance(ctx context.Context) error {
	now := a.now()
	weekID := WeekID(now, a.cfg.WeekStart)
	day := DayIndex(now, a.cfg.WeekStart)

	state := a.horizon.State()
	if state.WeekID != weekID {
		if err := a.rollover(ctx, state, weekID); err != nil {
			return err
		}
		state = a.horizon.State()
	}

	reports, err := a.snapshots.Reports(ctx, weekID, state.Day, day)
	if err != nil {
		return err
	}
	snapshot, err := a.snapshots.Build(ctx, weekID)
	if err != nil {
		return err
	}

	result, err := a.horizon.Advance(day, reports, snapshot)
	if err != nil {
		return fmt.Errorf("failed to advance week %s to day %d: %w", weekID, day, err)
	}

	fields := logrus.Fields{
		"component": "daily_advancer",
		"reports":   len(reports),
	}
	if result != nil {
		fields["plan_id"] = result.Plan.ID
		fields["entries"] = len(result.Plan.Entries)
	}
	logger.WithWeekContext(weekID, day).WithFields(fields).Info("Daily advance applied")
	return nil
}

func (a *DailyAdvancer) rollover(ctx context.Context, state types.WeekState, weekID string) error {
	if state.Phase != types.PhaseWeekClosed && state.WeekID != "" {
		reports, err := a.snapshots.Reports(ctx, state.WeekID, state.Day, types.DaysPerWeek)
		if err != nil {
			return err
		}
		if _, err := a.horizon.Advance(types.DaysPerWeek, reports, types.Snapshot{}); err != nil {
			return fmt.Errorf("failed to close week %s: %w", state.WeekID, err)
		}
	}

	if err := a.horizon.StartWeek(horizon.WeekConfig{
		WeekID:   weekID,
		Budget:   a.cfg.Budget,
		Capacity: a.cfg.Capacity,
	}); err != nil {
		return fmt.Errorf("failed to start week %s: %w", weekID, err)
	}

	if a.plans != nil {
		for _, id := range []string{state.WeekID, weekID} {
			if id == "" {
				continue
			}
			if err := a.plans.FlushWeek(ctx, id); err != nil {
				a.logger.WithError(err).WithField("week_id", id).Warn("Failed to flush cached plans")
			}
		}
	}

	a.logger.WithFields(logrus.Fields{
		"previous_week": state.WeekID,
		"week_id":       weekID,
	}).Info("Rolled over to new planning week")
	return nil
}

// DayIndex is the number of days since the most recent week start
func DayIndex(now time.Time, weekStart time.Weekday) int {
	return (int(now.Weekday()) - int(weekStart) + types.DaysPerWeek) % types.DaysPerWeek
}

// WeekID names a planning week by the ISO week of its first day
func WeekID(now time.Time, weekStart time.Weekday) string {
	first := now.AddDate(0, 0, -DayIndex(now, weekStart))
	year, week := first.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
