package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/internal/engine"
	"github.com/stitts-dev/stream-planner/internal/horizon"
	"github.com/stitts-dev/stream-planner/pkg/cache"
	"github.com/stitts-dev/stream-planner/pkg/logger"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

// PlanCache stores solved plans; nil disables caching
type PlanCache interface {
	GetPlan(ctx context.Context, key string) (*cache.CachedPlan, error)
	SetPlan(ctx context.Context, key string, plan *cache.CachedPlan, expiration time.Duration) error
	FlushWeek(ctx context.Context, weekID string) error
}

// SnapshotBuilder assembles a snapshot when a request does not carry one
type SnapshotBuilder interface {
	Build(ctx context.Context, weekID string) (types.Snapshot, error)
}

// SolveRequest optionally carries the snapshot to plan against
type SolveRequest struct {
	Snapshot *types.Snapshot `json:"snapshot"`
}

// AdvanceRequest moves the horizon to TargetDay
type AdvanceRequest struct {
	TargetDay *int              `json:"target_day" binding:"required,min=0"`
	Reports   []types.DayReport `json:"reports"`
	Snapshot  *types.Snapshot   `json:"snapshot"`
}

// OutcomesRequest carries realized rewards for committed candidates
type OutcomesRequest struct {
	Outcomes []types.Outcome `json:"outcomes" binding:"required,min=1"`
}

// StartWeekRequest opens a new planning week
type StartWeekRequest struct {
	WeekID   string                 `json:"week_id" binding:"required"`
	Budget   int                    `json:"budget" binding:"min=0"`
	Capacity [types.DaysPerWeek]int `json:"capacity"`
}

// PlanResponse is returned by solve and advance
type PlanResponse struct {
	WeekID        string                   `json:"week_id"`
	Day           int                      `json:"day"`
	Version       int                      `json:"version"`
	Phase         types.Phase              `json:"phase"`
	Plan          *types.Plan              `json:"plan,omitempty"`
	Contingencies []types.ContingencyEntry `json:"contingencies,omitempty"`
	Theta         float64                  `json:"theta"`
	Limits        *types.AddLimits         `json:"limits,omitempty"`
	Urgency       []types.UrgencyRank      `json:"urgency,omitempty"`
	Cached        bool                     `json:"cached"`
}

// PlanningHandler exposes the horizon manager over HTTP
type PlanningHandler struct {
	manager   *horizon.Manager
	cache     PlanCache
	snapshots SnapshotBuilder
	cacheTTL  time.Duration
	logger    *logrus.Logger
}

// NewPlanningHandler creates a new planning handler
func NewPlanningHandler(
	manager *horizon.Manager,
	cache PlanCache,
	snapshots SnapshotBuilder,
	cacheTTL time.Duration,
	logger *logrus.Logger,
) *PlanningHandler {
	return &PlanningHandler{
		manager:   manager,
		cache:     cache,
		snapshots: snapshots,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// SolvePlan computes the plan for the current day without changing state
func (h *PlanningHandler) SolvePlan(c *gin.Context) {
	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		invalidRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	state := h.manager.State()
	snapshot, ok := h.resolveSnapshot(c, req.Snapshot, state.WeekID)
	if !ok {
		return
	}

	if h.cache != nil {
		if key, err := cache.PlanKey(state.WeekID, state.Version, state.Day, snapshot); err != nil {
			h.logger.WithError(err).Warn("Failed to build plan cache key")
		} else if cached, err := h.cache.GetPlan(ctx, key); err == nil && cached != nil {
			logger.WithPlanID(cached.Plan.ID.String()).WithField("cache_key", key).Info("Returning cached plan")
			resp := h.planResponse(state, &engine.Result{
				Plan:          cached.Plan,
				Contingencies: cached.Contingencies,
				Theta:         cached.Theta,
				Limits:        cached.Limits,
				Urgency:       cached.Urgency,
			})
			resp.Cached = true
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	startTime := time.Now()
	result, solvedOn, err := h.manager.Solve(snapshot)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.cache != nil {
		h.cachePlan(ctx, solvedOn, snapshot, &result)
	}

	logger.WithWeekContext(solvedOn.WeekID, solvedOn.Day).WithFields(logrus.Fields{
		"version":        solvedOn.Version,
		"plan_id":        result.Plan.ID,
		"entries":        len(result.Plan.Entries),
		"execution_time": time.Since(startTime),
	}).Info("Plan solved")

	c.JSON(http.StatusOK, h.planResponse(solvedOn, &result))
}

// cachePlan stores a result under the key of the state it was solved against
func (h *PlanningHandler) cachePlan(ctx context.Context, state types.WeekState, snapshot types.Snapshot, result *engine.Result) {
	key, err := cache.PlanKey(state.WeekID, state.Version, state.Day, snapshot)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build plan cache key")
		return
	}
	entry := &cache.CachedPlan{
		Plan:          result.Plan,
		Contingencies: result.Contingencies,
		Theta:         result.Theta,
		Limits:        result.Limits,
		Urgency:       result.Urgency,
		CachedAt:      time.Now(),
	}
	if err := h.cache.SetPlan(ctx, key, entry, h.cacheTTL); err != nil {
		h.logger.WithError(err).Warn("Failed to cache plan")
	}
}

// AdvancePlan applies day reports, moves the cursor and re-plans
func (h *PlanningHandler) AdvancePlan(c *gin.Context) {
	var req AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	state := h.manager.State()
	var snapshot types.Snapshot
	if *req.TargetDay < types.DaysPerWeek {
		var ok bool
		if snapshot, ok = h.resolveSnapshot(c, req.Snapshot, state.WeekID); !ok {
			return
		}
	}

	result, err := h.manager.Advance(*req.TargetDay, req.Reports, snapshot)
	if err != nil {
		h.writeError(c, err)
		return
	}

	advanced := h.manager.State()
	log := logger.WithWeekContext(advanced.WeekID, advanced.Day).WithFields(logrus.Fields{
		"version":     advanced.Version,
		"commitments": len(advanced.Commitments),
	})
	if result != nil {
		log = log.WithField("plan_id", result.Plan.ID)
	}
	log.Info("Horizon advanced")

	c.JSON(http.StatusOK, h.planResponse(advanced, result))
}

// RecordOutcomes feeds realized rewards back into the value estimator
func (h *PlanningHandler) RecordOutcomes(c *gin.Context) {
	var req OutcomesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	for _, o := range req.Outcomes {
		if err := h.manager.RecordOutcome(o); err != nil {
			h.writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, h.manager.State())
}

// GetWeek returns the current week state
func (h *PlanningHandler) GetWeek(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.State())
}

// StartWeek discards the current week and opens a new one
func (h *PlanningHandler) StartWeek(c *gin.Context) {
	var req StartWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	previous := h.manager.State().WeekID
	if err := h.manager.StartWeek(horizon.WeekConfig{
		WeekID:   req.WeekID,
		Budget:   req.Budget,
		Capacity: req.Capacity,
	}); err != nil {
		h.writeError(c, err)
		return
	}

	// a restarted week reuses version numbers, so its old plans must go too
	if h.cache != nil {
		weeks := []string{req.WeekID}
		if previous != "" && previous != req.WeekID {
			weeks = append(weeks, previous)
		}
		for _, weekID := range weeks {
			if err := h.cache.FlushWeek(c.Request.Context(), weekID); err != nil {
				h.logger.WithError(err).WithField("week_id", weekID).Warn("Failed to flush cached plans")
			}
		}
	}

	c.JSON(http.StatusCreated, h.manager.State())
}

func (h *PlanningHandler) resolveSnapshot(c *gin.Context, provided *types.Snapshot, weekID string) (types.Snapshot, bool) {
	if provided != nil {
		return *provided, true
	}
	if h.snapshots == nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Request has no snapshot and no data sources are configured",
			Code:  "MISSING_SNAPSHOT",
		})
		return types.Snapshot{}, false
	}

	snapshot, err := h.snapshots.Build(c.Request.Context(), weekID)
	if err != nil {
		h.logger.WithError(err).Error("Snapshot assembly failed")
		c.JSON(http.StatusBadGateway, types.ErrorResponse{
			Error:   "Failed to assemble snapshot",
			Code:    "SNAPSHOT_UNAVAILABLE",
			Details: err.Error(),
		})
		return types.Snapshot{}, false
	}
	return snapshot, true
}

func (h *PlanningHandler) planResponse(state types.WeekState, result *engine.Result) PlanResponse {
	resp := PlanResponse{
		WeekID:  state.WeekID,
		Day:     state.Day,
		Version: state.Version,
		Phase:   state.Phase,
	}
	if result != nil {
		plan := result.Plan
		limits := result.Limits
		resp.Plan = &plan
		resp.Contingencies = result.Contingencies
		resp.Theta = result.Theta
		resp.Limits = &limits
		resp.Urgency = result.Urgency
	}
	return resp
}

func (h *PlanningHandler) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "PLANNING_ERROR"
	switch {
	case errors.Is(err, horizon.ErrWeekClosed):
		status, code = http.StatusConflict, "WEEK_CLOSED"
	case errors.Is(err, horizon.ErrInvalidReport):
		status, code = http.StatusBadRequest, "INVALID_REPORT"
	case errors.Is(err, horizon.ErrInvalidWeek):
		status, code = http.StatusBadRequest, "INVALID_WEEK"
	case errors.Is(err, horizon.ErrReplanFailed):
		status, code = http.StatusInternalServerError, "REPLAN_FAILED"
	case engine.IsInfeasible(err):
		status, code = http.StatusUnprocessableEntity, "INFEASIBLE_PLAN"
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Planning request failed")
	}

	c.JSON(status, types.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Details: err.Error(),
	})
}

func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   "Invalid request format",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
}
