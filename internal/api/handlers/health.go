package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/internal/worker"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

const serviceName = "stream-planner"

// CacheStatus is the part of the plan cache health checks use
type CacheStatus interface {
	Ping(ctx context.Context) error
	GetStatus(ctx context.Context) map[string]interface{}
}

// BreakerStates reports upstream circuit breakers by source
type BreakerStates interface {
	States() map[string]string
}

// JobLister reports scheduled jobs
type JobLister interface {
	GetJobs() map[string]worker.JobInfo
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	cache     CacheStatus
	breakers  BreakerStates
	jobs      JobLister
	startedAt time.Time
	logger    *logrus.Logger
}

// NewHealthHandler creates a new health handler. Any dependency may be nil.
func NewHealthHandler(cache CacheStatus, breakers BreakerStates, jobs JobLister, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		cache:     cache,
		breakers:  breakers,
		jobs:      jobs,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// GetHealth returns the basic health status
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := types.HealthStatus{
		Status:    "ok",
		Service:   serviceName,
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	// Planning works without the cache, so a failure only degrades
	if h.cache != nil {
		if err := h.cache.Ping(c.Request.Context()); err != nil {
			response.Status = "degraded"
			response.Checks["redis"] = "failed: " + err.Error()
		} else {
			response.Checks["redis"] = "ok"
		}
	} else {
		response.Checks["redis"] = "not_configured"
	}

	if h.breakers != nil {
		for source, state := range h.breakers.States() {
			response.Checks["source_"+source] = state
			if state == "open" {
				response.Status = "degraded"
			}
		}
	}

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}

	c.JSON(statusCode, response)
}

// GetReady returns the readiness status
func (h *HealthHandler) GetReady(c *gin.Context) {
	c.JSON(http.StatusOK, types.HealthStatus{
		Status:    "ready",
		Service:   serviceName,
		Timestamp: time.Now(),
	})
}

// GetMetrics returns cache, breaker and job metrics
func (h *HealthHandler) GetMetrics(c *gin.Context) {
	metrics := map[string]interface{}{
		"service":   serviceName,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).Seconds(),
	}

	if h.cache != nil {
		metrics["plan_cache"] = h.cache.GetStatus(c.Request.Context())
	}
	if h.breakers != nil {
		metrics["circuit_breakers"] = h.breakers.States()
	}
	if h.jobs != nil {
		metrics["jobs"] = h.jobs.GetJobs()
	}

	c.JSON(http.StatusOK, metrics)
}
