package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/pkg/types"
)

const planKeyPrefix = "plan:"

// ErrCacheMiss is returned when no plan is stored under a key
var ErrCacheMiss = errors.New("plan not found in cache")

// CachedPlan is what a solve call stores: the plan and its contingencies
type CachedPlan struct {
	Plan          types.Plan               `json:"plan"`
	Contingencies []types.ContingencyEntry `json:"contingencies"`
	Theta         float64                  `json:"theta"`
	Limits        types.AddLimits          `json:"limits"`
	Urgency       []types.UrgencyRank      `json:"urgency,omitempty"`
	CachedAt      time.Time                `json:"cached_at"`
}

// PlanCacheService handles caching for solved plans
type PlanCacheService struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewPlanCacheService creates a new plan cache service
func NewPlanCacheService(client *redis.Client, logger *logrus.Logger) *PlanCacheService {
	return &PlanCacheService{
		client: client,
		logger: logger,
	}
}

// PlanKey identifies a solve by week, state version, cursor day and the
// snapshot it was computed from. Any state change bumps the version, so
// stale plans are never served.
func PlanKey(weekID string, version, day int, snapshot types.Snapshot) (string, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	hash := md5.New()
	hash.Write(data)
	return fmt.Sprintf("%s:%d:%d:%x", weekID, version, day, hash.Sum(nil)), nil
}

// SetPlan stores a solved plan in cache
func (c *PlanCacheService) SetPlan(ctx context.Context, key string, plan *CachedPlan, expiration time.Duration) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	fullKey := planKeyPrefix + key
	if err := c.client.Set(ctx, fullKey, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set plan in cache: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"cache_key":  fullKey,
		"expiration": expiration,
		"entries":    len(plan.Plan.Entries),
	}).Debug("Cached plan")

	return nil
}

// GetPlan retrieves a solved plan from cache
func (c *PlanCacheService) GetPlan(ctx context.Context, key string) (*CachedPlan, error) {
	fullKey := planKeyPrefix + key
	data, err := c.client.Get(ctx, fullKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get plan from cache: %w", err)
	}

	var plan CachedPlan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"cache_key": fullKey,
		"entries":   len(plan.Plan.Entries),
	}).Debug("Retrieved plan from cache")

	return &plan, nil
}

// Ping checks the redis connection
func (c *PlanCacheService) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetStatus returns cache statistics
func (c *PlanCacheService) GetStatus(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"service":   "plan-cache",
		"timestamp": time.Now(),
		"connected": c.client.Ping(ctx).Err() == nil,
	}

	if dbSize := c.client.DBSize(ctx); dbSize.Err() == nil {
		status["db_size"] = dbSize.Val()
	}

	if keys, err := c.client.Keys(ctx, planKeyPrefix+"*").Result(); err == nil {
		status["plan_keys"] = len(keys)
	}

	return status
}

// FlushWeek clears every cached plan of one week
func (c *PlanCacheService) FlushWeek(ctx context.Context, weekID string) error {
	keys, err := c.client.Keys(ctx, planKeyPrefix+weekID+":*").Result()
	if err != nil {
		return fmt.Errorf("failed to get plan keys: %w", err)
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete plan keys: %w", err)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"week_id":      weekID,
		"deleted_keys": len(keys),
	}).Info("Flushed plan cache")
	return nil
}

const banditParamsKey = "bandit:params"

// SaveBanditParams persists the value estimator so learning survives restarts
func (c *PlanCacheService) SaveBanditParams(ctx context.Context, params types.BanditParams) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal bandit params: %w", err)
	}
	if err := c.client.Set(ctx, banditParamsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save bandit params: %w", err)
	}

	c.logger.WithField("observations", params.Observations).Info("Saved bandit params")
	return nil
}

// LoadBanditParams returns the persisted estimator, or ErrCacheMiss
func (c *PlanCacheService) LoadBanditParams(ctx context.Context) (*types.BanditParams, error) {
	data, err := c.client.Get(ctx, banditParamsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to load bandit params: %w", err)
	}

	var params types.BanditParams
	if err := json.Unmarshal([]byte(data), &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bandit params: %w", err)
	}
	return &params, nil
}
