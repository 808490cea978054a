package cache

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/stream-planner/pkg/types"
)

func testSnapshot() types.Snapshot {
	return types.Snapshot{
		Candidates: []types.Candidate{
			{ID: "a", ScheduledDays: []int{1, 3}, RawProjection: map[int]types.RawProjection{1: {Mean: 9, Variance: 16}}},
		},
		Matchup:        types.Matchup{MyScore: 40, OpponentScore: 52},
		LeagueActivity: 1,
	}
}

func TestPlanKeyDeterministic(t *testing.T) {
	k1, err := PlanKey("2026-W42", 3, 2, testSnapshot())
	require.NoError(t, err)
	k2, err := PlanKey("2026-W42", 3, 2, testSnapshot())
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "2026-W42:3:2:"))
}

func TestPlanKeyChangesWithInputs(t *testing.T) {
	base, err := PlanKey("2026-W42", 3, 2, testSnapshot())
	require.NoError(t, err)

	changed := testSnapshot()
	changed.Matchup.OpponentScore = 60

	tests := []struct {
		name     string
		weekID   string
		version  int
		day      int
		snapshot types.Snapshot
	}{
		{"week", "2026-W43", 3, 2, testSnapshot()},
		{"version", "2026-W42", 4, 2, testSnapshot()},
		{"day", "2026-W42", 3, 3, testSnapshot()},
		{"snapshot", "2026-W42", 3, 2, changed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := PlanKey(tt.weekID, tt.version, tt.day, tt.snapshot)
			require.NoError(t, err)
			assert.NotEqual(t, base, key)
		})
	}
}

// memoryRedis answers the handful of commands the cache issues from a map,
// so the client never dials a server.
type memoryRedis struct {
	data map[string]string
}

func (m *memoryRedis) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (m *memoryRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (m *memoryRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		args := cmd.Args()
		switch cmd.Name() {
		case "ping":
			cmd.(*redis.StatusCmd).SetVal("PONG")
		case "set":
			m.data[argString(args[1])] = argString(args[2])
			cmd.(*redis.StatusCmd).SetVal("OK")
		case "get":
			val, ok := m.data[argString(args[1])]
			if !ok {
				return redis.Nil
			}
			cmd.(*redis.StringCmd).SetVal(val)
		case "keys":
			var keys []string
			for key := range m.data {
				if ok, _ := path.Match(argString(args[1]), key); ok {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)
			cmd.(*redis.StringSliceCmd).SetVal(keys)
		case "del":
			var deleted int64
			for _, arg := range args[1:] {
				key := argString(arg)
				if _, ok := m.data[key]; ok {
					delete(m.data, key)
					deleted++
				}
			}
			cmd.(*redis.IntCmd).SetVal(deleted)
		case "dbsize":
			cmd.(*redis.IntCmd).SetVal(int64(len(m.data)))
		default:
			return fmt.Errorf("unexpected command %q", cmd.Name())
		}
		return nil
	}
}

func argString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func newTestService(t *testing.T) (*PlanCacheService, *memoryRedis) {
	t.Helper()
	store := &memoryRedis{data: make(map[string]string)}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(store)
	t.Cleanup(func() { client.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewPlanCacheService(client, logger), store
}

func TestSetAndGetPlan(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	key, err := PlanKey("2026-W42", 1, 2, testSnapshot())
	require.NoError(t, err)

	plan := &CachedPlan{
		Plan: types.Plan{
			ID:         uuid.New(),
			Day:        2,
			Status:     types.PlanStatusOptimal,
			Entries:    []types.PlanEntry{{CandidateID: "a", Day: 3, AdjustedValue: 9.5}},
			TotalValue: 9.5,
			BudgetUsed: 1,
		},
		Theta:    0.4,
		Limits:   types.AddLimits{ReserveUnits: 1, ReserveValue: 15},
		Urgency:  []types.UrgencyRank{{CandidateID: "a", Score: 4.2, Value: 8.4, DaysLeft: 2, MultiDay: false}},
		CachedAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, svc.SetPlan(ctx, key, plan, time.Minute))
	assert.Contains(t, store.data, planKeyPrefix+key)

	got, err := svc.GetPlan(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, plan.Plan.ID, got.Plan.ID)
	assert.Equal(t, plan.Plan.Entries, got.Plan.Entries)
	assert.Equal(t, plan.Limits, got.Limits)
	assert.Equal(t, plan.Urgency, got.Urgency)
	assert.True(t, plan.CachedAt.Equal(got.CachedAt))
}

func TestGetPlanMiss(t *testing.T) {
	svc, _ := newTestService(t)

	plan, err := svc.GetPlan(context.Background(), "2026-W42:0:0:missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, plan)
}

func TestGetPlanCorruptEntry(t *testing.T) {
	svc, store := newTestService(t)
	store.data[planKeyPrefix+"broken"] = "{not json"

	_, err := svc.GetPlan(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestFlushWeekKeepsOtherWeeks(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for _, key := range []string{"2026-W42:0:0:aa", "2026-W42:3:1:bb", "2026-W43:0:0:cc"} {
		require.NoError(t, svc.SetPlan(ctx, key, &CachedPlan{}, time.Minute))
	}
	require.NoError(t, svc.SaveBanditParams(ctx, types.BanditParams{Dimension: 1}))

	require.NoError(t, svc.FlushWeek(ctx, "2026-W42"))

	_, err := svc.GetPlan(ctx, "2026-W42:0:0:aa")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = svc.GetPlan(ctx, "2026-W43:0:0:cc")
	assert.NoError(t, err)
	assert.Contains(t, store.data, banditParamsKey)

	// flushing an empty week is not an error
	assert.NoError(t, svc.FlushWeek(ctx, "2026-W40"))
}

func TestBanditParamsRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadBanditParams(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	params := types.BanditParams{
		Dimension:    2,
		Lambda:       1,
		Design:       []float64{2, 0.5, 0.5, 3},
		Response:     []float64{4, 1.5},
		Observed:     []string{"a@1", "b@2"},
		Observations: 2,
	}
	require.NoError(t, svc.SaveBanditParams(ctx, params))

	got, err := svc.LoadBanditParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, params, *got)
}

func TestGetStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetPlan(ctx, "2026-W42:0:0:aa", &CachedPlan{}, time.Minute))
	require.NoError(t, svc.SaveBanditParams(ctx, types.BanditParams{}))
	require.NoError(t, svc.Ping(ctx))

	status := svc.GetStatus(ctx)
	assert.Equal(t, true, status["connected"])
	assert.Equal(t, int64(2), status["db_size"])
	assert.Equal(t, 1, status["plan_keys"])
}
