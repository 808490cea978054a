package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/pkg/types"
)

// CandidateSource lists the addable candidates for a week
type CandidateSource interface {
	Candidates(ctx context.Context, weekID string) ([]types.Candidate, error)
}

// ProjectionSource returns per-day projections keyed by candidate
type ProjectionSource interface {
	Projections(ctx context.Context, weekID string, ids []types.CandidateID) (map[types.CandidateID]map[int]types.RawProjection, error)
}

// MarketSource returns per-candidate transaction signals and overall league activity
type MarketSource interface {
	Market(ctx context.Context, weekID string) (map[types.CandidateID]types.MarketSignal, float64, error)
}

// MatchupSource returns the current head-to-head score
type MatchupSource interface {
	Matchup(ctx context.Context, weekID string) (types.Matchup, error)
}

// ReportSource returns what happened on days in [fromDay, toDay)
type ReportSource interface {
	Reports(ctx context.Context, weekID string, fromDay, toDay int) ([]types.DayReport, error)
}

// Sources groups the upstream providers. Only Candidates is required.
type Sources struct {
	Candidates  CandidateSource
	Projections ProjectionSource
	Market      MarketSource
	Matchup     MatchupSource
	Reports     ReportSource
}

// Assembler materializes one consistent Snapshot from several sources
type Assembler struct {
	sources  Sources
	breakers *BreakerSet
	timeout  time.Duration
	logger   *logrus.Entry
}

// NewAssembler creates a new snapshot assembler
func NewAssembler(sources Sources, breakers *BreakerSet, timeout time.Duration, logger *logrus.Logger) *Assembler {
	return &Assembler{
		sources:  sources,
		breakers: breakers,
		timeout:  timeout,
		logger:   logger.WithField("component", "snapshot_assembler"),
	}
}

// Breakers exposes the breaker set for health reporting
func (a *Assembler) Breakers() *BreakerSet {
	return a.breakers
}

// Build fetches candidates, then projections, market signals and the matchup
// in parallel. Optional sources that fail leave their part of the snapshot
// as the candidate source provided it.
func (a *Assembler) Build(ctx context.Context, weekID string) (types.Snapshot, error) {
	if a.sources.Candidates == nil {
		return types.Snapshot{}, fmt.Errorf("no candidate source configured")
	}
	start := time.Now()

	raw, err := a.call(ctx, SourceCandidates, func(ctx context.Context) (interface{}, error) {
		return a.sources.Candidates.Candidates(ctx, weekID)
	})
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	candidates := raw.([]types.Candidate)

	ids := make([]types.CandidateID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	var (
		wg          sync.WaitGroup
		projections map[types.CandidateID]map[int]types.RawProjection
		market      map[types.CandidateID]types.MarketSignal
		activity    float64
		matchup     types.Matchup
		failed      []string
		mu          sync.Mutex
	)
	fail := func(source string, err error) {
		mu.Lock()
		failed = append(failed, source)
		mu.Unlock()
		a.logger.WithError(err).WithField("source", source).Warn("Snapshot source failed, continuing without it")
	}

	if a.sources.Projections != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.call(ctx, SourceProjections, func(ctx context.Context) (interface{}, error) {
				return a.sources.Projections.Projections(ctx, weekID, ids)
			})
			if err != nil {
				fail(SourceProjections, err)
				return
			}
			projections = res.(map[types.CandidateID]map[int]types.RawProjection)
		}()
	}

	if a.sources.Market != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.call(ctx, SourceMarket, func(ctx context.Context) (interface{}, error) {
				signals, act, err := a.sources.Market.Market(ctx, weekID)
				if err != nil {
					return nil, err
				}
				return marketResult{signals: signals, activity: act}, nil
			})
			if err != nil {
				fail(SourceMarket, err)
				return
			}
			mr := res.(marketResult)
			market, activity = mr.signals, mr.activity
		}()
	}

	if a.sources.Matchup != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.call(ctx, SourceMatchup, func(ctx context.Context) (interface{}, error) {
				return a.sources.Matchup.Matchup(ctx, weekID)
			})
			if err != nil {
				fail(SourceMatchup, err)
				return
			}
			matchup = res.(types.Matchup)
		}()
	}

	wg.Wait()

	snap := types.Snapshot{
		Candidates:     mergeCandidates(candidates, projections, market),
		Matchup:        matchup,
		LeagueActivity: activity,
	}

	sort.Strings(failed)
	a.logger.WithFields(logrus.Fields{
		"week_id":        weekID,
		"candidates":     len(snap.Candidates),
		"failed_sources": failed,
		"duration":       time.Since(start),
	}).Info("Snapshot assembled")

	return snap, nil
}

// Reports fetches day reports for [fromDay, toDay); no source means no reports
func (a *Assembler) Reports(ctx context.Context, weekID string, fromDay, toDay int) ([]types.DayReport, error) {
	if a.sources.Reports == nil || toDay <= fromDay {
		return nil, nil
	}
	res, err := a.call(ctx, SourceReports, func(ctx context.Context) (interface{}, error) {
		return a.sources.Reports.Reports(ctx, weekID, fromDay, toDay)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch day reports: %w", err)
	}
	return res.([]types.DayReport), nil
}

type marketResult struct {
	signals  map[types.CandidateID]types.MarketSignal
	activity float64
}

func (a *Assembler) call(ctx context.Context, source string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return a.breakers.Execute(source, func() (interface{}, error) {
		callCtx := ctx
		if a.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
}

// mergeCandidates overlays fetched projections and market signals without
// mutating the source's slices
func mergeCandidates(candidates []types.Candidate, projections map[types.CandidateID]map[int]types.RawProjection, market map[types.CandidateID]types.MarketSignal) []types.Candidate {
	out := make([]types.Candidate, len(candidates))
	for i, c := range candidates {
		merged := c
		merged.ScheduledDays = append([]int(nil), c.ScheduledDays...)
		merged.Context = append([]float64(nil), c.Context...)
		merged.RawProjection = make(map[int]types.RawProjection, len(c.RawProjection))
		for d, p := range c.RawProjection {
			merged.RawProjection[d] = p
		}
		for d, p := range projections[c.ID] {
			merged.RawProjection[d] = p
		}
		if signal, ok := market[c.ID]; ok {
			merged.Market = signal
		}
		out[i] = merged
	}
	return out
}
