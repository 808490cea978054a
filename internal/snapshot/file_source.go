package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stitts-dev/stream-planner/pkg/types"
)

// FileSource serves snapshots and day reports from a directory laid out as
// <dir>/<week id>/snapshot.json and <dir>/<week id>/reports.json
type FileSource struct {
	dir string
}

// NewFileSource creates a file-backed source rooted at dir
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Sources wires the file source into every assembler slot it can fill
func (f *FileSource) Sources() Sources {
	return Sources{
		Candidates: f,
		Market:     f,
		Matchup:    f,
		Reports:    f,
	}
}

func (f *FileSource) snapshot(weekID string) (types.Snapshot, error) {
	var snap types.Snapshot
	if err := f.read(weekID, "snapshot.json", &snap); err != nil {
		return types.Snapshot{}, err
	}
	return snap, nil
}

func (f *FileSource) read(weekID, name string, out interface{}) error {
	path := filepath.Join(f.dir, filepath.Base(weekID), name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Candidates returns the candidate list of the week's snapshot file
func (f *FileSource) Candidates(ctx context.Context, weekID string) ([]types.Candidate, error) {
	snap, err := f.snapshot(weekID)
	if err != nil {
		return nil, err
	}
	return snap.Candidates, nil
}

// Market returns the market signals embedded in the snapshot file
func (f *FileSource) Market(ctx context.Context, weekID string) (map[types.CandidateID]types.MarketSignal, float64, error) {
	snap, err := f.snapshot(weekID)
	if err != nil {
		return nil, 0, err
	}
	signals := make(map[types.CandidateID]types.MarketSignal, len(snap.Candidates))
	for _, c := range snap.Candidates {
		signals[c.ID] = c.Market
	}
	return signals, snap.LeagueActivity, nil
}

// Matchup returns the matchup recorded in the snapshot file
func (f *FileSource) Matchup(ctx context.Context, weekID string) (types.Matchup, error) {
	snap, err := f.snapshot(weekID)
	if err != nil {
		return types.Matchup{}, err
	}
	return snap.Matchup, nil
}

// Reports returns the reports in [fromDay, toDay). A missing file means no
// day has been reported yet.
func (f *FileSource) Reports(ctx context.Context, weekID string, fromDay, toDay int) ([]types.DayReport, error) {
	var all []types.DayReport
	if err := f.read(weekID, "reports.json", &all); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []types.DayReport
	for _, r := range all {
		if r.Day >= fromDay && r.Day < toDay {
			out = append(out, r)
		}
	}
	return out, nil
}
