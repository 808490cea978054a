package addpolicy

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/stitts-dev/stream-planner/pkg/config"
	"github.com/stitts-dev/stream-planner/pkg/types"
)

const lastDay = types.DaysPerWeek - 1

// Thresholds gives the minimum value an add must clear on each day. Without
// history the bar declines linearly from BaseThreshold; with history it
// slides from the opening to the closing percentile of realized points.
type Thresholds struct {
	config  config.AddPolicyConfig
	history []float64
}

// NewThresholds builds thresholds over the most recent realized points
func NewThresholds(cfg config.AddPolicyConfig, history []float64) *Thresholds {
	if cfg.HistoryLimit > 0 && len(history) > cfg.HistoryLimit {
		history = history[len(history)-cfg.HistoryLimit:]
	}
	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)
	return &Thresholds{config: cfg, history: sorted}
}

func (t *Thresholds) percentile(pct float64) float64 {
	return stat.Quantile(pct/100, stat.LinInterp, t.history, nil)
}

// Threshold is the value an add on day must exceed with addsLeft adds remaining
func (t *Thresholds) Threshold(day, addsLeft int) float64 {
	if len(t.history) == 0 {
		return t.config.BaseThreshold * (1 - float64(day)*t.config.DailyDecline)
	}

	span := t.config.OpeningPercentile - t.config.ClosingPercentile
	threshold := t.percentile(t.config.OpeningPercentile - float64(day)*span/lastDay)

	switch {
	case addsLeft <= 1:
		threshold *= t.config.ScarceMultiplier
	case addsLeft >= t.config.AmpleAdds:
		threshold *= t.config.AmpleMultiplier
	}
	return threshold
}

// OptionValue is what keeping an add for a later, better pickup is worth on day.
// The last add and the last day carry none.
func (t *Thresholds) OptionValue(day, addsLeft int) float64 {
	if addsLeft <= 1 || day >= lastDay {
		return 0
	}

	future := t.config.BaseThreshold
	if len(t.history) > 0 {
		future = t.percentile(t.config.FuturePercentile)
	}

	value := future * float64(addsLeft-1) / float64(addsLeft)
	return value * float64(lastDay-day) / lastDay
}
