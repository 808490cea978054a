package snapshot

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Breaker names, one per upstream source
const (
	SourceCandidates  = "candidates"
	SourceProjections = "projections"
	SourceMarket      = "market"
	SourceMatchup     = "matchup"
	SourceReports     = "reports"
)

// BreakerSet isolates each upstream source behind its own circuit breaker
type BreakerSet struct {
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *logrus.Logger
}

// NewBreakerSet creates breakers for every known source
func NewBreakerSet(threshold int, timeout time.Duration, logger *logrus.Logger) *BreakerSet {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range []string{SourceCandidates, SourceProjections, SourceMarket, SourceMatchup, SourceReports} {
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: uint32(threshold),
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"component": "circuit_breaker",
					"source":    name,
					"from":      from.String(),
					"to":        to.String(),
				}).Info("Circuit breaker state changed")
			},
		})
	}

	return &BreakerSet{
		breakers: breakers,
		logger:   logger,
	}
}

// Execute wraps a source call with circuit breaker protection
func (b *BreakerSet) Execute(source string, fn func() (interface{}, error)) (interface{}, error) {
	breaker, exists := b.breakers[source]
	if !exists {
		b.logger.WithFields(logrus.Fields{
			"component": "circuit_breaker",
			"source":    source,
		}).Warn("No circuit breaker found for source, executing without protection")
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the current state of a source's breaker
func (b *BreakerSet) State(source string) gobreaker.State {
	if breaker, exists := b.breakers[source]; exists {
		return breaker.State()
	}
	return gobreaker.StateClosed
}

// States reports every breaker's state by source name
func (b *BreakerSet) States() map[string]string {
	out := make(map[string]string, len(b.breakers))
	for name, breaker := range b.breakers {
		out[name] = breaker.State().String()
	}
	return out
}
