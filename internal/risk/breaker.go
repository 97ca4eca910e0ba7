package risk

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Discovery breaker tuning: three consecutive failures inside a five
// minute counting window open the breaker for thirty seconds. The
// orchestrator treats an open breaker as a discovery failure and aborts
// the selection cycle.
const (
	discoveryCountInterval = 5 * time.Minute
	discoveryOpenTimeout   = 30 * time.Second

	discoveryTripThreshold = 3
)

// NewDiscoveryBreaker builds the circuit breaker that guards the external
// symbol discovery feed.
func NewDiscoveryBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "discovery",
		Interval: discoveryCountInterval,
		Timeout:  discoveryOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= discoveryTripThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}
