// Package strategy turns SuperTrend-enriched bar histories into entry
// signals. This is the alpha logic: everything downstream (sizing, grids,
// order routing) only reacts to what is emitted here.
package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/market"
	"github.com/ajitpratap0/titanfleet/internal/metrics"
)

// SignalKind names the desired position state.
type SignalKind string

const (
	EntryLong  SignalKind = "ENTRY_LONG"
	EntryShort SignalKind = "ENTRY_SHORT"
)

// Signal asks the portfolio manager to move toward a position state. The
// manager owns the transition (a short is flattened before going long).
type Signal struct {
	Symbol string
	Kind   SignalKind
	Reason string
}

// Status is an agent's current position state, derived from the sign of
// its position size.
type Status string

const (
	StatusFlat  Status = "FLAT"
	StatusLong  Status = "LONG"
	StatusShort Status = "SHORT"
)

// StatusFunc reports the position status at decision time. Injected so
// the generator never holds a reference into the portfolio manager.
type StatusFunc func() Status

// Generator consumes enriched histories for one symbol and emits entry
// signals. Decisions read the second-to-last bar: SuperTrend on the bar
// still forming is unstable, the closed prior bar is not.
type Generator struct {
	symbol   string
	enriched <-chan market.Enriched
	signals  chan<- Signal
	status   StatusFunc

	// Duplicate suppression: a signal is dropped only when both its kind
	// and the position status observed at emission match the previous
	// emission. Matching on kind alone would swallow the re-entry signal
	// that follows a reversal flatten.
	memoKind   SignalKind
	memoStatus Status
	hasMemo    bool

	logger zerolog.Logger
}

// NewGenerator wires a signal generator for one symbol.
func NewGenerator(symbol string, enriched <-chan market.Enriched, signals chan<- Signal, status StatusFunc) *Generator {
	return &Generator{
		symbol:   symbol,
		enriched: enriched,
		signals:  signals,
		status:   status,
		logger:   config.NewAgentLogger("signal_generator", symbol),
	}
}

// Run evaluates every enriched history until the context is cancelled or
// the channel closes.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info().Msg("Signal generator running")

	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Msg("Signal generator stopped")
			return ctx.Err()
		case enriched, ok := <-g.enriched:
			if !ok {
				g.logger.Info().Msg("Enriched channel closed, signal generator exiting")
				return nil
			}
			g.evaluate(enriched)
		}
	}
}

func (g *Generator) evaluate(e market.Enriched) {
	if len(e.Bars) < 2 || len(e.Directions) < 2 {
		g.logger.Debug().Int("bars", len(e.Bars)).Msg("Not enough closed bars to decide")
		return
	}

	// Latest fully-formed bar.
	dir := e.Directions[len(e.Directions)-2]
	status := g.status()

	var kind SignalKind
	var reason string
	switch {
	case dir == 1 && status != StatusLong:
		kind, reason = EntryLong, "SuperTrend flipped to bullish"
	case dir == -1 && status != StatusShort:
		kind, reason = EntryShort, "SuperTrend flipped to bearish"
	default:
		return
	}

	if g.hasMemo && g.memoKind == kind && g.memoStatus == status {
		return
	}

	select {
	case g.signals <- Signal{Symbol: g.symbol, Kind: kind, Reason: reason}:
		g.memoKind, g.memoStatus, g.hasMemo = kind, status, true
		metrics.RecordSignal(g.symbol, string(kind))
		g.logger.Info().
			Str("kind", string(kind)).
			Str("position_status", string(status)).
			Float64("last_close", e.Bars[len(e.Bars)-1].Close).
			Msg("Signal emitted")
	default:
		// Not memoized: the signal regenerates on the next enrichment.
		g.logger.Warn().Str("kind", string(kind)).Msg("Signal channel full, dropping signal")
	}
}
