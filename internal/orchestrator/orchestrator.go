// Package orchestrator runs the periodic selection cycle: refresh the
// tradable universe, pull discovery candidates, sweep parameters for every
// valid ticker in parallel, rank by net profit and reconcile the running
// fleet against the new top selection by set difference.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/fleet"
	"github.com/ajitpratap0/titanfleet/internal/metrics"
	"github.com/ajitpratap0/titanfleet/pkg/backtest"
)

// Fleet is the slice of the bot manager the orchestrator drives. Stops are
// always issued with position management so dropped symbols flatten before
// their agent dies.
type Fleet interface {
	StartBot(ctx context.Context, symbol string, params fleet.AgentParams) error
	StopBot(ctx context.Context, symbol string, managePosition bool)
}

// Optimizer produces the best parameter set for one ticker, or nil when no
// combination is usable. *backtest.Optimizer satisfies it.
type Optimizer interface {
	Optimize(ctx context.Context, ticker string) (*backtest.Result, error)
}

// InstrumentSource lists the tradable perpetual symbols. exchange.Gateway
// satisfies it.
type InstrumentSource interface {
	Instruments(ctx context.Context) ([]string, error)
}

// SelectionListener is told the ranked selection after every completed
// cycle. The telemetry publisher implements it.
type SelectionListener interface {
	SelectionChanged(selection []*backtest.Result)
}

// Orchestrator owns symbol selection. It never talks to agents directly;
// all lifecycle work goes through the bot manager.
type Orchestrator struct {
	cfg         *config.Config
	instruments InstrumentSource
	fleet       Fleet
	optimizer   Optimizer
	discovery   *DiscoveryClient
	listeners   []SelectionListener
	logger      zerolog.Logger

	// universe is the last successfully fetched tradable set; current maps
	// selected symbols to the params their agents actually run with.
	mu       sync.RWMutex
	universe map[string]struct{}
	current  map[string]fleet.AgentParams

	paused      bool
	pausedMutex sync.RWMutex
}

// New builds an Orchestrator. listeners may be empty.
func New(cfg *config.Config, instruments InstrumentSource, flt Fleet, optimizer Optimizer, listeners ...SelectionListener) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		instruments: instruments,
		fleet:       flt,
		optimizer:   optimizer,
		discovery:   NewDiscoveryClient(cfg.Orchestrator.DiscoveryURL),
		listeners:   listeners,
		logger:      config.NewLogger("orchestrator"),
		universe:    make(map[string]struct{}),
		current:     make(map[string]fleet.AgentParams),
	}
}

// Run executes the first cycle immediately, then one cycle per interval
// until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := time.Duration(o.cfg.Orchestrator.CycleMinutes) * time.Minute
	o.logger.Info().Dur("interval", interval).Msg("Starting selection loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Selection loop stopped")
			return
		case <-ticker.C:
			o.Cycle(ctx)
		}
	}
}

// Cycle runs one full selection pass. Any failure before ranking aborts
// the pass and leaves the current selection untouched; the next tick
// retries from scratch.
func (o *Orchestrator) Cycle(ctx context.Context) {
	if o.IsPaused() {
		o.logger.Info().Msg("Selection paused - skipping cycle")
		return
	}

	start := time.Now()
	o.logger.Info().Msg("Starting selection cycle")

	universe, err := o.refreshUniverse(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("No tradable universe - aborting cycle")
		metrics.RecordCycle(metrics.CycleResultAborted)
		return
	}

	candidates, err := o.discovery.TopCandidates(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("Candidate discovery failed - aborting cycle")
		metrics.RecordCycle(metrics.CycleResultAborted)
		return
	}

	valid := make([]string, 0, len(candidates))
	for _, sym := range candidates {
		if _, ok := universe[sym]; ok {
			valid = append(valid, sym)
		}
	}
	o.logger.Info().
		Int("candidates", len(candidates)).
		Int("valid", len(valid)).
		Msg("Validated candidates against tradable universe")

	if len(valid) == 0 {
		o.logger.Warn().Msg("No tradable candidates - aborting cycle")
		metrics.RecordCycle(metrics.CycleResultEmpty)
		return
	}

	results := o.optimizeAll(ctx, valid)
	if ctx.Err() != nil {
		metrics.RecordCycle(metrics.CycleResultAborted)
		return
	}

	top := backtest.Rank(results)
	if len(top) > o.cfg.Orchestrator.TopN {
		top = top[:o.cfg.Orchestrator.TopN]
	}

	o.reconcile(ctx, top)

	metrics.RecordCycle(metrics.CycleResultOK)
	o.logger.Info().
		Dur("took", time.Since(start)).
		Int("selected", len(top)).
		Msg("Selection cycle complete")
}

// refreshUniverse pulls the tradable symbols from the gateway. A failed
// pull falls back to the previous universe; an empty universe (fresh or
// fallen back to) is an error that aborts the cycle.
func (o *Orchestrator) refreshUniverse(ctx context.Context) (map[string]struct{}, error) {
	symbols, err := o.instruments.Instruments(ctx)
	if err != nil {
		o.mu.RLock()
		previous := o.universe
		o.mu.RUnlock()
		if len(previous) > 0 {
			o.logger.Warn().Err(err).
				Int("symbols", len(previous)).
				Msg("Universe refresh failed - reusing previous universe")
			return previous, nil
		}
		return nil, fmt.Errorf("refresh tradable universe: %w", err)
	}

	fresh := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		fresh[sym] = struct{}{}
	}

	o.mu.Lock()
	o.universe = fresh
	o.mu.Unlock()

	if len(fresh) == 0 {
		return nil, fmt.Errorf("tradable universe is empty")
	}
	o.logger.Debug().Int("symbols", len(fresh)).Msg("Tradable universe refreshed")
	return fresh, nil
}

// optimizeAll sweeps every valid ticker under bounded parallelism and
// returns the non-nil results. Only context cancellation interrupts the
// group; per-ticker problems surface as nil results.
func (o *Orchestrator) optimizeAll(ctx context.Context, tickers []string) []*backtest.Result {
	slots := make([]*backtest.Result, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Orchestrator.MaxConcurrency)

	for i, ticker := range tickers {
		g.Go(func() error {
			started := time.Now()
			res, err := o.optimizer.Optimize(gctx, ticker)
			metrics.ObserveOptimize(time.Since(started).Seconds())
			if err != nil {
				return err
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn().Err(err).Msg("Parameter sweep interrupted")
	}

	results := make([]*backtest.Result, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}
	return results
}

// reconcile applies the new selection by set difference: symbols leaving
// the selection are stopped with position management, new symbols are
// started with their swept params. Symbols present in both keep the params
// their agent was started with; agents are never re-tuned mid-flight.
func (o *Orchestrator) reconcile(ctx context.Context, top []*backtest.Result) {
	o.mu.RLock()
	current := o.current
	o.mu.RUnlock()

	next := make(map[string]fleet.AgentParams, len(top))
	selected := make([]string, 0, len(top))
	for _, r := range top {
		params := fleet.AgentParams{Period: r.Params.Period, Multiplier: r.Params.Multiplier}
		if running, ok := current[r.Ticker]; ok {
			params = running
		}
		next[r.Ticker] = params
		selected = append(selected, r.Ticker)
	}

	var toStop, toStart []string
	for sym := range current {
		if _, ok := next[sym]; !ok {
			toStop = append(toStop, sym)
		}
	}
	for sym := range next {
		if _, ok := current[sym]; !ok {
			toStart = append(toStart, sym)
		}
	}
	sort.Strings(toStop)
	sort.Strings(toStart)

	o.logger.Info().
		Strs("selected", selected).
		Strs("start", toStart).
		Strs("stop", toStop).
		Msg("Reconciling fleet against new selection")

	for _, sym := range toStop {
		o.fleet.StopBot(ctx, sym, true)
	}
	for _, sym := range toStart {
		if err := o.fleet.StartBot(ctx, sym, next[sym]); err != nil {
			o.logger.Error().Err(err).
				Str("symbol", sym).
				Msg("Failed to start agent - dropping from selection until next cycle")
			delete(next, sym)
		}
	}

	o.mu.Lock()
	o.current = next
	o.mu.Unlock()

	for _, l := range o.listeners {
		l.SelectionChanged(top)
	}
}

// CurrentSelection returns the selected symbols in sorted order.
func (o *Orchestrator) CurrentSelection() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.current))
	for sym := range o.current {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Pause suspends selection cycles. Running agents keep trading; the fleet
// just stops rotating until Resume.
func (o *Orchestrator) Pause() error {
	o.pausedMutex.Lock()
	defer o.pausedMutex.Unlock()

	if o.paused {
		return fmt.Errorf("selection is already paused")
	}
	o.paused = true
	o.logger.Info().Msg("Selection paused - agents keep trading, no new cycles")
	return nil
}

// Resume re-enables selection cycles.
func (o *Orchestrator) Resume() error {
	o.pausedMutex.Lock()
	defer o.pausedMutex.Unlock()

	if !o.paused {
		return fmt.Errorf("selection is not paused")
	}
	o.paused = false
	o.logger.Info().Msg("Selection resumed")
	return nil
}

// IsPaused reports whether selection cycles are suspended.
func (o *Orchestrator) IsPaused() bool {
	o.pausedMutex.RLock()
	defer o.pausedMutex.RUnlock()
	return o.paused
}
