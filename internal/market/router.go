// Package market routes the gateway trade stream to per-symbol agents:
// every trade fans out as a price update, and a wall-clock ticker
// resamples buffered ticks into one-minute OHLCV bars enriched with
// SuperTrend directions.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/indicators"
)

const (
	resampleInterval = 60 * time.Second
	historyLimit     = 500
)

type tick struct {
	price float64
	qty   float64
	ts    time.Time
}

type stParams struct {
	period     int
	multiplier float64
}

type subscription struct {
	strategyCh chan<- Enriched
	priceCh    chan PriceUpdate
	params     stParams

	ticks   []tick
	history []Bar
}

// Router consumes the gateway trade stream and serves registered agents.
// Registration is the sole authority for which symbols are managed.
type Router struct {
	trades <-chan exchange.Trade

	mu     sync.Mutex
	subs   map[string]*subscription
	params map[string]stParams

	defaults stParams
	logger   zerolog.Logger
}

// NewRouter creates a router over a gateway trade stream. period and
// multiplier are the SuperTrend defaults applied to registrations that
// have no per-symbol override.
func NewRouter(trades <-chan exchange.Trade, period int, multiplier float64) *Router {
	return &Router{
		trades:   trades,
		subs:     make(map[string]*subscription),
		params:   make(map[string]stParams),
		defaults: stParams{period: period, multiplier: multiplier},
		logger:   config.NewLogger("market_router"),
	}
}

// Register attaches an agent's channels to a symbol. The price channel
// MUST be buffered; on overflow the oldest update is evicted. An existing
// registration for the symbol is replaced with fresh state.
func (r *Router) Register(symbol string, strategyCh chan<- Enriched, priceCh chan PriceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[symbol]; ok {
		r.logger.Warn().Str("symbol", symbol).Msg("Replacing existing registration")
	}

	params, ok := r.params[symbol]
	if !ok {
		params = r.defaults
	}

	r.subs[symbol] = &subscription{
		strategyCh: strategyCh,
		priceCh:    priceCh,
		params:     params,
	}

	r.logger.Info().
		Str("symbol", symbol).
		Int("supertrend_period", params.period).
		Float64("supertrend_multiplier", params.multiplier).
		Msg("Symbol registered")
}

// Deregister detaches a symbol. Its tick buffer and bar history are
// discarded; a later registration starts cold.
func (r *Router) Deregister(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, symbol)
	r.logger.Info().Str("symbol", symbol).Msg("Symbol deregistered")
}

// SetSuperTrend overrides the SuperTrend parameters for one symbol. The
// override applies to the live registration if present and to any future
// registration of the symbol.
func (r *Router) SetSuperTrend(symbol string, period int, multiplier float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := stParams{period: period, multiplier: multiplier}
	r.params[symbol] = p
	if sub, ok := r.subs[symbol]; ok {
		sub.params = p
	}
}

// HistorySnapshot returns a copy of a symbol's current bar history, or
// nil when the symbol is not registered.
func (r *Router) HistorySnapshot(symbol string) []Bar {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[symbol]
	if !ok || len(sub.history) == 0 {
		return nil
	}
	out := make([]Bar, len(sub.history))
	copy(out, sub.history)
	return out
}

// Run consumes the trade stream until the context is cancelled or the
// stream closes. Every 60 s of wall clock it resamples each registered
// symbol's buffered ticks into one bar.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info().Dur("resample_interval", resampleInterval).Msg("Market data router running")

	ticker := time.NewTicker(resampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Market data router stopped")
			return ctx.Err()
		case trade, ok := <-r.trades:
			if !ok {
				r.logger.Info().Msg("Trade stream closed, router exiting")
				return nil
			}
			r.handleTrade(trade)
		case <-ticker.C:
			r.resampleAll()
		}
	}
}

// handleTrade fans a trade out to its symbol's price channel and tick
// buffer. Trades for unregistered symbols are dropped.
func (r *Router) handleTrade(t exchange.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[t.Symbol]
	if !ok {
		return
	}

	update := PriceUpdate{Symbol: t.Symbol, Price: t.Price}
	select {
	case sub.priceCh <- update:
	default:
		// Full: evict the oldest update and retry. The router is the
		// only sender, so the retry cannot race another producer.
		select {
		case <-sub.priceCh:
		default:
		}
		select {
		case sub.priceCh <- update:
		default:
		}
	}

	sub.ticks = append(sub.ticks, tick{price: t.Price, qty: t.Qty, ts: t.Time})
}

// resampleAll drains every registered symbol's tick buffer into one
// OHLCV bar and, once enough history exists, sends the SuperTrend-
// enriched history to the agent's strategy channel.
func (r *Router) resampleAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol, sub := range r.subs {
		if len(sub.ticks) == 0 {
			continue
		}

		bar := resample(sub.ticks)
		sub.ticks = sub.ticks[:0]

		sub.history = append(sub.history, bar)
		if len(sub.history) > historyLimit {
			sub.history = sub.history[len(sub.history)-historyLimit:]
		}

		if len(sub.history) <= sub.params.period {
			continue
		}

		highs := make([]float64, len(sub.history))
		lows := make([]float64, len(sub.history))
		closes := make([]float64, len(sub.history))
		for i, b := range sub.history {
			highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
		}

		dirs, err := indicators.SuperTrend(highs, lows, closes, sub.params.period, sub.params.multiplier)
		if err != nil {
			r.logger.Error().Err(err).Str("symbol", symbol).Msg("SuperTrend computation failed")
			continue
		}

		bars := make([]Bar, len(sub.history))
		copy(bars, sub.history)

		select {
		case sub.strategyCh <- Enriched{Symbol: symbol, Bars: bars, Directions: dirs}:
			r.logger.Debug().
				Str("symbol", symbol).
				Int("bars", len(bars)).
				Float64("last_close", bar.Close).
				Msg("Enriched history dispatched")
		default:
			r.logger.Warn().Str("symbol", symbol).Msg("Strategy channel full, dropping enriched history")
		}
	}
}

// resample collapses a non-empty tick buffer into one OHLCV bar:
// first/max/min/last prices, volume summed, timestamped at the minute
// the first tick belongs to.
func resample(ticks []tick) Bar {
	bar := Bar{
		TS:    ticks[0].ts.Truncate(time.Minute),
		Open:  ticks[0].price,
		High:  ticks[0].price,
		Low:   ticks[0].price,
		Close: ticks[len(ticks)-1].price,
	}
	for _, t := range ticks {
		if t.price > bar.High {
			bar.High = t.price
		}
		if t.price < bar.Low {
			bar.Low = t.price
		}
		bar.Volume += t.qty
	}
	return bar
}
