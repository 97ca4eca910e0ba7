// Incremental kline history shared across selection cycles
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/market"
)

const (
	// Depth of the rolling window every sweep runs on.
	windowHours = 48

	// Bars requested per fetch once a window is already cached.
	incrementalLimit = 200
)

// windowBars is the bar count covering the rolling window at a given
// timeframe: 2880 one-minute bars, 576 five-minute bars, 192 fifteen-minute
// bars.
func windowBars(timeframeMin int) int {
	return windowHours * 60 / timeframeMin
}

// KlineSource fetches historical klines. exchange.Gateway satisfies it;
// tests substitute a scripted source.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int, startTime int64) ([]exchange.Kline, error)
}

type historyKey struct {
	ticker       string
	timeframeMin int
}

// History maintains a rolling in-memory kline window per (ticker,
// timeframe). The first fetch for a key pulls the full window; every later
// fetch asks only for bars strictly after the newest cached timestamp, so
// repeated 15-minute cycles cost a couple hundred bars instead of two days
// of history per ticker.
//
// An optional Redis cache fronts the gateway so that fleet restarts and
// sibling processes reuse recent fetch windows. The in-memory window stays
// authoritative; Redis only short-circuits identical gateway requests.
type History struct {
	source KlineSource
	cache  *market.KlineCache

	mu   sync.Mutex
	data map[historyKey][]exchange.Kline
}

// NewHistory builds a History over the given source. cache may be nil.
func NewHistory(source KlineSource, cache *market.KlineCache) *History {
	return &History{
		source: source,
		cache:  cache,
		data:   make(map[historyKey][]exchange.Kline),
	}
}

// Fetch returns the current rolling window for (ticker, timeframeMin),
// refreshing it from the source first. When the source fails but a cached
// window exists, the stale window is returned rather than an error; the
// sweep then runs on slightly old data, which beats skipping the ticker.
// Callers must treat the returned slice as read-only.
func (h *History) Fetch(ctx context.Context, ticker string, timeframeMin int) ([]exchange.Kline, error) {
	key := historyKey{ticker: ticker, timeframeMin: timeframeMin}

	h.mu.Lock()
	cached := h.data[key]
	h.mu.Unlock()

	var startMS int64
	limit := windowBars(timeframeMin)
	if len(cached) > 0 {
		startMS = cached[len(cached)-1].OpenTime + 1
		limit = incrementalLimit
	}

	interval := fmt.Sprintf("%dm", timeframeMin)

	fresh, err := h.fetchWindow(ctx, ticker, interval, limit, startMS)
	if err != nil {
		if len(cached) > 0 {
			log.Warn().Err(err).
				Str("ticker", ticker).
				Int("timeframe_min", timeframeMin).
				Msg("Kline fetch failed - reusing cached window")
			return cached, nil
		}
		return nil, fmt.Errorf("fetch %s %s klines: %w", ticker, interval, err)
	}

	if len(fresh) == 0 {
		return cached, nil
	}

	merged := mergeKlines(cached, fresh, windowBars(timeframeMin))

	h.mu.Lock()
	h.data[key] = merged
	h.mu.Unlock()

	log.Debug().
		Str("ticker", ticker).
		Int("timeframe_min", timeframeMin).
		Int("fetched", len(fresh)).
		Int("window", len(merged)).
		Msg("Kline window refreshed")

	return merged, nil
}

// fetchWindow goes through the Redis front when one is configured; both
// hit and miss paths return exactly what the gateway would.
func (h *History) fetchWindow(ctx context.Context, symbol, interval string, limit int, startMS int64) ([]exchange.Kline, error) {
	if klines, ok := h.cache.Get(ctx, symbol, interval, startMS, limit); ok {
		return klines, nil
	}

	klines, err := h.source.Klines(ctx, symbol, interval, limit, startMS)
	if err != nil {
		return nil, err
	}

	h.cache.Put(symbol, interval, startMS, limit, klines)
	return klines, nil
}

// mergeKlines combines a cached window with freshly fetched bars:
// duplicate timestamps resolve to the fresh bar, the result is sorted by
// open time ascending and trimmed to the newest `window` bars.
func mergeKlines(cached, fresh []exchange.Kline, window int) []exchange.Kline {
	byTime := make(map[int64]exchange.Kline, len(cached)+len(fresh))
	for _, k := range cached {
		byTime[k.OpenTime] = k
	}
	for _, k := range fresh {
		byTime[k.OpenTime] = k
	}

	merged := make([]exchange.Kline, 0, len(byTime))
	for _, k := range byTime {
		merged = append(merged, k)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime < merged[j].OpenTime })

	if len(merged) > window {
		merged = merged[len(merged)-window:]
	}
	return merged
}
