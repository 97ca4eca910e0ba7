package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
)

func testTrade(symbol string, price, qty float64, ts time.Time) exchange.Trade {
	return exchange.Trade{Symbol: symbol, Price: price, Qty: qty, Time: ts}
}

func TestRouterFansOutPriceUpdates(t *testing.T) {
	r := NewRouter(nil, 30, 3.0)

	strategyCh := make(chan Enriched, 1)
	priceCh := make(chan PriceUpdate, 4)
	r.Register("BTCUSDT", strategyCh, priceCh)

	now := time.Now()
	r.handleTrade(testTrade("BTCUSDT", 30100, 0.5, now))

	select {
	case update := <-priceCh:
		assert.Equal(t, "BTCUSDT", update.Symbol)
		assert.Equal(t, 30100.0, update.Price)
	default:
		t.Fatal("expected a price update")
	}

	r.mu.Lock()
	ticks := len(r.subs["BTCUSDT"].ticks)
	r.mu.Unlock()
	assert.Equal(t, 1, ticks, "trade lands in the tick buffer")
}

func TestRouterPriceChannelDropsOldest(t *testing.T) {
	r := NewRouter(nil, 30, 3.0)

	priceCh := make(chan PriceUpdate, 2)
	r.Register("BTCUSDT", make(chan Enriched, 1), priceCh)

	now := time.Now()
	r.handleTrade(testTrade("BTCUSDT", 1, 0.1, now))
	r.handleTrade(testTrade("BTCUSDT", 2, 0.1, now))
	r.handleTrade(testTrade("BTCUSDT", 3, 0.1, now))

	first := <-priceCh
	second := <-priceCh
	assert.Equal(t, 2.0, first.Price, "oldest update was evicted")
	assert.Equal(t, 3.0, second.Price)
}

func TestRouterIgnoresUnregisteredSymbols(t *testing.T) {
	r := NewRouter(nil, 30, 3.0)

	r.handleTrade(testTrade("ETHUSDT", 2000, 1, time.Now()))

	r.mu.Lock()
	subs := len(r.subs)
	r.mu.Unlock()
	assert.Zero(t, subs)
	assert.Nil(t, r.HistorySnapshot("ETHUSDT"))
}

func TestRouterResamplesOneBar(t *testing.T) {
	r := NewRouter(nil, 30, 3.0)

	strategyCh := make(chan Enriched, 1)
	r.Register("BTCUSDT", strategyCh, make(chan PriceUpdate, 8))

	base := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	r.handleTrade(testTrade("BTCUSDT", 100, 1, base))
	r.handleTrade(testTrade("BTCUSDT", 130, 2, base.Add(10*time.Second)))
	r.handleTrade(testTrade("BTCUSDT", 90, 1, base.Add(20*time.Second)))
	r.handleTrade(testTrade("BTCUSDT", 110, 0.5, base.Add(30*time.Second)))

	r.resampleAll()

	history := r.HistorySnapshot("BTCUSDT")
	require.Len(t, history, 1)

	bar := history[0]
	assert.Equal(t, base.Truncate(time.Minute), bar.TS)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 130.0, bar.High)
	assert.Equal(t, 90.0, bar.Low)
	assert.Equal(t, 110.0, bar.Close)
	assert.Equal(t, 4.5, bar.Volume)

	assert.Empty(t, strategyCh, "one bar is below the enrichment threshold")

	// The tick buffer was drained; an empty window produces no bar.
	r.resampleAll()
	assert.Len(t, r.HistorySnapshot("BTCUSDT"), 1)
}

func TestRouterEnrichesAfterPeriod(t *testing.T) {
	r := NewRouter(nil, 2, 3.0)

	strategyCh := make(chan Enriched, 1)
	r.Register("BTCUSDT", strategyCh, make(chan PriceUpdate, 8))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for cycle := 0; cycle < 3; cycle++ {
		ts := base.Add(time.Duration(cycle) * time.Minute)
		r.handleTrade(testTrade("BTCUSDT", 100+float64(cycle), 1, ts))
		r.resampleAll()
	}

	// Three bars with period 2 crosses the len > period threshold.
	select {
	case enriched := <-strategyCh:
		assert.Equal(t, "BTCUSDT", enriched.Symbol)
		require.Len(t, enriched.Bars, 3)
		require.Len(t, enriched.Directions, 3)

		// The receiver owns its copy; mutating it must not corrupt the
		// router's history.
		enriched.Bars[0].Close = -1
		assert.Equal(t, 100.0, r.HistorySnapshot("BTCUSDT")[0].Close)
	default:
		t.Fatal("expected an enriched history after the third bar")
	}
}

func TestRouterDropsEnrichedWhenAgentSlow(t *testing.T) {
	r := NewRouter(nil, 1, 3.0)

	strategyCh := make(chan Enriched, 1)
	r.Register("BTCUSDT", strategyCh, make(chan PriceUpdate, 8))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for cycle := 0; cycle < 3; cycle++ {
		ts := base.Add(time.Duration(cycle) * time.Minute)
		r.handleTrade(testTrade("BTCUSDT", 100, 1, ts))
		r.resampleAll()
	}

	// Cycles 2 and 3 both enrich; the unconsumed buffer holds only the
	// first, the second was dropped, and the router kept running.
	assert.Len(t, strategyCh, 1)
	assert.Len(t, r.HistorySnapshot("BTCUSDT"), 3)
}

func TestRouterHistoryBounded(t *testing.T) {
	r := NewRouter(nil, 600, 3.0)

	r.Register("BTCUSDT", make(chan Enriched, 1), make(chan PriceUpdate, 8))

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for cycle := 0; cycle < historyLimit+20; cycle++ {
		ts := base.Add(time.Duration(cycle) * time.Minute)
		r.handleTrade(testTrade("BTCUSDT", float64(cycle), 1, ts))
		r.resampleAll()
	}

	history := r.HistorySnapshot("BTCUSDT")
	require.Len(t, history, historyLimit)
	assert.Equal(t, 20.0, history[0].Open, "oldest bars were trimmed")
}

func TestRouterSetSuperTrendOverride(t *testing.T) {
	r := NewRouter(nil, 30, 3.0)

	// Override before registration applies at Register time.
	r.SetSuperTrend("BTCUSDT", 5, 2.0)
	r.Register("BTCUSDT", make(chan Enriched, 1), make(chan PriceUpdate, 8))

	r.mu.Lock()
	params := r.subs["BTCUSDT"].params
	r.mu.Unlock()
	assert.Equal(t, stParams{period: 5, multiplier: 2.0}, params)

	// Override after registration mutates the live subscription.
	r.SetSuperTrend("BTCUSDT", 40, 3.5)
	r.mu.Lock()
	params = r.subs["BTCUSDT"].params
	r.mu.Unlock()
	assert.Equal(t, stParams{period: 40, multiplier: 3.5}, params)
}

func TestRouterDeregisterDiscardsState(t *testing.T) {
	r := NewRouter(nil, 1, 3.0)

	r.Register("BTCUSDT", make(chan Enriched, 1), make(chan PriceUpdate, 8))
	r.handleTrade(testTrade("BTCUSDT", 100, 1, time.Now()))
	r.resampleAll()
	require.Len(t, r.HistorySnapshot("BTCUSDT"), 1)

	r.Deregister("BTCUSDT")
	assert.Nil(t, r.HistorySnapshot("BTCUSDT"))

	// A fresh registration starts cold.
	r.Register("BTCUSDT", make(chan Enriched, 1), make(chan PriceUpdate, 8))
	assert.Nil(t, r.HistorySnapshot("BTCUSDT"))
}

func TestRouterRunConsumesStream(t *testing.T) {
	trades := make(chan exchange.Trade, 8)
	r := NewRouter(trades, 30, 3.0)

	priceCh := make(chan PriceUpdate, 8)
	r.Register("BTCUSDT", make(chan Enriched, 1), priceCh)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	trades <- testTrade("BTCUSDT", 30500, 0.2, time.Now())

	select {
	case update := <-priceCh:
		assert.Equal(t, 30500.0, update.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("price update not routed")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop on cancel")
	}
}

func TestRouterRunExitsOnClosedStream(t *testing.T) {
	trades := make(chan exchange.Trade)
	r := NewRouter(trades, 30, 3.0)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	close(trades)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("router did not exit on closed stream")
	}
}
