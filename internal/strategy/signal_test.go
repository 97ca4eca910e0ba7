package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/titanfleet/internal/market"
)

func enrichedWith(dirs ...int) market.Enriched {
	bars := make([]market.Bar, len(dirs))
	for i := range bars {
		bars[i] = market.Bar{Close: 100 + float64(i)}
	}
	return market.Enriched{Symbol: "BTCUSDT", Bars: bars, Directions: dirs}
}

func fixedStatus(s Status) StatusFunc {
	return func() Status { return s }
}

func TestGeneratorEmitsEntryLong(t *testing.T) {
	signals := make(chan Signal, 8)
	g := NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusFlat))

	g.evaluate(enrichedWith(1, 1, 1))

	require.Len(t, signals, 1)
	sig := <-signals
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, EntryLong, sig.Kind)
	assert.NotEmpty(t, sig.Reason)
}

func TestGeneratorEmitsEntryShort(t *testing.T) {
	signals := make(chan Signal, 8)
	g := NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusFlat))

	g.evaluate(enrichedWith(1, -1, -1))

	require.Len(t, signals, 1)
	assert.Equal(t, EntryShort, (<-signals).Kind)
}

func TestGeneratorDecidesOnSecondToLastBar(t *testing.T) {
	signals := make(chan Signal, 8)
	g := NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusFlat))

	// The still-forming last bar flipped short, but the closed bar is
	// still long: the decision follows the closed bar.
	g.evaluate(enrichedWith(1, 1, -1))

	require.Len(t, signals, 1)
	assert.Equal(t, EntryLong, (<-signals).Kind)
}

func TestGeneratorSilentWhenAligned(t *testing.T) {
	signals := make(chan Signal, 8)

	g := NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusLong))
	g.evaluate(enrichedWith(1, 1, 1))
	assert.Empty(t, signals, "already long, no ENTRY_LONG")

	g = NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusShort))
	g.evaluate(enrichedWith(-1, -1, -1))
	assert.Empty(t, signals, "already short, no ENTRY_SHORT")
}

func TestGeneratorSkipsShortHistories(t *testing.T) {
	signals := make(chan Signal, 8)
	g := NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusFlat))

	g.evaluate(enrichedWith(1))
	g.evaluate(market.Enriched{Symbol: "BTCUSDT"})

	assert.Empty(t, signals)
}

func TestGeneratorSuppressesDuplicates(t *testing.T) {
	signals := make(chan Signal, 8)
	g := NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusFlat))

	g.evaluate(enrichedWith(1, 1, 1))
	g.evaluate(enrichedWith(1, 1, 1))
	g.evaluate(enrichedWith(1, 1, 1))

	assert.Len(t, signals, 1, "same kind at the same status emits once")
}

func TestGeneratorReemitsAfterReversalFlatten(t *testing.T) {
	// A short signal arrives while long; the portfolio manager flattens
	// (reversal closes, never re-enters). Once flat, the same short
	// signal must fire again or the agent would sit out the new trend.
	signals := make(chan Signal, 8)

	status := StatusLong
	g := NewGenerator("BTCUSDT", nil, signals, func() Status { return status })

	g.evaluate(enrichedWith(-1, -1, -1))
	require.Len(t, signals, 1)
	assert.Equal(t, EntryShort, (<-signals).Kind)

	// Manager flattened; status is now FLAT. Same enrichment, new status.
	status = StatusFlat
	g.evaluate(enrichedWith(-1, -1, -1))
	require.Len(t, signals, 1)
	assert.Equal(t, EntryShort, (<-signals).Kind)

	// And once the short is on, the signal goes quiet.
	status = StatusShort
	g.evaluate(enrichedWith(-1, -1, -1))
	assert.Empty(t, signals)
}

func TestGeneratorDoesNotMemoizeDroppedSignals(t *testing.T) {
	signals := make(chan Signal, 1)
	g := NewGenerator("BTCUSDT", nil, signals, fixedStatus(StatusFlat))

	// Fill the channel so the emission is dropped.
	signals <- Signal{}
	g.evaluate(enrichedWith(1, 1, 1))
	assert.Len(t, signals, 1, "signal was dropped on overflow")

	// Drain; the next evaluation re-emits because the drop left no memo.
	<-signals
	g.evaluate(enrichedWith(1, 1, 1))
	require.Len(t, signals, 1)
	assert.Equal(t, EntryLong, (<-signals).Kind)
}

func TestGeneratorRunLifecycle(t *testing.T) {
	enriched := make(chan market.Enriched, 1)
	signals := make(chan Signal, 8)
	g := NewGenerator("BTCUSDT", enriched, signals, fixedStatus(StatusFlat))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	enriched <- enrichedWith(1, 1, 1)
	select {
	case sig := <-signals:
		assert.Equal(t, EntryLong, sig.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not emitted through Run")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("generator did not stop on cancel")
	}
}

func TestGeneratorRunExitsOnClosedChannel(t *testing.T) {
	enriched := make(chan market.Enriched)
	g := NewGenerator("BTCUSDT", enriched, make(chan Signal, 8), fixedStatus(StatusFlat))

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	close(enriched)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("generator did not exit on closed channel")
	}
}
