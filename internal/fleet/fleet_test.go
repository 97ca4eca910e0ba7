package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/market"
	"github.com/ajitpratap0/titanfleet/internal/portfolio"
)

// fakeGateway fills market orders at a fixed price and rejects limit
// orders, so positions only change when a test asks for it.
type fakeGateway struct {
	fillPrice    float64
	subscribeErr error
	leverageErr  error

	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	leverages    map[string]int
	placed       []exchange.OrderRequest
	cancels      int
}

func newFakeGateway(fillPrice float64) *fakeGateway {
	return &fakeGateway{fillPrice: fillPrice, leverages: make(map[string]int)}
}

func (f *fakeGateway) Subscribe(_ context.Context, symbol string) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, symbol)
	return nil
}

func (f *fakeGateway) Unsubscribe(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, symbol)
	return nil
}

func (f *fakeGateway) Trades() <-chan exchange.Trade { return nil }

func (f *fakeGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.PlaceOrderResponse, error) {
	f.mu.Lock()
	f.placed = append(f.placed, req)
	f.mu.Unlock()
	if req.Type == exchange.OrderTypeLimit {
		return &exchange.PlaceOrderResponse{Status: exchange.OrderStatusRejected, Message: "limit orders rest"}, nil
	}
	return &exchange.PlaceOrderResponse{
		OrderID:  "fake-1",
		Status:   exchange.OrderStatusFilled,
		AvgPrice: f.fillPrice,
	}, nil
}

func (f *fakeGateway) CancelAllOrders(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeGateway) Instruments(context.Context) ([]string, error)  { return nil, nil }
func (f *fakeGateway) WalletBalance(context.Context) (float64, error) { return 0, nil }
func (f *fakeGateway) Klines(context.Context, string, string, int, int64) ([]exchange.Kline, error) {
	return nil, nil
}

func (f *fakeGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if f.leverageErr != nil {
		return f.leverageErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverages[symbol] = leverage
	return nil
}

func (f *fakeGateway) Close() error { return nil }

func (f *fakeGateway) unsubscribedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.StateDir = t.TempDir()
	cfg.Exchange.Mode = config.ModeSimulation
	cfg.Trading = config.TradingConfig{
		TradeMode:            config.TradeModeDualSide,
		GridWidthPct:         1.0,
		SupertrendPeriod:     10,
		SupertrendMultiplier: 3.0,
		MaxEntries:           2,
		RiskPctPerTrade:      1.0,
		InitialCapital:       10000.0,
		LeverageMultiplier:   3,
	}
	return cfg
}

type fleetHarness struct {
	cfg    *config.Config
	gw     *fakeGateway
	router *market.Router
	store  *portfolio.StateStore
	fleet  *Manager
}

func newFleetHarness(t *testing.T, gw *fakeGateway) *fleetHarness {
	t.Helper()
	cfg := testConfig(t)
	router := market.NewRouter(gw.Trades(), cfg.Trading.SupertrendPeriod, cfg.Trading.SupertrendMultiplier)
	store := portfolio.NewStateStore(cfg.App.StateDir)
	fl := NewManager(cfg, gw, router, store, nil)
	t.Cleanup(func() { fl.StopAll(context.Background()) })
	return &fleetHarness{cfg: cfg, gw: gw, router: router, store: store, fleet: fl}
}

func TestFleetStartBotIsIdempotent(t *testing.T) {
	h := newFleetHarness(t, newFakeGateway(30000))
	ctx := context.Background()

	require.NoError(t, h.fleet.StartBot(ctx, "BTCUSDT", AgentParams{Period: 20, Multiplier: 3.0}))
	require.NoError(t, h.fleet.StartBot(ctx, "BTCUSDT", AgentParams{Period: 40, Multiplier: 2.0}))

	assert.Equal(t, []string{"BTCUSDT"}, h.fleet.Symbols())
	assert.True(t, h.fleet.Running("BTCUSDT"))

	// The duplicate start did not resubscribe.
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	assert.Equal(t, []string{"BTCUSDT"}, h.gw.subscribed)
}

func TestFleetStartStopLifecycle(t *testing.T) {
	h := newFleetHarness(t, newFakeGateway(30000))
	ctx := context.Background()

	require.NoError(t, h.fleet.StartBot(ctx, "BTCUSDT", AgentParams{Period: 20, Multiplier: 3.0}))
	require.NoError(t, h.fleet.StartBot(ctx, "ETHUSDT", AgentParams{}))

	statuses := h.fleet.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "BTCUSDT", statuses[0].Symbol)
	assert.Equal(t, "ETHUSDT", statuses[1].Symbol)
	assert.Equal(t, "FLAT", statuses[0].State)
	assert.Equal(t, 10000.0, statuses[0].BalanceReal)
	assert.Equal(t, 20, statuses[0].Params.Period)

	h.fleet.StopBot(ctx, "BTCUSDT", true)
	assert.False(t, h.fleet.Running("BTCUSDT"))
	assert.Equal(t, []string{"ETHUSDT"}, h.fleet.Symbols())
	assert.Equal(t, []string{"BTCUSDT"}, h.gw.unsubscribedSymbols())

	// Stopping an unknown symbol is a no-op.
	h.fleet.StopBot(ctx, "BTCUSDT", true)
	assert.Equal(t, []string{"ETHUSDT"}, h.fleet.Symbols())
}

func TestFleetStopBotFlattensPosition(t *testing.T) {
	gw := newFakeGateway(29900)
	h := newFleetHarness(t, gw)
	ctx := context.Background()

	// Seed a persisted long so the agent starts with an open position.
	require.NoError(t, h.store.Save(&portfolio.AgentState{
		Symbol:         "BTCUSDT",
		BalanceReal:    10000.0,
		PositionSize:   0.5,
		AvgEntryPrice:  30000.0,
		NEntries:       1,
		LongGridPrices: []float64{29700.0},
	}))

	require.NoError(t, h.fleet.StartBot(ctx, "BTCUSDT", AgentParams{}))
	statuses := h.fleet.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "LONG", statuses[0].State)
	assert.Equal(t, 0.5, statuses[0].PositionSize)

	h.fleet.StopBot(ctx, "BTCUSDT", true)
	assert.False(t, h.fleet.Running("BTCUSDT"))

	// The drop-out flatten executed at the fake's fill price and the
	// flat state was persisted.
	persisted := h.store.Load("BTCUSDT", 0)
	assert.Equal(t, 0.0, persisted.PositionSize)
	assert.Equal(t, 0, persisted.NEntries)
	assert.InDelta(t, 10000.0+(29900.0-30000.0)*0.5, persisted.BalanceReal, 1e-9)

	// Router registration was torn down with the agent.
	assert.Nil(t, h.router.HistorySnapshot("BTCUSDT"))
}

func TestFleetStopAllKeepsPositions(t *testing.T) {
	gw := newFakeGateway(29900)
	h := newFleetHarness(t, gw)
	ctx := context.Background()

	require.NoError(t, h.store.Save(&portfolio.AgentState{
		Symbol:         "BTCUSDT",
		BalanceReal:    10000.0,
		PositionSize:   0.5,
		AvgEntryPrice:  30000.0,
		NEntries:       1,
		LongGridPrices: []float64{29700.0},
	}))
	require.NoError(t, h.fleet.StartBot(ctx, "BTCUSDT", AgentParams{}))

	h.fleet.StopAll(ctx)

	assert.Empty(t, h.fleet.Symbols())
	persisted := h.store.Load("BTCUSDT", 0)
	assert.Equal(t, 0.5, persisted.PositionSize, "shutdown must not flatten")
	assert.Equal(t, 10000.0, persisted.BalanceReal)
	require.Len(t, persisted.LongGridPrices, 1)
}

func TestFleetSaveAll(t *testing.T) {
	h := newFleetHarness(t, newFakeGateway(30000))
	ctx := context.Background()

	require.NoError(t, h.fleet.StartBot(ctx, "BTCUSDT", AgentParams{}))
	require.NoError(t, h.fleet.StartBot(ctx, "ETHUSDT", AgentParams{}))

	h.fleet.SaveAll()

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		st := h.store.Load(symbol, 0)
		assert.Equal(t, 10000.0, st.BalanceReal, symbol)
	}
}

func TestFleetStartBotSubscribeFailure(t *testing.T) {
	gw := newFakeGateway(30000)
	gw.subscribeErr = errors.New("stream down")
	h := newFleetHarness(t, gw)

	err := h.fleet.StartBot(context.Background(), "BTCUSDT", AgentParams{})
	require.Error(t, err)
	assert.False(t, h.fleet.Running("BTCUSDT"))
	assert.Nil(t, h.router.HistorySnapshot("BTCUSDT"))
}

func TestFleetStartBotLeverageFailure(t *testing.T) {
	gw := newFakeGateway(30000)
	gw.leverageErr = errors.New("leverage not allowed")
	h := newFleetHarness(t, gw)
	h.cfg.Exchange.Mode = config.ModeLive

	err := h.fleet.StartBot(context.Background(), "BTCUSDT", AgentParams{})
	require.Error(t, err)
	assert.False(t, h.fleet.Running("BTCUSDT"))
	assert.Equal(t, []string{"BTCUSDT"}, h.gw.unsubscribedSymbols())
}

func TestFleetAppliesLeverageInLiveMode(t *testing.T) {
	gw := newFakeGateway(30000)
	h := newFleetHarness(t, gw)
	h.cfg.Exchange.Mode = config.ModeLive

	require.NoError(t, h.fleet.StartBot(context.Background(), "BTCUSDT", AgentParams{}))

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, 3, gw.leverages["BTCUSDT"])
}

func TestFleetComponentPanicIsolation(t *testing.T) {
	h := newFleetHarness(t, newFakeGateway(30000))

	canceled := false
	a := &agent{symbol: "BTCUSDT", cancel: func() { canceled = true }}
	a.wg.Add(1)

	require.NotPanics(t, func() {
		h.fleet.runComponent(context.Background(), a, "portfolio_manager", func(context.Context) error {
			panic("boom")
		})
	})

	assert.True(t, a.stopped.Load())
	assert.True(t, canceled, "a panic must cancel the agent's siblings")
	a.wg.Wait() // Done was called despite the panic
}

func TestFleetStatusesReportStoppedAgents(t *testing.T) {
	h := newFleetHarness(t, newFakeGateway(30000))
	ctx := context.Background()

	require.NoError(t, h.fleet.StartBot(ctx, "BTCUSDT", AgentParams{}))

	h.fleet.mu.Lock()
	h.fleet.agents["BTCUSDT"].stopped.Store(true)
	h.fleet.mu.Unlock()

	statuses := h.fleet.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "STOPPED", statuses[0].State)

	h.fleet.StopBot(ctx, "BTCUSDT", false)
	assert.False(t, h.fleet.Running("BTCUSDT"))
}
