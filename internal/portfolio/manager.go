package portfolio

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/market"
	"github.com/ajitpratap0/titanfleet/internal/metrics"
	"github.com/ajitpratap0/titanfleet/internal/risk"
	"github.com/ajitpratap0/titanfleet/internal/strategy"
)

// flattenTolerance is the residual position size treated as flat when a
// reducing fill takes the position through zero.
const flattenTolerance = 1e-9

// Config carries the per-symbol trading parameters for one manager.
type Config struct {
	Symbol          string
	TradeMode       string
	GridWidthPct    float64
	MaxEntries      int
	RiskPctPerTrade float64
	InitialCapital  float64
	TakerFee        float64
	MakerFee        float64

	// OnFlatten, when set, is called after a position is fully closed,
	// with the realized P&L of the round trip and the updated balance.
	OnFlatten func(symbol string, realizedPnL, balance float64)
}

// Manager is the per-symbol position state machine. It consumes signals,
// fills and price updates, and emits order intents. Position state only
// changes on fill confirmations, never on order submission, so the
// in-memory state always reflects what the venue reported back.
type Manager struct {
	cfg   Config
	store *StateStore

	signals <-chan strategy.Signal
	fills   <-chan exchange.FillConfirmation
	prices  <-chan market.PriceUpdate
	orders  chan<- exchange.OrderRequest

	mu             sync.Mutex
	state          *AgentState
	lastPrice      float64
	flattenPending bool
	issued         map[string]struct{}
	flatWaiters    []chan struct{}

	logger zerolog.Logger
}

// NewManager loads the symbol's persisted state and wires the manager to
// its agent channels. Run must be called for the manager to make progress.
func NewManager(
	cfg Config,
	store *StateStore,
	signals <-chan strategy.Signal,
	fills <-chan exchange.FillConfirmation,
	prices <-chan market.PriceUpdate,
	orders chan<- exchange.OrderRequest,
) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		signals: signals,
		fills:   fills,
		prices:  prices,
		orders:  orders,
		state:   store.Load(cfg.Symbol, cfg.InitialCapital),
		issued:  make(map[string]struct{}),
		logger:  config.NewAgentLogger("portfolio_manager", cfg.Symbol),
	}
	if m.Status() != strategy.StatusFlat {
		m.logger.Info().
			Float64("position", m.state.PositionSize).
			Float64("avg_entry", m.state.AvgEntryPrice).
			Float64("balance", m.state.BalanceReal).
			Msg("Restored open position from disk")
	}
	return m
}

// Run processes signals, fills and prices until ctx is canceled or the
// input channels close. Each event is applied under the state lock;
// resulting order intents are sent afterwards so the lock is never held
// across a channel send.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	reqs := m.rearmIntentsLocked()
	m.mu.Unlock()
	m.sendAll(ctx, reqs)

	m.logger.Info().Str("status", string(m.Status())).Msg("Portfolio manager started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-m.signals:
			if !ok {
				m.logger.Info().Msg("Signal channel closed, portfolio manager exiting")
				return nil
			}
			m.mu.Lock()
			out := m.signalIntentsLocked(sig)
			m.mu.Unlock()
			m.sendAll(ctx, out)
		case fill, ok := <-m.fills:
			if !ok {
				m.logger.Info().Msg("Fill channel closed, portfolio manager exiting")
				return nil
			}
			m.mu.Lock()
			out, hook := m.applyFillLocked(fill)
			m.mu.Unlock()
			m.sendAll(ctx, out)
			if hook != nil {
				hook()
			}
		case update, ok := <-m.prices:
			if !ok {
				m.logger.Info().Msg("Price channel closed, portfolio manager exiting")
				return nil
			}
			m.mu.Lock()
			m.lastPrice = update.Price
			m.mu.Unlock()
		}
	}
}

// Status reports the current position direction. Safe to call from other
// goroutines; the signal generator uses it to decide whether a SuperTrend
// flip is actionable.
func (m *Manager) Status() strategy.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() strategy.Status {
	switch {
	case m.state.PositionSize > flattenTolerance:
		return strategy.StatusLong
	case m.state.PositionSize < -flattenTolerance:
		return strategy.StatusShort
	default:
		return strategy.StatusFlat
	}
}

// Snapshot returns a copy of the current state for reporting.
func (m *Manager) Snapshot() *AgentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// LastPrice returns the most recent trade price seen for the symbol,
// or zero if none has arrived yet.
func (m *Manager) LastPrice() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrice
}

// Save persists the current state. The fleet calls this on shutdown and
// after decommissioning an agent.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Save(m.state)
}

// Flatten closes any open position with a single market order and waits
// until the flattening fill has been applied, or until ctx expires. A
// flat manager returns immediately. If a flatten is already in flight,
// no second exit order is issued; the call just waits for the reset.
func (m *Manager) Flatten(ctx context.Context) error {
	m.mu.Lock()
	if m.statusLocked() == strategy.StatusFlat {
		m.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	m.flatWaiters = append(m.flatWaiters, waiter)
	reqs := m.flattenIntentLocked("decommission")
	m.mu.Unlock()

	for _, req := range reqs {
		select {
		case m.orders <- req:
		case <-ctx.Done():
			return fmt.Errorf("flatten %s: %w", m.cfg.Symbol, ctx.Err())
		}
	}

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flatten %s: %w", m.cfg.Symbol, ctx.Err())
	}
}

// sendAll enqueues order intents in order, aborting if ctx is canceled.
// The per-event burst is bounded by MaxEntries+2 requests (cancel, grid
// scale-ins, take-profit), well under the order channel's capacity, so
// a healthy executor always drains these promptly.
func (m *Manager) sendAll(ctx context.Context, reqs []exchange.OrderRequest) {
	for i, req := range reqs {
		select {
		case m.orders <- req:
		case <-ctx.Done():
			m.logger.Warn().Int("dropped", len(reqs)-i).Msg("Context canceled while enqueuing orders")
			return
		}
	}
}

// signalIntentsLocked turns a strategy signal into order intents given
// the current position:
//
//	opposing signal while in a position -> flatten only
//	signal while flat                   -> sized market entry
//	aligned signal                      -> nothing
func (m *Manager) signalIntentsLocked(sig strategy.Signal) []exchange.OrderRequest {
	status := m.statusLocked()

	opposing := (sig.Kind == strategy.EntryLong && status == strategy.StatusShort) ||
		(sig.Kind == strategy.EntryShort && status == strategy.StatusLong)
	if opposing {
		return m.flattenIntentLocked("trend reversal")
	}
	if status != strategy.StatusFlat {
		// Aligned with the position; scale-ins come from the grid, not
		// from repeated signals.
		return nil
	}

	if !m.entryAllowed(sig.Kind) {
		m.logger.Debug().
			Str("kind", string(sig.Kind)).
			Str("trade_mode", m.cfg.TradeMode).
			Msg("Entry blocked by trade mode")
		return nil
	}
	if m.lastPrice <= 0 {
		m.logger.Warn().Str("kind", string(sig.Kind)).Msg("No reference price yet, skipping entry")
		return nil
	}

	qty := risk.PositionSize(m.state.BalanceReal, m.cfg.RiskPctPerTrade, m.cfg.GridWidthPct, m.lastPrice)
	if qty <= 0 {
		m.logger.Warn().
			Float64("balance", m.state.BalanceReal).
			Float64("price", m.lastPrice).
			Msg("Position size computed as zero, skipping entry")
		return nil
	}

	side := exchange.SideBuy
	if sig.Kind == strategy.EntryShort {
		side = exchange.SideSell
	}
	m.logger.Info().
		Str("kind", string(sig.Kind)).
		Float64("qty", qty).
		Float64("price", m.lastPrice).
		Str("reason", sig.Reason).
		Msg("Opening position")
	return []exchange.OrderRequest{{
		Symbol:   m.cfg.Symbol,
		Side:     side,
		Type:     exchange.OrderTypeMarket,
		Quantity: qty,
		Price:    m.lastPrice,
		Tag:      exchange.GridEntryTag(1),
	}}
}

// entryAllowed applies the trade mode filter. It only gates new entries;
// exits are always allowed regardless of mode.
func (m *Manager) entryAllowed(kind strategy.SignalKind) bool {
	switch m.cfg.TradeMode {
	case config.TradeModeLongOnly:
		return kind == strategy.EntryLong
	case config.TradeModeShortOnly:
		return kind == strategy.EntryShort
	default:
		return true
	}
}

// flattenIntentLocked builds a reduce-only market order that closes the
// whole position. At most one flatten is in flight at a time.
func (m *Manager) flattenIntentLocked(reason string) []exchange.OrderRequest {
	qty := math.Abs(m.state.PositionSize)
	if qty <= flattenTolerance {
		return nil
	}
	if m.flattenPending {
		m.logger.Debug().Str("reason", reason).Msg("Flatten already pending")
		return nil
	}
	m.flattenPending = true

	side := exchange.SideSell
	if m.state.PositionSize < 0 {
		side = exchange.SideBuy
	}
	m.logger.Info().
		Str("reason", reason).
		Str("side", string(side)).
		Float64("qty", qty).
		Msg("Flattening position")
	return []exchange.OrderRequest{{
		Symbol:     m.cfg.Symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Quantity:   qty,
		Price:      m.lastPrice,
		ReduceOnly: true,
		Tag:        exchange.TagExitFlatten,
	}}
}

// applyFillLocked mutates position state for one fill confirmation and
// returns the follow-up order intents plus an optional hook to run once
// the lock is released.
func (m *Manager) applyFillLocked(fill exchange.FillConfirmation) ([]exchange.OrderRequest, func()) {
	signedQty := fill.Quantity
	if fill.Side == exchange.SideSell {
		signedQty = -fill.Quantity
	}
	oldSize := m.state.PositionSize
	newSize := oldSize + signedQty

	if fee := fill.Quantity * fill.Price * m.feeRate(fill.Tag); fee > 0 {
		m.state.BalanceReal -= fee
	}
	metrics.RecordFill(m.cfg.Symbol, string(fill.Side))

	var reqs []exchange.OrderRequest
	var hook func()
	switch {
	case oldSize == 0 || (oldSize > 0) == (signedQty > 0):
		reqs = m.applyEntryLocked(fill, newSize)
	case math.Abs(newSize) <= flattenTolerance:
		reqs, hook = m.closePositionLocked(fill, math.Abs(oldSize))
	case (oldSize > 0) == (newSize > 0):
		m.applyReduceLocked(fill)
	default:
		// A reducing fill larger than the position. Realize on what we
		// held; the excess is not opened as a new position.
		m.logger.Warn().
			Float64("position", oldSize).
			Float64("fill_qty", signedQty).
			Msg("Fill crossed position through zero")
		reqs, hook = m.closePositionLocked(fill, math.Abs(oldSize))
	}

	// A flatten that left a residual (e.g. the position grew between
	// enqueue and fill) is retried, otherwise Flatten callers would wait
	// forever on a position that no longer has an exit in flight.
	if fill.Tag == exchange.TagExitFlatten && m.statusLocked() != strategy.StatusFlat {
		m.logger.Warn().
			Float64("residual", m.state.PositionSize).
			Msg("Flatten fill left a residual position, re-flattening")
		m.flattenPending = false
		reqs = append(reqs, m.flattenIntentLocked("flatten residual")...)
	}

	metrics.UpdateAgentState(m.cfg.Symbol, m.state.PositionSize, m.state.BalanceReal)
	return reqs, hook
}

// applyEntryLocked folds an opening or scale-in fill into the position
// at volume-weighted average price, then restages the grid around the
// fill price.
func (m *Manager) applyEntryLocked(fill exchange.FillConfirmation, newSize float64) []exchange.OrderRequest {
	oldNotional := m.state.AvgEntryPrice * math.Abs(m.state.PositionSize)
	m.state.PositionSize = newSize
	m.state.AvgEntryPrice = (oldNotional + fill.Price*fill.Quantity) / math.Abs(newSize)
	if m.state.NEntries >= m.cfg.MaxEntries {
		// The grid never stages more than MaxEntries-1 scale-ins, so a
		// fill beyond the cap means a stale order slipped through.
		m.logger.Warn().Int("n_entries", m.state.NEntries).Msg("Entry fill beyond max entries")
	} else {
		m.state.NEntries++
	}

	m.logger.Info().
		Float64("qty", fill.Quantity).
		Float64("price", fill.Price).
		Float64("position", m.state.PositionSize).
		Float64("avg_entry", m.state.AvgEntryPrice).
		Int("n_entries", m.state.NEntries).
		Str("tag", fill.Tag).
		Msg("Entry fill applied")

	return m.restageGridLocked(fill.Price, fill.Quantity)
}

// restageGridLocked cancels all resting orders and re-issues the grid
// around basePrice: one limit scale-in per remaining entry slot, spaced
// GridWidthPct apart on the adverse side, plus a take-profit for the
// full position one grid width on the favorable side of the average
// entry. The venue has no per-order cancel in our gateway surface, so
// every restage is a cancel-all-and-replace.
func (m *Manager) restageGridLocked(basePrice, stageQty float64) []exchange.OrderRequest {
	reqs := []exchange.OrderRequest{{Symbol: m.cfg.Symbol, CancelAll: true}}
	m.issued = make(map[string]struct{})

	isLong := m.state.PositionSize > 0
	g := m.cfg.GridWidthPct / 100
	remaining := m.cfg.MaxEntries - m.state.NEntries

	var levels []float64
	for i := 1; i <= remaining; i++ {
		if isLong {
			levels = append(levels, basePrice*(1-float64(i)*g))
		} else {
			levels = append(levels, basePrice*(1+float64(i)*g))
		}
	}
	if isLong {
		m.state.LongGridPrices = levels
		m.state.ShortGridPrices = nil
	} else {
		m.state.ShortGridPrices = levels
		m.state.LongGridPrices = nil
	}

	reqs = append(reqs, m.gridIntentsLocked(levels, stageQty)...)
	if tp, ok := m.takeProfitIntentLocked(); ok {
		reqs = append(reqs, tp)
	}
	return reqs
}

// gridIntentsLocked builds limit scale-in orders for levels not already
// issued since the last cancel-all.
func (m *Manager) gridIntentsLocked(levels []float64, qty float64) []exchange.OrderRequest {
	side := exchange.SideBuy
	if m.state.PositionSize < 0 {
		side = exchange.SideSell
	}
	var reqs []exchange.OrderRequest
	for i, level := range levels {
		key := strconv.FormatFloat(level, 'f', -1, 64)
		if _, ok := m.issued[key]; ok {
			continue
		}
		m.issued[key] = struct{}{}
		reqs = append(reqs, exchange.OrderRequest{
			Symbol:   m.cfg.Symbol,
			Side:     side,
			Type:     exchange.OrderTypeLimit,
			Quantity: qty,
			Price:    level,
			Tag:      exchange.GridEntryTag(m.state.NEntries + 1 + i),
		})
	}
	return reqs
}

// takeProfitIntentLocked builds the reduce-only take-profit for the full
// position, one grid width beyond the average entry.
func (m *Manager) takeProfitIntentLocked() (exchange.OrderRequest, bool) {
	size := m.state.PositionSize
	if math.Abs(size) <= flattenTolerance {
		return exchange.OrderRequest{}, false
	}
	g := m.cfg.GridWidthPct / 100
	req := exchange.OrderRequest{
		Symbol:     m.cfg.Symbol,
		Type:       exchange.OrderTypeLimit,
		Quantity:   math.Abs(size),
		ReduceOnly: true,
		Tag:        exchange.TagTakeProfit,
	}
	if size > 0 {
		req.Side = exchange.SideSell
		req.Price = m.state.AvgEntryPrice * (1 + g)
	} else {
		req.Side = exchange.SideBuy
		req.Price = m.state.AvgEntryPrice * (1 - g)
	}
	return req, true
}

// applyReduceLocked handles a partial reduce that leaves the position on
// the same side, e.g. a stale take-profit sized for an older, smaller
// position. Realized P&L is booked; average entry and entry count are
// untouched.
func (m *Manager) applyReduceLocked(fill exchange.FillConfirmation) {
	pnl := realizedPnL(fill.Side, fill.Price, m.state.AvgEntryPrice, fill.Quantity)
	m.state.BalanceReal += pnl
	if fill.Side == exchange.SideSell {
		m.state.PositionSize -= fill.Quantity
	} else {
		m.state.PositionSize += fill.Quantity
	}
	m.logger.Info().
		Float64("qty", fill.Quantity).
		Float64("realized_pnl", pnl).
		Float64("position", m.state.PositionSize).
		Str("tag", fill.Tag).
		Msg("Partial reduce applied")
}

// closePositionLocked realizes P&L for a fill that takes the position to
// flat, resets position state and persists it.
func (m *Manager) closePositionLocked(fill exchange.FillConfirmation, closedQty float64) ([]exchange.OrderRequest, func()) {
	pnl := realizedPnL(fill.Side, fill.Price, m.state.AvgEntryPrice, closedQty)
	m.state.BalanceReal += pnl
	balance := m.state.BalanceReal

	m.logger.Info().
		Float64("realized_pnl", pnl).
		Float64("balance", balance).
		Str("tag", fill.Tag).
		Msg("Position closed")

	reqs := m.resetLocked()

	var hook func()
	if m.cfg.OnFlatten != nil {
		symbol := m.cfg.Symbol
		onFlatten := m.cfg.OnFlatten
		hook = func() { onFlatten(symbol, pnl, balance) }
	}
	return reqs, hook
}

// resetLocked zeroes position state, persists the FLAT snapshot, wakes
// any Flatten waiters and tears down resting orders. The manager does
// not re-enter on its own; the next entry needs a fresh signal.
func (m *Manager) resetLocked() []exchange.OrderRequest {
	m.state.PositionSize = 0
	m.state.AvgEntryPrice = 0
	m.state.NEntries = 0
	m.state.LongGridPrices = nil
	m.state.ShortGridPrices = nil
	m.flattenPending = false
	m.issued = make(map[string]struct{})

	m.persistLocked()

	for _, w := range m.flatWaiters {
		close(w)
	}
	m.flatWaiters = nil

	return []exchange.OrderRequest{{Symbol: m.cfg.Symbol, CancelAll: true}}
}

// rearmIntentsLocked rebuilds resting orders for a position restored
// from disk. The venue's resting orders are unknown after a restart, so
// cancel everything and re-issue scale-ins from the persisted grid plus
// the take-profit.
func (m *Manager) rearmIntentsLocked() []exchange.OrderRequest {
	if m.statusLocked() == strategy.StatusFlat {
		return nil
	}

	reqs := []exchange.OrderRequest{{Symbol: m.cfg.Symbol, CancelAll: true}}
	m.issued = make(map[string]struct{})

	levels := m.state.LongGridPrices
	if m.state.PositionSize < 0 {
		levels = m.state.ShortGridPrices
	}
	stageQty := math.Abs(m.state.PositionSize)
	if m.state.NEntries > 0 {
		stageQty /= float64(m.state.NEntries)
	}

	reqs = append(reqs, m.gridIntentsLocked(levels, stageQty)...)
	if tp, ok := m.takeProfitIntentLocked(); ok {
		reqs = append(reqs, tp)
	}
	m.logger.Info().Int("orders", len(reqs)).Msg("Re-armed resting orders for restored position")
	return reqs
}

func (m *Manager) persistLocked() {
	if err := m.store.Save(m.state); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist state, in-memory state remains authoritative")
	}
}

// feeRate picks the fee rate for a fill by its tag: flattens and initial
// entries execute as market orders (taker), grid scale-ins and
// take-profits rest as limits (maker).
func (m *Manager) feeRate(tag string) float64 {
	switch {
	case tag == exchange.TagTakeProfit:
		return m.cfg.MakerFee
	case strings.HasPrefix(tag, "GRID_ENTRY_") && tag != exchange.GridEntryTag(1):
		return m.cfg.MakerFee
	default:
		return m.cfg.TakerFee
	}
}

// realizedPnL computes the P&L of reducing a position by closedQty at
// price. A long is reduced by selling, a short by buying back.
func realizedPnL(side exchange.Side, price, avgEntry, closedQty float64) float64 {
	if side == exchange.SideSell {
		return (price - avgEntry) * closedQty
	}
	return (avgEntry - price) * closedQty
}
