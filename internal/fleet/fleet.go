// Package fleet manages the lifecycle of per-symbol trading agents: the
// channel plumbing between router, signal generator, portfolio manager
// and executor, plus start/stop/persist operations over the whole set.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/executor"
	"github.com/ajitpratap0/titanfleet/internal/market"
	"github.com/ajitpratap0/titanfleet/internal/metrics"
	"github.com/ajitpratap0/titanfleet/internal/portfolio"
	"github.com/ajitpratap0/titanfleet/internal/strategy"
)

// Per-agent channel capacities. Strategy and signal channels drop under
// pressure (the producers handle that); order and fill channels must
// absorb a full staging burst; the price channel is drop-oldest in the
// router.
const (
	strategyChanCap = 8
	signalChanCap   = 8
	orderChanCap    = 16
	fillChanCap     = 16
	priceChanCap    = 64
)

const (
	// flattenTimeout bounds the drop-out flatten when an agent is
	// decommissioned while holding a position.
	flattenTimeout = 30 * time.Second
	// joinTimeout bounds the wait for agent goroutines after cancel.
	joinTimeout = 10 * time.Second
)

// AgentParams are the optimizer-selected strategy parameters applied to
// an agent at start. Zero values keep the configured defaults.
type AgentParams struct {
	Period     int     `json:"period"`
	Multiplier float64 `json:"multiplier"`
}

// Notifier receives fleet lifecycle events. The NATS event publisher and
// the Telegram alerter both satisfy it.
type Notifier interface {
	AgentStarted(symbol string)
	AgentStopped(symbol, reason string)
	PositionFlattened(symbol string, realizedPnL, balance float64)
}

// AgentStatus is one row of the fleet status snapshot.
type AgentStatus struct {
	Symbol        string      `json:"symbol"`
	State         string      `json:"state"` // LONG, SHORT, FLAT or STOPPED
	PositionSize  float64     `json:"position_size"`
	AvgEntryPrice float64     `json:"avg_entry_price"`
	NEntries      int         `json:"n_entries"`
	BalanceReal   float64     `json:"balance_real"`
	LastPrice     float64     `json:"last_price"`
	Params        AgentParams `json:"params"`
	StartedAt     time.Time   `json:"started_at"`
}

type agent struct {
	symbol    string
	params    AgentParams
	manager   *portfolio.Manager
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   atomic.Bool
	startedAt time.Time
}

// Manager owns the agent map. All operations are safe for concurrent
// use; slow teardown work happens outside the map lock.
type Manager struct {
	cfg       *config.Config
	gateway   exchange.Gateway
	router    *market.Router
	store     *portfolio.StateStore
	journal   executor.Journal
	notifiers []Notifier

	mu     sync.Mutex
	agents map[string]*agent

	logger zerolog.Logger
}

// NewManager builds the fleet manager. journal may be nil; notifiers
// may be empty.
func NewManager(
	cfg *config.Config,
	gateway exchange.Gateway,
	router *market.Router,
	store *portfolio.StateStore,
	journal executor.Journal,
	notifiers ...Notifier,
) *Manager {
	return &Manager{
		cfg:       cfg,
		gateway:   gateway,
		router:    router,
		store:     store,
		journal:   journal,
		notifiers: notifiers,
		agents:    make(map[string]*agent),
		logger:    config.NewLogger("fleet_manager"),
	}
}

// StartBot launches an agent for symbol. Starting an already-running
// symbol is a no-op. The agent outlives ctx, which only scopes the
// startup calls to router and gateway; agents stop via StopBot.
func (m *Manager) StartBot(ctx context.Context, symbol string, params AgentParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[symbol]; exists {
		m.logger.Debug().Str("symbol", symbol).Msg("Agent already running")
		return nil
	}

	strategyCh := make(chan market.Enriched, strategyChanCap)
	signalCh := make(chan strategy.Signal, signalChanCap)
	orderCh := make(chan exchange.OrderRequest, orderChanCap)
	fillCh := make(chan exchange.FillConfirmation, fillChanCap)
	priceCh := make(chan market.PriceUpdate, priceChanCap)

	if params.Period > 0 && params.Multiplier > 0 {
		m.router.SetSuperTrend(symbol, params.Period, params.Multiplier)
	}
	m.router.Register(symbol, strategyCh, priceCh)

	if err := m.gateway.Subscribe(ctx, symbol); err != nil {
		m.router.Deregister(symbol)
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	if m.cfg.Exchange.Mode == config.ModeLive {
		if err := m.gateway.SetLeverage(ctx, symbol, m.cfg.Trading.LeverageMultiplier); err != nil {
			// Trading at an unknown leverage is worse than not trading.
			if uerr := m.gateway.Unsubscribe(ctx, symbol); uerr != nil {
				m.logger.Warn().Err(uerr).Str("symbol", symbol).Msg("Unsubscribe after failed start")
			}
			m.router.Deregister(symbol)
			return fmt.Errorf("set leverage %s: %w", symbol, err)
		}
	}

	pcfg := portfolio.Config{
		Symbol:          symbol,
		TradeMode:       m.cfg.Trading.TradeMode,
		GridWidthPct:    m.cfg.Trading.GridWidthPct,
		MaxEntries:      m.cfg.Trading.MaxEntries,
		RiskPctPerTrade: m.cfg.Trading.RiskPctPerTrade,
		InitialCapital:  m.cfg.Trading.InitialCapital,
		TakerFee:        m.cfg.Trading.TakerFee,
		MakerFee:        m.cfg.Trading.MakerFee,
		OnFlatten:       m.notifyFlattened,
	}
	manager := portfolio.NewManager(pcfg, m.store, signalCh, fillCh, priceCh, orderCh)
	generator := strategy.NewGenerator(symbol, strategyCh, signalCh, manager.Status)
	exec := executor.New(symbol, m.gateway, orderCh, fillCh, m.journal)

	agentCtx, cancel := context.WithCancel(context.Background())
	a := &agent{
		symbol:    symbol,
		params:    params,
		manager:   manager,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	a.wg.Add(3)
	go m.runComponent(agentCtx, a, "signal_generator", generator.Run)
	go m.runComponent(agentCtx, a, "portfolio_manager", manager.Run)
	go m.runComponent(agentCtx, a, "order_executor", exec.Run)

	m.agents[symbol] = a
	metrics.SetActiveAgents(len(m.agents))
	m.logger.Info().
		Str("symbol", symbol).
		Int("period", params.Period).
		Float64("multiplier", params.Multiplier).
		Msg("Agent started")
	m.notifyStarted(symbol)
	return nil
}

// runComponent runs one agent goroutine with panic isolation. A panic
// marks the agent stopped and cancels its siblings; it never takes the
// process down or restarts the agent.
func (m *Manager) runComponent(ctx context.Context, a *agent, name string, run func(context.Context) error) {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("symbol", a.symbol).
				Str("component", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Agent component panicked")
			a.stopped.Store(true)
			a.cancel()
			m.notifyStopped(a.symbol, name+" panicked")
		}
	}()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error().
			Str("symbol", a.symbol).
			Str("component", name).
			Err(err).
			Msg("Agent component exited with error")
	}
}

// StopBot decommissions an agent. Unknown symbols are a no-op. With
// managePosition the open position is flattened first, bounded by
// flattenTimeout; either way state is persisted before teardown.
func (m *Manager) StopBot(ctx context.Context, symbol string, managePosition bool) {
	m.mu.Lock()
	a, ok := m.agents[symbol]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug().Str("symbol", symbol).Msg("Agent not running")
		return
	}
	delete(m.agents, symbol)
	metrics.SetActiveAgents(len(m.agents))
	m.mu.Unlock()

	if managePosition {
		flattenCtx, cancel := context.WithTimeout(ctx, flattenTimeout)
		if err := a.manager.Flatten(flattenCtx); err != nil {
			m.logger.Error().Err(err).Str("symbol", symbol).Msg("Drop-out flatten did not complete")
		}
		cancel()
	}

	if err := a.manager.Save(); err != nil {
		m.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist state on stop")
	}

	a.cancel()
	if !waitTimeout(&a.wg, joinTimeout) {
		m.logger.Warn().Str("symbol", symbol).Msg("Agent goroutines did not exit in time")
	}

	m.router.Deregister(symbol)
	if err := m.gateway.Unsubscribe(ctx, symbol); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Unsubscribe failed")
	}

	metrics.ClearAgent(symbol)
	m.logger.Info().
		Str("symbol", symbol).
		Bool("managed_position", managePosition).
		Msg("Agent stopped")
	m.notifyStopped(symbol, "decommissioned")
}

// StopAll stops every agent without flattening. Positions persist to
// disk and resume after a restart.
func (m *Manager) StopAll(ctx context.Context) {
	for _, symbol := range m.Symbols() {
		m.StopBot(ctx, symbol, false)
	}
}

// SaveAll persists every active agent's state snapshot.
func (m *Manager) SaveAll() {
	for _, a := range m.snapshotAgents() {
		if err := a.manager.Save(); err != nil {
			m.logger.Error().Err(err).Str("symbol", a.symbol).Msg("Failed to persist state")
		}
	}
}

// Symbols returns the active symbols in sorted order.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.agents))
	for symbol := range m.agents {
		symbols = append(symbols, symbol)
	}
	m.mu.Unlock()
	sort.Strings(symbols)
	return symbols
}

// Running reports whether an agent exists for symbol.
func (m *Manager) Running(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.agents[symbol]
	return ok
}

// Statuses returns a per-symbol snapshot for the control API, sorted by
// symbol.
func (m *Manager) Statuses() []AgentStatus {
	agents := m.snapshotAgents()
	statuses := make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		snap := a.manager.Snapshot()
		state := string(a.manager.Status())
		if a.stopped.Load() {
			state = "STOPPED"
		}
		statuses = append(statuses, AgentStatus{
			Symbol:        a.symbol,
			State:         state,
			PositionSize:  snap.PositionSize,
			AvgEntryPrice: snap.AvgEntryPrice,
			NEntries:      snap.NEntries,
			BalanceReal:   snap.BalanceReal,
			LastPrice:     a.manager.LastPrice(),
			Params:        a.params,
			StartedAt:     a.startedAt,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Symbol < statuses[j].Symbol })
	return statuses
}

func (m *Manager) snapshotAgents() []*agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	agents := make([]*agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	return agents
}

func (m *Manager) notifyStarted(symbol string) {
	for _, n := range m.notifiers {
		n.AgentStarted(symbol)
	}
}

func (m *Manager) notifyStopped(symbol, reason string) {
	for _, n := range m.notifiers {
		n.AgentStopped(symbol, reason)
	}
}

func (m *Manager) notifyFlattened(symbol string, realizedPnL, balance float64) {
	for _, n := range m.notifiers {
		n.PositionFlattened(symbol, realizedPnL, balance)
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
