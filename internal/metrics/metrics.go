package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. Label values must come
// from these sets so the time series count stays fixed.
const (
	// Orchestrator cycle results
	CycleResultOK      = "ok"
	CycleResultAborted = "aborted"
	CycleResultEmpty   = "empty"

	// Gateway REST operations
	OpPlaceOrder  = "place_order"
	OpCancelAll   = "cancel_all"
	OpInstruments = "instruments"
	OpBalance     = "balance"
	OpKlines      = "klines"
	OpSetLeverage = "set_leverage"
)

// Fleet metrics
var (
	// Number of currently running agents
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_active_agents",
		Help: "Number of currently running per-symbol agents",
	})

	// Signed position size per symbol
	AgentPositionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_agent_position_size",
		Help: "Signed position size in base units by symbol",
	}, []string{"symbol"})

	// Realized balance per symbol
	AgentBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_agent_balance",
		Help: "Realized balance in quote currency by symbol",
	}, []string{"symbol"})

	// Signals emitted by the signal generator
	Signals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_signals_total",
		Help: "Total signals emitted by symbol and kind",
	}, []string{"symbol", "kind"})

	// Orders submitted to the gateway
	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_orders_total",
		Help: "Total orders submitted by symbol, side and type",
	}, []string{"symbol", "side", "type"})

	// Fills applied by portfolio managers
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_fills_total",
		Help: "Total fills applied by symbol and side",
	}, []string{"symbol", "side"})

	// Orders rejected by the gateway
	OrderRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_order_rejects_total",
		Help: "Total orders rejected by the gateway by symbol",
	}, []string{"symbol"})

	// Market stream reconnections
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_reconnects_total",
		Help: "Total market data stream reconnections",
	})
)

// Orchestrator metrics
var (
	// Selection cycles by outcome
	OrchestratorCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_cycles_total",
		Help: "Total orchestrator selection cycles by result",
	}, []string{"result"})

	// Per-ticker optimization duration
	OptimizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_optimize_seconds",
		Help:    "Per-ticker parameter sweep duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// Gateway metrics
var (
	// Gateway REST request duration by operation
	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_seconds",
		Help:    "Gateway REST request duration in seconds by operation",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op"})
)

// Helper functions to update metrics

// RecordSignal records a signal emission
func RecordSignal(symbol, kind string) {
	Signals.WithLabelValues(symbol, kind).Inc()
}

// RecordOrder records an order submission
func RecordOrder(symbol, side, orderType string) {
	Orders.WithLabelValues(symbol, side, orderType).Inc()
}

// RecordFill records an applied fill
func RecordFill(symbol, side string) {
	Fills.WithLabelValues(symbol, side).Inc()
}

// RecordOrderReject records a gateway order rejection
func RecordOrderReject(symbol string) {
	OrderRejects.WithLabelValues(symbol).Inc()
}

// RecordReconnect records a market stream reconnection
func RecordReconnect() {
	Reconnects.Inc()
}

// RecordCycle records an orchestrator cycle outcome
func RecordCycle(result string) {
	OrchestratorCycles.WithLabelValues(result).Inc()
}

// ObserveOptimize records a per-ticker optimization duration
func ObserveOptimize(seconds float64) {
	OptimizeDuration.Observe(seconds)
}

// ObserveGatewayRequest records a gateway REST call duration
func ObserveGatewayRequest(op string, seconds float64) {
	GatewayRequestDuration.WithLabelValues(op).Observe(seconds)
}

// UpdateAgentState updates the per-symbol position and balance gauges
func UpdateAgentState(symbol string, positionSize, balance float64) {
	AgentPositionSize.WithLabelValues(symbol).Set(positionSize)
	AgentBalance.WithLabelValues(symbol).Set(balance)
}

// ClearAgent removes the per-symbol gauges for a decommissioned agent
func ClearAgent(symbol string) {
	AgentPositionSize.DeleteLabelValues(symbol)
	AgentBalance.DeleteLabelValues(symbol)
}

// SetActiveAgents updates the active agent count
func SetActiveAgents(n int) {
	ActiveAgents.Set(float64(n))
}
