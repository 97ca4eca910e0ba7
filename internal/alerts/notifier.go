package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
)

// sendTimeout bounds one alert dispatch end to end.
const sendTimeout = 10 * time.Second

// FleetNotifier adapts the alert manager to the fleet hook points. It
// satisfies fleet.Notifier for lifecycle and P&L notifications and
// executor.Journal for order rejections. Sends run in their own
// goroutine so a slow channel never stalls agent start or the order
// path; failures are logged by the manager and dropped.
type FleetNotifier struct {
	manager *Manager
	live    bool
}

// NewFleetNotifier wires the manager into the fleet. live enables
// order-rejection alerts, which stay silent in simulation.
func NewFleetNotifier(manager *Manager, live bool) *FleetNotifier {
	return &FleetNotifier{manager: manager, live: live}
}

// AgentStarted raises an info alert for a newly started agent.
func (n *FleetNotifier) AgentStarted(symbol string) {
	n.dispatch(Alert{
		Title:    "Agent Started",
		Message:  fmt.Sprintf("Trading agent started for %s", symbol),
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{"symbol": symbol},
	})
}

// AgentStopped raises an info alert for a stopped agent.
func (n *FleetNotifier) AgentStopped(symbol, reason string) {
	n.dispatch(Alert{
		Title:    "Agent Stopped",
		Message:  fmt.Sprintf("Trading agent stopped for %s: %s", symbol, reason),
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{"symbol": symbol, "reason": reason},
	})
}

// PositionFlattened reports realized P&L after a drop-out flatten. A
// losing close is raised as a warning.
func (n *FleetNotifier) PositionFlattened(symbol string, realizedPnL, balance float64) {
	severity := SeverityInfo
	if realizedPnL < 0 {
		severity = SeverityWarning
	}

	n.dispatch(Alert{
		Title:    "Position Flattened",
		Message:  fmt.Sprintf("%s position closed, realized P&L %+.2f USDT (balance %.2f)", symbol, realizedPnL, balance),
		Severity: severity,
		Metadata: map[string]interface{}{
			"symbol":       symbol,
			"realized_pnl": realizedPnL,
			"balance":      balance,
		},
	})
}

// RecordOrder raises a critical alert when the venue rejects an order in
// LIVE mode. Simulation rejections and accepted orders are not alerted.
func (n *FleetNotifier) RecordOrder(ctx context.Context, req exchange.OrderRequest, status exchange.OrderStatus, message string) {
	if !n.live || status != exchange.OrderStatusRejected {
		return
	}

	n.dispatch(Alert{
		Title:    "Order Rejected",
		Message:  fmt.Sprintf("Venue rejected %s %s order for %s: %s", req.Side, req.Type, req.Symbol, message),
		Severity: SeverityCritical,
		Metadata: map[string]interface{}{
			"symbol":   req.Symbol,
			"side":     string(req.Side),
			"quantity": req.Quantity,
			"reason":   message,
		},
	})
}

// RecordFill is a journal hook the notifier does not act on; fills are
// routine and land in the journal and event stream instead.
func (n *FleetNotifier) RecordFill(ctx context.Context, fill exchange.FillConfirmation) {}

func (n *FleetNotifier) dispatch(alert Alert) {
	alert.Timestamp = time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_ = n.manager.Send(ctx, alert)
	}()
}
