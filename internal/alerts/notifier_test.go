package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
)

// recordingAlerter captures alerts across the notifier's dispatch
// goroutines.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingAlerter) Send(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingAlerter) snapshot() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newTestNotifier(live bool) (*FleetNotifier, *recordingAlerter) {
	rec := &recordingAlerter{}
	return NewFleetNotifier(NewManager(rec), live), rec
}

func waitForAlerts(t *testing.T, rec *recordingAlerter, n int) []Alert {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.count() >= n
	}, 2*time.Second, 10*time.Millisecond)
	return rec.snapshot()
}

func TestNotifierAgentLifecycle(t *testing.T) {
	n, rec := newTestNotifier(false)

	n.AgentStarted("BTCUSDT")
	alerts := waitForAlerts(t, rec, 1)

	assert.Equal(t, "Agent Started", alerts[0].Title)
	assert.Equal(t, SeverityInfo, alerts[0].Severity)
	assert.Equal(t, "BTCUSDT", alerts[0].Metadata["symbol"])
	assert.Contains(t, alerts[0].Message, "BTCUSDT")
	assert.False(t, alerts[0].Timestamp.IsZero())

	n.AgentStopped("BTCUSDT", "deselected")
	alerts = waitForAlerts(t, rec, 2)

	assert.Equal(t, "Agent Stopped", alerts[1].Title)
	assert.Equal(t, "deselected", alerts[1].Metadata["reason"])
	assert.Contains(t, alerts[1].Message, "deselected")
}

func TestNotifierFlattenSeverityFollowsSign(t *testing.T) {
	n, rec := newTestNotifier(false)

	n.PositionFlattened("ETHUSDT", 42.5, 10042.5)
	alerts := waitForAlerts(t, rec, 1)

	assert.Equal(t, "Position Flattened", alerts[0].Title)
	assert.Equal(t, SeverityInfo, alerts[0].Severity)
	assert.Equal(t, 42.5, alerts[0].Metadata["realized_pnl"])
	assert.Equal(t, 10042.5, alerts[0].Metadata["balance"])
	assert.Contains(t, alerts[0].Message, "+42.50")

	n.PositionFlattened("ETHUSDT", -13.7, 9986.3)
	alerts = waitForAlerts(t, rec, 2)

	assert.Equal(t, SeverityWarning, alerts[1].Severity, "losing close raises a warning")
	assert.Contains(t, alerts[1].Message, "-13.70")
}

func TestNotifierRejectionAlertsOnlyLive(t *testing.T) {
	req := exchange.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     exchange.SideBuy,
		Type:     exchange.OrderTypeLimit,
		Quantity: 0.5,
		Price:    64000,
	}

	live, liveRec := newTestNotifier(true)
	live.RecordOrder(context.Background(), req, exchange.OrderStatusRejected, "insufficient margin")
	alerts := waitForAlerts(t, liveRec, 1)

	assert.Equal(t, "Order Rejected", alerts[0].Title)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "BTCUSDT", alerts[0].Metadata["symbol"])
	assert.Equal(t, "BUY", alerts[0].Metadata["side"])
	assert.Equal(t, 0.5, alerts[0].Metadata["quantity"])
	assert.Equal(t, "insufficient margin", alerts[0].Metadata["reason"])

	sim, simRec := newTestNotifier(false)
	sim.RecordOrder(context.Background(), req, exchange.OrderStatusRejected, "insufficient margin")

	assert.Never(t, func() bool {
		return simRec.count() > 0
	}, 300*time.Millisecond, 25*time.Millisecond, "simulation rejections stay silent")
}

func TestNotifierIgnoresRoutineJournalTraffic(t *testing.T) {
	n, rec := newTestNotifier(true)

	n.RecordOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideBuy, Type: exchange.OrderTypeLimit,
	}, exchange.OrderStatusFilled, "")
	n.RecordFill(context.Background(), exchange.FillConfirmation{
		OrderID: "grid-1", Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: 0.5, Price: 64000,
	})

	assert.Never(t, func() bool {
		return rec.count() > 0
	}, 300*time.Millisecond, 25*time.Millisecond)
}
