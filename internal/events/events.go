// Package events publishes fleet telemetry to NATS for external
// consumers: agent lifecycle, fills and selection changes. Nothing
// in-process subscribes; per-agent channels remain the only internal
// wiring. All methods are safe on a nil Publisher, so the fleet can run
// with events disabled.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/pkg/backtest"
)

// Subjects carrying fleet telemetry.
const (
	SubjectAgentStarted = "titan.fleet.agent_started"
	SubjectAgentStopped = "titan.fleet.agent_stopped"
	SubjectFill         = "titan.fleet.fill"
	SubjectSelection    = "titan.fleet.selection"
)

// AgentEvent is the payload on the agent_started and agent_stopped
// subjects.
type AgentEvent struct {
	Symbol string    `json:"symbol"`
	Reason string    `json:"reason,omitempty"`
	Time   time.Time `json:"time"`
}

// FillEvent is the payload on the fill subject.
type FillEvent struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Tag      string    `json:"tag,omitempty"`
	Time     time.Time `json:"time"`
}

// SelectionEvent is the payload on the selection subject. Results keep
// the orchestrator's ranking order.
type SelectionEvent struct {
	Selection []*backtest.Result `json:"selection"`
	Time      time.Time          `json:"time"`
}

// Publisher emits fleet telemetry on NATS subjects. It satisfies
// fleet.Notifier, orchestrator.SelectionListener and executor.Journal,
// so it plugs into the same hooks the journal and alerter use.
type Publisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewPublisher connects to NATS. The connection reconnects forever;
// publishes while disconnected are buffered by the client.
func NewPublisher(url string) (*Publisher, error) {
	logger := config.NewLogger("events")

	nc, err := nats.Connect(
		url,
		nats.Name("titanfleet"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	logger.Info().Str("url", url).Msg("Event publisher connected")
	return &Publisher{nc: nc, logger: logger}, nil
}

// AgentStarted publishes an agent_started event.
func (p *Publisher) AgentStarted(symbol string) {
	p.publish(SubjectAgentStarted, AgentEvent{Symbol: symbol, Time: time.Now().UTC()})
}

// AgentStopped publishes an agent_stopped event.
func (p *Publisher) AgentStopped(symbol, reason string) {
	p.publish(SubjectAgentStopped, AgentEvent{Symbol: symbol, Reason: reason, Time: time.Now().UTC()})
}

// PositionFlattened publishes nothing: the flatten order produces a
// regular fill on the fill subject, and the realized P&L number is an
// alerting concern.
func (p *Publisher) PositionFlattened(symbol string, realizedPnL, balance float64) {}

// SelectionChanged publishes the ranked selection after each completed
// orchestrator cycle.
func (p *Publisher) SelectionChanged(selection []*backtest.Result) {
	p.publish(SubjectSelection, SelectionEvent{Selection: selection, Time: time.Now().UTC()})
}

// RecordOrder publishes nothing; only fills leave the process.
func (p *Publisher) RecordOrder(ctx context.Context, req exchange.OrderRequest, status exchange.OrderStatus, message string) {
}

// RecordFill publishes a fill event.
func (p *Publisher) RecordFill(ctx context.Context, fill exchange.FillConfirmation) {
	p.publish(SubjectFill, FillEvent{
		OrderID:  fill.OrderID,
		Symbol:   fill.Symbol,
		Side:     string(fill.Side),
		Quantity: fill.Quantity,
		Price:    fill.Price,
		Tag:      fill.Tag,
		Time:     fill.Time,
	})
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.nc == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Health reports whether the NATS connection is up.
func (p *Publisher) Health() error {
	if p == nil || p.nc == nil {
		return nil
	}
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected (status %s)", p.nc.Status())
	}
	return nil
}

// Close flushes buffered publishes and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
	p.logger.Info().Msg("Event publisher closed")
}
