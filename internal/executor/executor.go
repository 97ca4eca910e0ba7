// Package executor drains an agent's order channel and turns accepted
// orders into fill confirmations for the portfolio manager. One executor
// runs per agent, so orders are never reordered relative to submission.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/metrics"
)

// Journal records order and fill events for later analysis. Implemented
// by the Postgres trade journal; recording failures are the journal's
// problem, never the executor's.
type Journal interface {
	RecordOrder(ctx context.Context, req exchange.OrderRequest, status exchange.OrderStatus, message string)
	RecordFill(ctx context.Context, fill exchange.FillConfirmation)
}

// Executor submits one agent's orders to the gateway in arrival order.
type Executor struct {
	symbol  string
	gateway exchange.Gateway
	orders  <-chan exchange.OrderRequest
	fills   chan<- exchange.FillConfirmation
	journal Journal
	logger  zerolog.Logger
}

// New wires an executor to its agent channels. journal may be nil.
func New(
	symbol string,
	gateway exchange.Gateway,
	orders <-chan exchange.OrderRequest,
	fills chan<- exchange.FillConfirmation,
	journal Journal,
) *Executor {
	return &Executor{
		symbol:  symbol,
		gateway: gateway,
		orders:  orders,
		fills:   fills,
		journal: journal,
		logger:  config.NewAgentLogger("order_executor", symbol),
	}
}

// Run processes order requests until ctx is canceled or the order
// channel closes.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-e.orders:
			if !ok {
				e.logger.Info().Msg("Order channel closed, executor exiting")
				return nil
			}
			e.process(ctx, req)
		}
	}
}

func (e *Executor) process(ctx context.Context, req exchange.OrderRequest) {
	if req.CancelAll {
		if err := e.gateway.CancelAllOrders(ctx, e.symbol); err != nil {
			// The gateway already retried transient failures.
			e.logger.Error().Err(err).Msg("Cancel all orders failed")
		} else {
			e.logger.Debug().Msg("Canceled resting orders")
		}
		if req.Side == "" {
			return
		}
	}
	e.place(ctx, req)
}

func (e *Executor) place(ctx context.Context, req exchange.OrderRequest) {
	if req.Symbol == "" {
		req.Symbol = e.symbol
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	metrics.RecordOrder(req.Symbol, string(req.Side), string(req.Type))

	resp, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		// Dropped, not retried here: the next signal or price tick
		// re-evaluates and re-issues whatever is still warranted.
		e.logger.Error().Err(err).
			Str("side", string(req.Side)).
			Str("type", string(req.Type)).
			Str("tag", req.Tag).
			Float64("qty", req.Quantity).
			Msg("Order submission failed")
		return
	}

	if e.journal != nil {
		e.journal.RecordOrder(ctx, req, resp.Status, resp.Message)
	}

	if resp.Status == exchange.OrderStatusRejected {
		metrics.RecordOrderReject(req.Symbol)
		e.logger.Warn().
			Str("reason", resp.Message).
			Str("side", string(req.Side)).
			Str("type", string(req.Type)).
			Str("tag", req.Tag).
			Float64("qty", req.Quantity).
			Msg("Order rejected by venue")
		return
	}

	fill := exchange.FillConfirmation{
		OrderID:  resp.OrderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    fillPrice(req, resp),
		Tag:      req.Tag,
		Time:     time.Now(),
	}
	if fill.OrderID == "" {
		fill.OrderID = req.ID
	}

	if e.journal != nil {
		e.journal.RecordFill(ctx, fill)
	}

	e.logger.Info().
		Str("order_id", fill.OrderID).
		Str("side", string(fill.Side)).
		Str("tag", fill.Tag).
		Float64("qty", fill.Quantity).
		Float64("price", fill.Price).
		Msg("Fill confirmed")

	select {
	case e.fills <- fill:
	case <-ctx.Done():
	}
}

// fillPrice resolves the execution price: a limit order fills at its
// limit price; a market order uses the venue's reported average, falling
// back to the last trade price stamped on the request.
func fillPrice(req exchange.OrderRequest, resp *exchange.PlaceOrderResponse) float64 {
	if req.Type == exchange.OrderTypeLimit {
		return req.Price
	}
	if resp.AvgPrice > 0 {
		return resp.AvgPrice
	}
	return req.Price
}
