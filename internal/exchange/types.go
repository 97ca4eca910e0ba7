package exchange

import (
	"fmt"
	"time"
)

// Side represents buy or sell
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the flattening side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents market or limit order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus represents the state of an order as reported by the gateway
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// Order intent tags. Tags travel with the order through the executor and
// come back on the fill confirmation so the portfolio manager can tell
// entries, flattens and take-profits apart.
const (
	TagExitFlatten = "EXIT_FLATTEN"
	TagTakeProfit  = "TAKE_PROFIT"
)

// GridEntryTag returns the tag for the n-th grid entry (1-based).
func GridEntryTag(n int) string {
	return fmt.Sprintf("GRID_ENTRY_%d", n)
}

// Trade is a single trade tick from the market data stream
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	Time   time.Time `json:"time"`
}

// Kline is one OHLCV bar as returned by the gateway's historical endpoint.
// OpenTime is in epoch milliseconds, matching the exchange wire format.
type Kline struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// OrderRequest represents a request to place an order
type OrderRequest struct {
	ID         string    `json:"id"` // client order ID, assigned by the issuer
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price,omitempty"` // required for LIMIT, advisory for MARKET
	ReduceOnly bool      `json:"reduce_only,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	// CancelAll asks the executor to cancel all resting orders for the
	// symbol before placing this one. Used when tearing down a grid.
	CancelAll bool `json:"cancel_all,omitempty"`
}

// PlaceOrderResponse represents the gateway's answer to an order request.
// A rejected order is reported via Status, not via an error: errors are
// reserved for transport failures.
type PlaceOrderResponse struct {
	OrderID  string      `json:"order_id"`
	Status   OrderStatus `json:"status"`
	AvgPrice float64     `json:"avg_price,omitempty"` // nonzero when the gateway reports an immediate fill
	Message  string      `json:"message,omitempty"`
}

// FillConfirmation is pushed by the executor into the agent's fill channel
// once an order has been accepted by the gateway.
type FillConfirmation struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Tag      string    `json:"tag,omitempty"`
	Time     time.Time `json:"time"`
}
