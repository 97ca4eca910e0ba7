package exchange

import "context"

// Gateway defines the interface to the derivatives exchange. Both
// SimulatedGateway (SIMULATION mode) and LiveGateway (LIVE mode)
// implement it. All methods are safe for concurrent use.
type Gateway interface {
	// Subscribe starts streaming trades for a symbol into Trades()
	Subscribe(ctx context.Context, symbol string) error

	// Unsubscribe stops streaming trades for a symbol
	Unsubscribe(ctx context.Context, symbol string) error

	// Trades returns the multiplexed trade stream for all subscriptions
	Trades() <-chan Trade

	// PlaceOrder places a new order. Rejections come back in the
	// response status; an error means the request never reached the venue.
	PlaceOrder(ctx context.Context, req OrderRequest) (*PlaceOrderResponse, error)

	// CancelAllOrders cancels every resting order for a symbol
	CancelAllOrders(ctx context.Context, symbol string) error

	// Instruments returns the tradable perpetual symbols
	Instruments(ctx context.Context) ([]string, error)

	// WalletBalance returns the account wallet balance in quote currency
	WalletBalance(ctx context.Context) (float64, error)

	// Klines returns up to limit historical bars for symbol at interval
	// (e.g. "1m", "5m", "15m"). startTime is epoch milliseconds; zero
	// means "most recent bars".
	Klines(ctx context.Context, symbol, interval string, limit int, startTime int64) ([]Kline, error)

	// SetLeverage sets the leverage multiplier for a symbol
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Close tears down streams and releases resources
	Close() error
}

// Compile-time interface checks
var (
	_ Gateway = (*SimulatedGateway)(nil)
	_ Gateway = (*LiveGateway)(nil)
)
