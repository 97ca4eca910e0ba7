package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
)

// Simulation parameters. Prices start at a fixed reference and move as a
// random walk of at most ±0.1% per tick, two ticks per second.
const (
	simStartPrice   = 30000.0
	simTickInterval = 500 * time.Millisecond
	simStepPct      = 0.001

	tradeBufferSize = 256
)

// simInstruments is the tradable universe reported in SIMULATION mode.
var simInstruments = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT",
	"DOGEUSDT", "ADAUSDT", "AVAXUSDT", "LINKUSDT", "DOTUSDT",
	"TONUSDT", "TRXUSDT", "NEARUSDT", "APTUSDT", "SUIUSDT",
	"LTCUSDT", "BCHUSDT", "UNIUSDT", "ATOMUSDT", "FILUSDT",
	"ARBUSDT", "OPUSDT", "INJUSDT", "WIFUSDT", "PEPEUSDT",
}

// SimulatedGateway emulates the exchange for SIMULATION mode. Subscribed
// symbols receive random-walk trade ticks; orders fill immediately at the
// requested price.
type SimulatedGateway struct {
	mu     sync.RWMutex
	prices map[string]float64

	trades  chan Trade
	balance float64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger zerolog.Logger
}

// NewSimulatedGateway creates a simulated gateway and starts its tick loop.
func NewSimulatedGateway(initialCapital float64) *SimulatedGateway {
	g := &SimulatedGateway{
		prices:  make(map[string]float64),
		trades:  make(chan Trade, tradeBufferSize),
		balance: initialCapital,
		done:    make(chan struct{}),
		logger:  config.NewLogger("sim_gateway"),
	}

	g.logger.Info().
		Float64("start_price", simStartPrice).
		Dur("tick_interval", simTickInterval).
		Msg("Simulated gateway initialized")

	g.wg.Add(1)
	go g.run()

	return g
}

func (g *SimulatedGateway) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(simTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case now := <-ticker.C:
			g.step(now)
		}
	}
}

// step advances every subscribed symbol's random walk by one tick.
func (g *SimulatedGateway) step(now time.Time) {
	g.mu.Lock()
	ticks := make([]Trade, 0, len(g.prices))
	for symbol, price := range g.prices {
		price *= 1 + (rand.Float64()*2-1)*simStepPct
		g.prices[symbol] = price
		ticks = append(ticks, Trade{
			Symbol: symbol,
			Price:  price,
			Qty:    0.001 + rand.Float64(),
			Time:   now,
		})
	}
	g.mu.Unlock()

	for _, t := range ticks {
		select {
		case g.trades <- t:
		default:
			g.logger.Warn().
				Str("symbol", t.Symbol).
				Msg("Trade channel full, dropping tick")
		}
	}
}

// Subscribe starts the random walk for a symbol
func (g *SimulatedGateway) Subscribe(_ context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.prices[symbol]; !ok {
		g.prices[symbol] = simStartPrice
	}

	g.logger.Info().Str("symbol", symbol).Msg("Subscribed to simulated trades")
	return nil
}

// Unsubscribe stops the random walk for a symbol
func (g *SimulatedGateway) Unsubscribe(_ context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.prices, symbol)

	g.logger.Info().Str("symbol", symbol).Msg("Unsubscribed from simulated trades")
	return nil
}

// Trades returns the multiplexed trade stream
func (g *SimulatedGateway) Trades() <-chan Trade {
	return g.trades
}

// SetPrice pins the current simulated price for a symbol (for testing)
func (g *SimulatedGateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prices[symbol] = price
}

// PlaceOrder fills every valid order immediately at the requested price
func (g *SimulatedGateway) PlaceOrder(_ context.Context, req OrderRequest) (*PlaceOrderResponse, error) {
	if err := validateOrder(req); err != nil {
		g.logger.Warn().
			Err(err).
			Str("symbol", req.Symbol).
			Str("side", string(req.Side)).
			Msg("Order validation failed")

		return &PlaceOrderResponse{
			Status:  OrderStatusRejected,
			Message: err.Error(),
		}, nil
	}

	fillPrice := req.Price
	if fillPrice == 0 {
		g.mu.RLock()
		if p, ok := g.prices[req.Symbol]; ok {
			fillPrice = p
		} else {
			fillPrice = simStartPrice
		}
		g.mu.RUnlock()
	}

	orderID := req.ID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	g.logger.Info().
		Str("order_id", orderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Str("tag", req.Tag).
		Float64("quantity", req.Quantity).
		Float64("fill_price", fillPrice).
		Msg("Order filled (simulated)")

	return &PlaceOrderResponse{
		OrderID:  orderID,
		Status:   OrderStatusFilled,
		AvgPrice: fillPrice,
		Message:  "Order filled",
	}, nil
}

// CancelAllOrders is a no-op: simulated orders never rest
func (g *SimulatedGateway) CancelAllOrders(_ context.Context, symbol string) error {
	g.logger.Debug().Str("symbol", symbol).Msg("CancelAllOrders (simulated, no resting orders)")
	return nil
}

// Instruments returns the static simulated universe
func (g *SimulatedGateway) Instruments(_ context.Context) ([]string, error) {
	out := make([]string, len(simInstruments))
	copy(out, simInstruments)
	return out, nil
}

// WalletBalance returns the configured starting capital
func (g *SimulatedGateway) WalletBalance(_ context.Context) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.balance, nil
}

// Klines synthesizes a random-walk OHLCV history ending at the current
// simulated price. Timestamps are aligned to the interval and strictly
// increasing.
func (g *SimulatedGateway) Klines(_ context.Context, symbol, interval string, limit int, startTime int64) ([]Kline, error) {
	step, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}

	end := time.Now().Truncate(step)
	first := end.Add(-time.Duration(limit) * step)
	if startTime > 0 {
		first = time.UnixMilli(startTime).Truncate(step)
		n := int(end.Sub(first) / step)
		if n < limit {
			limit = n
		}
		if limit <= 0 {
			return []Kline{}, nil
		}
	}

	g.mu.RLock()
	price, ok := g.prices[symbol]
	g.mu.RUnlock()
	if !ok {
		price = simStartPrice
	}

	klines := make([]Kline, 0, limit)
	for i := 0; i < limit; i++ {
		open := price
		price *= 1 + (rand.Float64()*2-1)*simStepPct*4
		high := math.Max(open, price) * (1 + rand.Float64()*simStepPct)
		low := math.Min(open, price) * (1 - rand.Float64()*simStepPct)

		klines = append(klines, Kline{
			OpenTime: first.Add(time.Duration(i) * step).UnixMilli(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   rand.Float64() * 100,
		})
	}

	return klines, nil
}

// SetLeverage is a no-op in simulation
func (g *SimulatedGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	g.logger.Debug().
		Str("symbol", symbol).
		Int("leverage", leverage).
		Msg("SetLeverage (simulated)")
	return nil
}

// Close stops the tick loop and closes the trade stream
func (g *SimulatedGateway) Close() error {
	g.closeOnce.Do(func() {
		close(g.done)
		g.wg.Wait()
		close(g.trades)
		g.logger.Info().Msg("Simulated gateway closed")
	})
	return nil
}

// validateOrder validates order parameters. Shared by both gateways.
func validateOrder(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("invalid order side: %s", req.Side)
	}

	if req.Type != OrderTypeMarket && req.Type != OrderTypeLimit {
		return fmt.Errorf("invalid order type: %s", req.Type)
	}

	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return fmt.Errorf("limit orders must have a positive price")
	}

	return nil
}

// parseInterval converts an exchange interval string ("1m", "15m", "1h")
// into a duration.
func parseInterval(interval string) (time.Duration, error) {
	if interval == "" {
		return 0, fmt.Errorf("interval is required")
	}

	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(strings.TrimSuffix(interval, string(unit)))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval: %s", interval)
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval unit: %s", interval)
	}
}
