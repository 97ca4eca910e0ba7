package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/titanfleet/internal/metrics"
)

const (
	mainnetStreamURL = "wss://fstream.binance.com/stream"
	testnetStreamURL = "wss://stream.binancefuture.com/stream"

	// Market stream reconnect backoff
	reconnectInitial = 5 * time.Second
	reconnectMax     = 15 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// LiveGatewayConfig configures the Binance USDT-M futures gateway
type LiveGatewayConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool

	// RateLimitPerSec/RateLimitBurst pace REST requests; zero selects
	// 10 req/s with a burst of 20.
	RateLimitPerSec float64
	RateLimitBurst  int

	// StreamURL overrides the combined stream endpoint (tests)
	StreamURL string
	// ReconnectInitial/ReconnectMax override the reconnect backoff (tests)
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// symbolPrecision holds the decimal precision for order formatting,
// populated from exchange info.
type symbolPrecision struct {
	price int
	qty   int
}

// LiveGateway talks to Binance USDT-M futures: REST through the official
// client, market data through a raw combined-stream websocket with dynamic
// SUBSCRIBE/UNSUBSCRIBE frames.
type LiveGateway struct {
	client  *futures.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  zerolog.Logger

	trades chan Trade

	connMu sync.Mutex // serializes frame writes and conn swaps
	conn   *websocket.Conn

	subMu      sync.Mutex
	subscribed map[string]struct{}

	precMu    sync.RWMutex
	precision map[string]symbolPrecision

	streamURL        string
	reconnectInitial time.Duration
	reconnectMax     time.Duration

	reqID     atomic.Int64
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLiveGateway creates the gateway and starts the market stream loop.
// The REST client is ready immediately; the stream connects in the
// background and re-subscribes automatically after reconnects.
func NewLiveGateway(cfg LiveGatewayConfig) (*LiveGateway, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("live gateway requires API credentials")
	}

	if cfg.Testnet {
		futures.UseTestnet = true
	}

	streamURL := cfg.StreamURL
	if streamURL == "" {
		streamURL = mainnetStreamURL
		if cfg.Testnet {
			streamURL = testnetStreamURL
		}
	}

	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = reconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = reconnectMax
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &LiveGateway{
		client:           futures.NewClient(cfg.APIKey, cfg.APISecret),
		limiter:          rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		retry:            DefaultRetryConfig(),
		logger:           log.With().Str("component", "live_gateway").Logger(),
		trades:           make(chan Trade, tradeBufferSize),
		subscribed:       make(map[string]struct{}),
		precision:        make(map[string]symbolPrecision),
		streamURL:        streamURL,
		reconnectInitial: cfg.ReconnectInitial,
		reconnectMax:     cfg.ReconnectMax,
		ctx:              ctx,
		cancel:           cancel,
	}

	g.wg.Add(1)
	go g.streamLoop()

	return g, nil
}

// wsCommand is a SUBSCRIBE/UNSUBSCRIBE frame
type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// wsEnvelope wraps every combined stream payload
type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsAggTrade is the aggTrade payload; only the fields we consume
type wsAggTrade struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	TradeTS  int64  `json:"T"`
}

func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@aggTrade"
}

// streamLoop owns the websocket connection: dial, read until failure,
// then reconnect with capped exponential backoff and re-subscribe.
func (g *LiveGateway) streamLoop() {
	defer g.wg.Done()

	backoff := g.reconnectInitial

	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(g.streamURL, nil)
		if err != nil {
			g.logger.Warn().
				Err(err).
				Str("url", g.streamURL).
				Dur("backoff", backoff).
				Msg("Market stream dial failed")

			select {
			case <-g.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, g.reconnectMax)
			continue
		}

		g.connMu.Lock()
		g.conn = conn
		g.connMu.Unlock()

		g.logger.Info().Str("url", g.streamURL).Msg("Market stream connected")
		backoff = g.reconnectInitial

		if err := g.resubscribe(); err != nil {
			g.logger.Warn().Err(err).Msg("Re-subscribe after connect failed")
		}

		pingDone := make(chan struct{})
		go g.pingLoop(conn, pingDone)

		g.readLoop(conn)

		close(pingDone)
		conn.Close()

		g.connMu.Lock()
		g.conn = nil
		g.connMu.Unlock()

		select {
		case <-g.ctx.Done():
			return
		default:
		}

		metrics.RecordReconnect()
		g.logger.Warn().Dur("backoff", backoff).Msg("Market stream disconnected, reconnecting")

		select {
		case <-g.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, g.reconnectMax)
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}

// readLoop consumes frames until the connection fails. The read deadline
// catches silent connections; any inbound frame or pong refreshes it.
func (g *LiveGateway) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if g.ctx.Err() == nil {
				g.logger.Warn().Err(err).Msg("Market stream read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		g.dispatch(msg)
	}
}

// dispatch decodes a combined-stream envelope and forwards aggTrades.
func (g *LiveGateway) dispatch(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Stream == "" {
		// Subscription acks and control payloads have no stream field
		return
	}

	if !strings.HasSuffix(env.Stream, "@aggTrade") {
		return
	}

	var t wsAggTrade
	if err := json.Unmarshal(env.Data, &t); err != nil {
		g.logger.Debug().Err(err).Str("stream", env.Stream).Msg("Malformed aggTrade payload")
		return
	}

	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return
	}
	qty, _ := strconv.ParseFloat(t.Quantity, 64)

	trade := Trade{
		Symbol: t.Symbol,
		Price:  price,
		Qty:    qty,
		Time:   time.UnixMilli(t.TradeTS),
	}

	select {
	case g.trades <- trade:
	default:
		// Consumers resample ticks; dropping under backpressure is safe
	}
}

// pingLoop keeps the connection alive. WriteControl is safe to call
// concurrently with other writes.
func (g *LiveGateway) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// sendCommand writes a SUBSCRIBE/UNSUBSCRIBE frame. A nil connection is
// not an error: the pending subscription set is replayed on (re)connect.
func (g *LiveGateway) sendCommand(method string, params ...string) error {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	if g.conn == nil {
		return nil
	}

	cmd := wsCommand{Method: method, Params: params, ID: g.reqID.Add(1)}
	g.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := g.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

func (g *LiveGateway) resubscribe() error {
	g.subMu.Lock()
	streams := make([]string, 0, len(g.subscribed))
	for sym := range g.subscribed {
		streams = append(streams, streamName(sym))
	}
	g.subMu.Unlock()

	if len(streams) == 0 {
		return nil
	}

	g.logger.Info().Int("streams", len(streams)).Msg("Subscribing market streams")
	return g.sendCommand("SUBSCRIBE", streams...)
}

// Subscribe starts streaming aggTrades for a symbol. Idempotent.
func (g *LiveGateway) Subscribe(_ context.Context, symbol string) error {
	g.subMu.Lock()
	if _, ok := g.subscribed[symbol]; ok {
		g.subMu.Unlock()
		return nil
	}
	g.subscribed[symbol] = struct{}{}
	g.subMu.Unlock()

	g.logger.Info().Str("symbol", symbol).Msg("Subscribing market stream")
	return g.sendCommand("SUBSCRIBE", streamName(symbol))
}

// Unsubscribe stops streaming trades for a symbol. Idempotent.
func (g *LiveGateway) Unsubscribe(_ context.Context, symbol string) error {
	g.subMu.Lock()
	if _, ok := g.subscribed[symbol]; !ok {
		g.subMu.Unlock()
		return nil
	}
	delete(g.subscribed, symbol)
	g.subMu.Unlock()

	g.logger.Info().Str("symbol", symbol).Msg("Unsubscribing market stream")
	return g.sendCommand("UNSUBSCRIBE", streamName(symbol))
}

// Trades returns the multiplexed trade stream
func (g *LiveGateway) Trades() <-chan Trade {
	return g.trades
}

// PlaceOrder submits an order. Venue rejections come back with
// OrderStatusRejected; an error means the request never got a verdict.
func (g *LiveGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*PlaceOrderResponse, error) {
	if err := validateOrder(req); err != nil {
		return &PlaceOrderResponse{Status: OrderStatusRejected, Message: err.Error()}, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.ObserveGatewayRequest(metrics.OpPlaceOrder, time.Since(start).Seconds())
	}()

	var res *futures.CreateOrderResponse
	err := WithRetry(ctx, g.retry, func() error {
		svc := g.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(futures.SideType(req.Side)).
			Quantity(g.formatQty(ctx, req.Symbol, req.Quantity))

		if req.ID != "" {
			svc = svc.NewClientOrderID(req.ID)
		}
		if req.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}

		switch req.Type {
		case OrderTypeLimit:
			svc = svc.Type(futures.OrderTypeLimit).
				TimeInForce(futures.TimeInForceTypeGTC).
				Price(g.formatPrice(ctx, req.Symbol, req.Price))
		default:
			svc = svc.Type(futures.OrderTypeMarket)
		}

		var doErr error
		res, doErr = svc.Do(ctx)
		return doErr
	})
	if err != nil {
		if isVenueRejection(err) {
			g.logger.Warn().
				Err(err).
				Str("symbol", req.Symbol).
				Str("side", string(req.Side)).
				Float64("qty", req.Quantity).
				Msg("Order rejected by venue")
			return &PlaceOrderResponse{Status: OrderStatusRejected, Message: err.Error()}, nil
		}
		return nil, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}

	avgPrice, _ := strconv.ParseFloat(res.AvgPrice, 64)

	g.logger.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Int64("order_id", res.OrderID).
		Str("status", string(res.Status)).
		Msg("Order placed")

	return &PlaceOrderResponse{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Status:   OrderStatus(res.Status),
		AvgPrice: avgPrice,
	}, nil
}

// isVenueRejection reports whether the venue answered with a definitive
// business rejection (bad quantity, insufficient margin) as opposed to a
// transport failure. The futures client formats these as <APIError> codes.
func isVenueRejection(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "<APIError>") && !IsRetryable(err)
}

// CancelAllOrders cancels every resting order for a symbol
func (g *LiveGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		metrics.ObserveGatewayRequest(metrics.OpCancelAll, time.Since(start).Seconds())
	}()

	err := WithRetry(ctx, g.retry, func() error {
		return g.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return fmt.Errorf("cancel all orders %s: %w", symbol, err)
	}

	g.logger.Debug().Str("symbol", symbol).Msg("Canceled all open orders")
	return nil
}

// Instruments returns the tradable USDT perpetual symbols and refreshes
// the precision cache used for order formatting.
func (g *LiveGateway) Instruments(ctx context.Context) ([]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.ObserveGatewayRequest(metrics.OpInstruments, time.Since(start).Seconds())
	}()

	var info *futures.ExchangeInfo
	err := WithRetry(ctx, g.retry, func() error {
		var doErr error
		info, doErr = g.client.NewExchangeInfoService().Do(ctx)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	symbols := make([]string, 0, len(info.Symbols))

	g.precMu.Lock()
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		g.precision[s.Symbol] = symbolPrecision{price: s.PricePrecision, qty: s.QuantityPrecision}
	}
	g.precMu.Unlock()

	g.logger.Debug().Int("count", len(symbols)).Msg("Fetched tradable instruments")
	return symbols, nil
}

// WalletBalance returns the USDT wallet balance of the futures account
func (g *LiveGateway) WalletBalance(ctx context.Context) (float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		metrics.ObserveGatewayRequest(metrics.OpBalance, time.Since(start).Seconds())
	}()

	var acct *futures.Account
	err := WithRetry(ctx, g.retry, func() error {
		var doErr error
		acct, doErr = g.client.NewGetAccountService().Do(ctx)
		return doErr
	})
	if err != nil {
		return 0, fmt.Errorf("account balance: %w", err)
	}

	for _, a := range acct.Assets {
		if a.Asset != "USDT" {
			continue
		}
		bal, err := strconv.ParseFloat(a.WalletBalance, 64)
		if err != nil {
			return 0, fmt.Errorf("parse wallet balance %q: %w", a.WalletBalance, err)
		}
		return bal, nil
	}

	return 0, nil
}

// Klines returns historical bars. startTime of zero asks for the most
// recent window.
func (g *LiveGateway) Klines(ctx context.Context, symbol, interval string, limit int, startTime int64) ([]Kline, error) {
	if _, err := parseInterval(interval); err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.ObserveGatewayRequest(metrics.OpKlines, time.Since(start).Seconds())
	}()

	var raw []*futures.Kline
	err := WithRetry(ctx, g.retry, func() error {
		svc := g.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit)
		if startTime > 0 {
			svc = svc.StartTime(startTime)
		}
		var doErr error
		raw, doErr = svc.Do(ctx)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	out := make([]Kline, 0, len(raw))
	for _, k := range raw {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		out = append(out, Kline{
			OpenTime: k.OpenTime,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   vol,
		})
	}
	return out, nil
}

// SetLeverage sets the leverage multiplier for a symbol
func (g *LiveGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		metrics.ObserveGatewayRequest(metrics.OpSetLeverage, time.Since(start).Seconds())
	}()

	err := WithRetry(ctx, g.retry, func() error {
		_, doErr := g.client.NewChangeLeverageService().
			Symbol(symbol).
			Leverage(leverage).
			Do(ctx)
		return doErr
	})
	if err != nil {
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}

	g.logger.Info().Str("symbol", symbol).Int("leverage", leverage).Msg("Leverage set")
	return nil
}

// Close tears down the stream and the trade channel
func (g *LiveGateway) Close() error {
	g.closeOnce.Do(func() {
		g.cancel()

		g.connMu.Lock()
		if g.conn != nil {
			g.conn.Close()
		}
		g.connMu.Unlock()

		g.wg.Wait()
		close(g.trades)
		g.logger.Info().Msg("Live gateway closed")
	})
	return nil
}

// precisionFor resolves formatting precision for a symbol, loading the
// exchange info on first use.
func (g *LiveGateway) precisionFor(ctx context.Context, symbol string) (symbolPrecision, bool) {
	g.precMu.RLock()
	p, ok := g.precision[symbol]
	g.precMu.RUnlock()
	if ok {
		return p, true
	}

	if _, err := g.Instruments(ctx); err != nil {
		g.logger.Warn().Err(err).Str("symbol", symbol).Msg("Precision lookup failed")
		return symbolPrecision{}, false
	}

	g.precMu.RLock()
	p, ok = g.precision[symbol]
	g.precMu.RUnlock()
	return p, ok
}

func (g *LiveGateway) formatQty(ctx context.Context, symbol string, qty float64) string {
	if p, ok := g.precisionFor(ctx, symbol); ok {
		return strconv.FormatFloat(qty, 'f', p.qty, 64)
	}
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

func (g *LiveGateway) formatPrice(ctx context.Context, symbol string, price float64) string {
	if p, ok := g.precisionFor(ctx, symbol); ok {
		return strconv.FormatFloat(price, 'f', p.price, 64)
	}
	return strconv.FormatFloat(price, 'f', -1, 64)
}
