// Package journal persists order submissions and fills to Postgres for
// offline analysis. The journal is optional: with no DSN configured the
// fleet runs without one, and recording failures are logged, never
// surfaced to the trading path.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
)

// writeTimeout bounds every journal write so a hung database can not
// stall an executor loop.
const writeTimeout = 3 * time.Second

const defaultRecentLimit = 50

// PoolInterface is the slice of pgxpool.Pool the journal uses. pgxmock
// satisfies it in tests.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Journal writes orders and fills to Postgres and serves recent fills to
// the status API. It satisfies executor.Journal.
type Journal struct {
	pool   PoolInterface
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id          BIGSERIAL PRIMARY KEY,
    order_id    TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    side        TEXT NOT NULL,
    type        TEXT NOT NULL,
    quantity    DOUBLE PRECISION NOT NULL,
    price       DOUBLE PRECISION NOT NULL,
    reduce_only BOOLEAN NOT NULL DEFAULT FALSE,
    tag         TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS fills (
    id         BIGSERIAL PRIMARY KEY,
    order_id   TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    side       TEXT NOT NULL,
    quantity   DOUBLE PRECISION NOT NULL,
    price      DOUBLE PRECISION NOT NULL,
    tag        TEXT NOT NULL DEFAULT '',
    filled_at  TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol_created ON orders(symbol, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_fills_symbol_filled ON fills(symbol, filled_at DESC);
`

// New connects to Postgres, verifies the connection and bootstraps the
// schema.
func New(ctx context.Context, dsn string) (*Journal, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse journal dsn: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create journal pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}

	j := NewWithPool(pool)
	if err := j.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	j.logger.Info().Msg("Trade journal connected")
	return j, nil
}

// NewWithPool wraps an existing pool without bootstrapping the schema.
func NewWithPool(pool PoolInterface) *Journal {
	return &Journal{
		pool:   pool,
		logger: config.NewLogger("journal"),
	}
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap journal schema: %w", err)
	}
	return nil
}

const insertOrder = `
INSERT INTO orders (order_id, symbol, side, type, quantity, price, reduce_only, tag, status, message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// RecordOrder journals one order submission and its gateway verdict.
func (j *Journal) RecordOrder(ctx context.Context, req exchange.OrderRequest, status exchange.OrderStatus, message string) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := j.pool.Exec(writeCtx, insertOrder,
		req.ID, req.Symbol, string(req.Side), string(req.Type),
		req.Quantity, req.Price, req.ReduceOnly, req.Tag,
		string(status), message,
	)
	if err != nil {
		j.logger.Warn().Err(err).
			Str("symbol", req.Symbol).
			Str("order_id", req.ID).
			Msg("Failed to journal order")
	}
}

const insertFill = `
INSERT INTO fills (order_id, symbol, side, quantity, price, tag, filled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// RecordFill journals one fill confirmation.
func (j *Journal) RecordFill(ctx context.Context, fill exchange.FillConfirmation) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := j.pool.Exec(writeCtx, insertFill,
		fill.OrderID, fill.Symbol, string(fill.Side),
		fill.Quantity, fill.Price, fill.Tag, fill.Time,
	)
	if err != nil {
		j.logger.Warn().Err(err).
			Str("symbol", fill.Symbol).
			Str("order_id", fill.OrderID).
			Msg("Failed to journal fill")
	}
}

// Fill is one journaled fill, newest first in RecentFills.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Tag      string    `json:"tag,omitempty"`
	FilledAt time.Time `json:"filled_at"`
}

const selectRecentFills = `
SELECT order_id, symbol, side, quantity, price, tag, filled_at
FROM fills
ORDER BY filled_at DESC
LIMIT $1`

// RecentFills returns the newest fills for the status API.
func (j *Journal) RecentFills(ctx context.Context, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := j.pool.Query(ctx, selectRecentFills, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent fills: %w", err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.OrderID, &f.Symbol, &f.Side, &f.Quantity, &f.Price, &f.Tag, &f.FilledAt); err != nil {
			return nil, fmt.Errorf("scan fill row: %w", err)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill rows: %w", err)
	}
	return fills, nil
}

// Health pings the database.
func (j *Journal) Health(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

// Close releases the pool.
func (j *Journal) Close() {
	j.pool.Close()
}
