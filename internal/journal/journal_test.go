package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
)

func newMockJournal(t *testing.T) (*Journal, pgxmock.PgxPoolIface) {
	t.Helper()

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	return NewWithPool(mockPool), mockPool
}

func TestRecordOrderWritesRow(t *testing.T) {
	j, mockPool := newMockJournal(t)

	req := exchange.OrderRequest{
		ID:       "grid-7",
		Symbol:   "BTCUSDT",
		Side:     exchange.SideBuy,
		Type:     exchange.OrderTypeLimit,
		Quantity: 0.25,
		Price:    64000,
		Tag:      "grid",
	}

	mockPool.ExpectExec("INSERT INTO orders").
		WithArgs("grid-7", "BTCUSDT", "BUY", "LIMIT", 0.25, 64000.0, false, "grid", "FILLED", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	j.RecordOrder(context.Background(), req, exchange.OrderStatusFilled, "")

	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordOrderFailureIsNotFatal(t *testing.T) {
	j, mockPool := newMockJournal(t)

	mockPool.ExpectExec("INSERT INTO orders").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	// RecordOrder has no error return: a journal outage must never reach
	// the executor.
	j.RecordOrder(context.Background(), exchange.OrderRequest{
		ID:     "grid-8",
		Symbol: "ETHUSDT",
		Side:   exchange.SideSell,
		Type:   exchange.OrderTypeMarket,
	}, exchange.OrderStatusRejected, "insufficient margin")

	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordFillWritesRow(t *testing.T) {
	j, mockPool := newMockJournal(t)

	filledAt := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	fill := exchange.FillConfirmation{
		OrderID:  "grid-9",
		Symbol:   "SOLUSDT",
		Side:     exchange.SideBuy,
		Quantity: 3,
		Price:    142.5,
		Tag:      "grid",
		Time:     filledAt,
	}

	mockPool.ExpectExec("INSERT INTO fills").
		WithArgs("grid-9", "SOLUSDT", "BUY", 3.0, 142.5, "grid", filledAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	j.RecordFill(context.Background(), fill)

	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentFillsReturnsNewestFirst(t *testing.T) {
	j, mockPool := newMockJournal(t)

	newer := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-5 * time.Minute)

	mockPool.ExpectQuery("SELECT order_id, symbol, side, quantity, price, tag, filled_at").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "symbol", "side", "quantity", "price", "tag", "filled_at"}).
			AddRow("grid-11", "BTCUSDT", "SELL", 0.1, 64500.0, "grid", newer).
			AddRow("grid-10", "BTCUSDT", "BUY", 0.1, 64000.0, "grid", older))

	fills, err := j.RecentFills(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	assert.Equal(t, "grid-11", fills[0].OrderID)
	assert.Equal(t, newer, fills[0].FilledAt)
	assert.Equal(t, "SELL", fills[0].Side)
	assert.Equal(t, "grid-10", fills[1].OrderID)
}

func TestRecentFillsDefaultLimit(t *testing.T) {
	j, mockPool := newMockJournal(t)

	mockPool.ExpectQuery("SELECT order_id, symbol, side, quantity, price, tag, filled_at").
		WithArgs(defaultRecentLimit).
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "symbol", "side", "quantity", "price", "tag", "filled_at"}))

	fills, err := j.RecentFills(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, fills)

	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentFillsQueryError(t *testing.T) {
	j, mockPool := newMockJournal(t)

	mockPool.ExpectQuery("SELECT order_id, symbol, side, quantity, price, tag, filled_at").
		WithArgs(10).
		WillReturnError(errors.New("relation \"fills\" does not exist"))

	_, err := j.RecentFills(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query recent fills")
}
