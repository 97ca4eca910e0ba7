package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionSize(t *testing.T) {
	// 10000 balance risking 1% against a 1% grid width at 30000:
	// (100 / 0.01) / 30000.
	qty := PositionSize(10000, 1.0, 1.0, 30000)
	assert.InDelta(t, 0.3333, qty, 0.0001)
}

func TestPositionSizeScalesWithBalance(t *testing.T) {
	small := PositionSize(10000, 1.0, 1.0, 30000)
	large := PositionSize(20000, 1.0, 1.0, 30000)
	assert.InDelta(t, 2*small, large, 1e-12)
}

func TestPositionSizeClampsRisk(t *testing.T) {
	capped := PositionSize(10000, 3.0, 1.0, 30000)
	over := PositionSize(10000, 5.0, 1.0, 30000)
	assert.Equal(t, capped, over, "risk above 3%% of equity is clamped")
	assert.InDelta(t, 1.0, capped, 0.0001)
}

func TestPositionSizeDegenerateInputs(t *testing.T) {
	tests := []struct {
		name                               string
		balance, risk, gridWidthPct, price float64
	}{
		{name: "zero balance", balance: 0, risk: 1, gridWidthPct: 1, price: 30000},
		{name: "negative balance", balance: -50, risk: 1, gridWidthPct: 1, price: 30000},
		{name: "zero grid width", balance: 10000, risk: 1, gridWidthPct: 0, price: 30000},
		{name: "negative grid width", balance: 10000, risk: 1, gridWidthPct: -1, price: 30000},
		{name: "zero price", balance: 10000, risk: 1, gridWidthPct: 1, price: 0},
		{name: "zero risk", balance: 10000, risk: 0, gridWidthPct: 1, price: 30000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, PositionSize(tt.balance, tt.risk, tt.gridWidthPct, tt.price))
		})
	}
}

func TestPositionSizeWiderGridShrinksQty(t *testing.T) {
	narrow := PositionSize(10000, 1.0, 1.0, 30000)
	wide := PositionSize(10000, 1.0, 2.0, 30000)
	assert.InDelta(t, narrow/2, wide, 1e-12, "doubling the stop distance halves the size")
}
