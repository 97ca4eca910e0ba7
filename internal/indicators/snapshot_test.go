package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRequiresFullWindow(t *testing.T) {
	closes := make([]float64, snapshotEMAPeriod)
	for i := range closes {
		closes[i] = 100
	}

	snap, err := Snapshot(closes)
	assert.Nil(t, snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need more than 20 closes")
}

func TestSnapshotBoundaryWindow(t *testing.T) {
	closes := make([]float64, snapshotEMAPeriod+1)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	snap, err := Snapshot(closes)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Greater(t, snap.EMA20, 0.0)
}

func TestSnapshotUptrend(t *testing.T) {
	// Net-up tape: +3 then -1, repeated. Price finishes well above its
	// EMA and gains dominate losses.
	closes := make([]float64, 0, 40)
	price := 100.0
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			price += 3
		} else {
			price -= 1
		}
		closes = append(closes, price)
	}

	snap, err := Snapshot(closes)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "bullish", snap.Trend)
	assert.Less(t, snap.EMA20, closes[len(closes)-1])
	assert.Greater(t, snap.RSI14, 55.0)
	assert.LessOrEqual(t, snap.RSI14, 100.0)
}

func TestSnapshotDowntrend(t *testing.T) {
	closes := make([]float64, 0, 40)
	price := 500.0
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			price -= 3
		} else {
			price += 1
		}
		closes = append(closes, price)
	}

	snap, err := Snapshot(closes)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "bearish", snap.Trend)
	assert.Greater(t, snap.EMA20, closes[len(closes)-1])
	assert.Less(t, snap.RSI14, 45.0)
	assert.GreaterOrEqual(t, snap.RSI14, 0.0)
}
