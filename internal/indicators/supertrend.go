// Package indicators provides the SuperTrend direction series that drives
// signal generation and backtesting, plus a small EMA/RSI snapshot for the
// status API.
package indicators

import (
	"fmt"
	"math"
)

// SuperTrend computes the per-bar trend direction from OHLC history.
//
// ATR is Wilder-smoothed (SMA seed over the first period true ranges, then
// atr = (prev*(period-1) + tr) / period). Bands are hl2 ± multiplier*ATR and
// ratchet while a regime holds: the lower band never falls in an uptrend,
// the upper band never rises in a downtrend. Direction is +1 (long regime)
// or -1 (short regime) for every bar; bars before the first full ATR window
// report +1.
//
// Both the market-data router and the backtester call this on every bar
// batch, so it stays allocation-light and does no channel plumbing.
func SuperTrend(highs, lows, closes []float64, period int, multiplier float64) ([]int, error) {
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return nil, fmt.Errorf("input lengths differ: %d highs, %d lows, %d closes", len(highs), len(lows), n)
	}
	if period < 1 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	if multiplier <= 0 {
		return nil, fmt.Errorf("multiplier must be positive, got %v", multiplier)
	}
	if n <= period {
		return nil, fmt.Errorf("need more than %d bars, got %d", period, n)
	}

	// True range.
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	// Wilder ATR.
	atr := make([]float64, n)
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}

	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := period - 1; i < n; i++ {
		hl2 := (highs[i] + lows[i]) / 2
		upper[i] = hl2 + multiplier*atr[i]
		lower[i] = hl2 - multiplier*atr[i]
	}

	dirs := make([]int, n)
	for i := range dirs {
		dirs[i] = 1
	}
	for i := period; i < n; i++ {
		switch {
		case closes[i] > upper[i-1]:
			dirs[i] = 1
		case closes[i] < lower[i-1]:
			dirs[i] = -1
		default:
			dirs[i] = dirs[i-1]
			if dirs[i] > 0 && lower[i] < lower[i-1] {
				lower[i] = lower[i-1]
			}
			if dirs[i] < 0 && upper[i] > upper[i-1] {
				upper[i] = upper[i-1]
			}
		}
	}

	return dirs, nil
}
