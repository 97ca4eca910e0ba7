// SuperTrend parameter sweep over the rolling kline window
package backtest

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/indicators"
)

// Parameter grid. 3 timeframes x 3 periods x 5 multipliers = 45 combos
// per ticker per cycle.
var (
	sweepTimeframes  = []int{1, 5, 15}
	sweepPeriods     = []int{20, 30, 40}
	sweepMultipliers = []float64{2.0, 2.5, 3.0, 3.5, 4.0}
)

// sentinelLoss marks a combination that could not be evaluated (too few
// bars). A ticker whose best result never beats the sentinel is dropped
// from selection entirely.
const sentinelLoss = -100.0

// Optimizer runs the full parameter sweep for a ticker. All CPU work
// happens on the caller's goroutine; the orchestrator bounds parallelism
// across tickers, so nothing here spawns goroutines or touches channels.
type Optimizer struct {
	history *History
}

// NewOptimizer builds an Optimizer over the shared kline history.
func NewOptimizer(history *History) *Optimizer {
	return &Optimizer{history: history}
}

// Optimize evaluates all 45 grid points for ticker and returns the best
// one. A nil result (with nil error) means no combination produced a
// usable net profit and the ticker should not be selected. The error
// return is reserved for context cancellation; per-timeframe fetch
// problems are logged and the timeframe skipped.
func (o *Optimizer) Optimize(ctx context.Context, ticker string) (*Result, error) {
	best := Performance{NetProfit: sentinelLoss - 1}
	var bestParams StrategyParams
	found := false

	for _, timeframe := range sweepTimeframes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := o.history.Fetch(ctx, ticker, timeframe)
		if err != nil {
			log.Warn().Err(err).
				Str("ticker", ticker).
				Int("timeframe_min", timeframe).
				Msg("No kline history for timeframe - skipping")
			continue
		}
		if len(bars) == 0 {
			continue
		}

		highs, lows, closes := columns(bars)

		for _, period := range sweepPeriods {
			for _, multiplier := range sweepMultipliers {
				perf := singleRun(highs, lows, closes, period, multiplier)
				if perf.NetProfit > best.NetProfit {
					best = perf
					bestParams = StrategyParams{
						TimeframeMin: timeframe,
						Period:       period,
						Multiplier:   multiplier,
					}
					found = true
				}
			}
		}
	}

	if !found || best.NetProfit <= sentinelLoss {
		log.Warn().Str("ticker", ticker).Msg("No profitable parameters found")
		return nil, nil
	}

	log.Info().
		Str("ticker", ticker).
		Int("timeframe_min", bestParams.TimeframeMin).
		Int("period", bestParams.Period).
		Float64("multiplier", bestParams.Multiplier).
		Float64("net_profit_pct", best.NetProfit).
		Float64("win_rate_pct", best.WinRate).
		Msg("Optimization complete")

	return &Result{Ticker: ticker, Params: bestParams, Performance: best}, nil
}

// singleRun backtests one (period, multiplier) pair on one timeframe's
// window. Position is +1 in an up regime and -1 in a down regime; the bar
// return is the close-to-close percent change times the previous bar's
// position. Bars before the indicator warms up contribute nothing, same
// as rows dropped for missing values.
func singleRun(highs, lows, closes []float64, period int, multiplier float64) Performance {
	if len(closes) < period {
		return Performance{NetProfit: sentinelLoss, WinRate: 0}
	}

	directions, err := indicators.SuperTrend(highs, lows, closes, period, multiplier)
	if err != nil {
		return Performance{NetProfit: sentinelLoss, WinRate: 0}
	}

	cumulative := 1.0
	wins, losses, counted := 0, 0, 0

	// First computed direction lands at index `period`, so the first
	// usable strategy return is one bar later.
	for t := period + 1; t < len(closes); t++ {
		prev := closes[t-1]
		if prev == 0 {
			continue
		}
		barReturn := closes[t]/prev - 1
		strategyReturn := barReturn * float64(directions[t-1])

		cumulative *= 1 + strategyReturn
		if strategyReturn > 0 {
			wins++
		} else if strategyReturn < 0 {
			losses++
		}
		counted++
	}

	if counted == 0 {
		return Performance{NetProfit: 0, WinRate: 0}
	}

	netProfit := (cumulative - 1) * 100
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}
	return Performance{NetProfit: netProfit, WinRate: winRate}
}

// columns splits a kline window into the float slices the indicator wants.
func columns(bars []exchange.Kline) (highs, lows, closes []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	return highs, lows, closes
}
