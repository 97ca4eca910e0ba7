// Package backtest evaluates SuperTrend parameter combinations against
// recent exchange history. The orchestrator calls Optimize for every
// candidate ticker each selection cycle and ranks the results by net
// profit; the backtest CLI exposes the same sweep for one-off runs.
package backtest

// StrategyParams identifies one point in the parameter grid: the kline
// timeframe the sweep ran on plus the SuperTrend period and multiplier.
type StrategyParams struct {
	TimeframeMin int     `json:"timeframe" yaml:"timeframe"`
	Period       int     `json:"period" yaml:"period"`
	Multiplier   float64 `json:"multiplier" yaml:"multiplier"`
}

// Performance holds the two figures the ranking cares about. NetProfit is
// the compounded strategy return in percent; WinRate is the share of
// profitable bars among all non-flat bars, also in percent.
type Performance struct {
	NetProfit float64 `json:"net_profit" yaml:"net_profit"`
	WinRate   float64 `json:"win_rate" yaml:"win_rate"`
}

// Result is the best grid point found for one ticker.
type Result struct {
	Ticker      string         `json:"ticker" yaml:"ticker"`
	Params      StrategyParams `json:"params" yaml:"params"`
	Performance Performance    `json:"performance" yaml:"performance"`
}
