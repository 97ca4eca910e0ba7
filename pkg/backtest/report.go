// Text and YAML rendering of sweep results for the backtest CLI
package backtest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rank orders results by net profit descending. The input is not
// modified.
func Rank(results []*Result) []*Result {
	ranked := make([]*Result, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Performance.NetProfit > ranked[j].Performance.NetProfit
	})
	return ranked
}

// GenerateReport renders ranked results as a plain-text table.
func GenerateReport(results []*Result) string {
	ranked := Rank(results)

	var b strings.Builder
	b.WriteString(`
================================================================================
PARAMETER SWEEP REPORT
================================================================================
`)
	fmt.Fprintf(&b, "Generated:  %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Tickers:    %d\n", len(ranked))
	fmt.Fprintf(&b, "Window:     %dh, timeframes %v, periods %v, multipliers %v\n",
		windowHours, sweepTimeframes, sweepPeriods, sweepMultipliers)
	b.WriteString(`
RANK  TICKER        TF   PERIOD  MULT   NET PROFIT   WIN RATE
----  ------------  ---  ------  -----  -----------  --------
`)
	for i, r := range ranked {
		fmt.Fprintf(&b, "%-4d  %-12s  %2dm  %6d  %5.2f  %10.2f%%  %7.2f%%\n",
			i+1,
			r.Ticker,
			r.Params.TimeframeMin,
			r.Params.Period,
			r.Params.Multiplier,
			r.Performance.NetProfit,
			r.Performance.WinRate,
		)
	}
	if len(ranked) == 0 {
		b.WriteString("(no ticker produced a usable result)\n")
	}
	b.WriteString(`
================================================================================
`)
	return b.String()
}

// MarshalYAML serializes ranked results for downstream tooling.
func MarshalYAML(results []*Result) ([]byte, error) {
	doc := struct {
		GeneratedAt time.Time `yaml:"generated_at"`
		Results     []*Result `yaml:"results"`
	}{
		GeneratedAt: time.Now().UTC(),
		Results:     Rank(results),
	}
	return yaml.Marshal(&doc)
}
