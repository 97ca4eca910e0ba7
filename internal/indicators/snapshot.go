package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

const (
	snapshotEMAPeriod = 20
	snapshotRSIPeriod = 14
)

// TechSnapshot summarizes trend and momentum state for the status API.
type TechSnapshot struct {
	EMA20 float64 `json:"ema20"`
	RSI14 float64 `json:"rsi14"`
	Trend string  `json:"trend"` // "bullish", "bearish", "neutral"
}

// Snapshot computes EMA(20) and RSI(14) over a close series. Returns nil
// when the series is too short for a full EMA window.
func Snapshot(closes []float64) (*TechSnapshot, error) {
	if len(closes) <= snapshotEMAPeriod {
		return nil, fmt.Errorf("need more than %d closes, got %d", snapshotEMAPeriod, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](snapshotEMAPeriod)
	emaVal, ok := lastValue(ema.Compute(sliceChan(closes)))
	if !ok {
		return nil, fmt.Errorf("no EMA values calculated")
	}

	rsi := momentum.NewRsiWithPeriod[float64](snapshotRSIPeriod)
	rsiVal, ok := lastValue(rsi.Compute(sliceChan(closes)))
	if !ok {
		return nil, fmt.Errorf("no RSI values calculated")
	}

	last := closes[len(closes)-1]
	direction := "neutral"
	if last > emaVal {
		direction = "bullish"
	} else if last < emaVal {
		direction = "bearish"
	}

	return &TechSnapshot{
		EMA20: emaVal,
		RSI14: rsiVal,
		Trend: direction,
	}, nil
}

// sliceChan feeds a slice into a closed channel, the input form the
// cinar indicators consume.
func sliceChan(values []float64) <-chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// lastValue drains an indicator output channel and keeps the most
// recent value.
func lastValue(ch <-chan float64) (float64, bool) {
	var v float64
	var ok bool
	for x := range ch {
		v, ok = x, true
	}
	return v, ok
}
