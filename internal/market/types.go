package market

import "time"

// Bar is one resampled OHLCV bar.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceUpdate carries the latest traded price to an agent.
type PriceUpdate struct {
	Symbol string
	Price  float64
}

// Enriched is a symbol's bar history with the SuperTrend direction
// column attached. Bars and Directions are aligned and private to the
// receiver.
type Enriched struct {
	Symbol     string
	Bars       []Bar
	Directions []int
}
