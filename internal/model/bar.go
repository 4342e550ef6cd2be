package model

import "time"

// Bar represents a single OHLCV candle for one symbol and timeframe.
type Bar struct {
	Symbol   string    `json:"symbol"`
	OpenTime time.Time `json:"open_time"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}
