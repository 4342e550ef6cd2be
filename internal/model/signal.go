package model

import "time"

// SignalType is the trading action an indicator (or the aggregator) suggests.
type SignalType string

const (
	SignalLong       SignalType = "LONG"
	SignalShort      SignalType = "SHORT"
	SignalCloseLong  SignalType = "CLOSE_LONG"
	SignalCloseShort SignalType = "CLOSE_SHORT"
	SignalNeutral    SignalType = "NEUTRAL"
)

// IsOpening reports whether the signal opens a new position.
func (s SignalType) IsOpening() bool {
	return s == SignalLong || s == SignalShort
}

// IsClosing reports whether the signal closes an existing position.
func (s SignalType) IsClosing() bool {
	return s == SignalCloseLong || s == SignalCloseShort
}

// Signal is a single indicator's vote for one symbol at one bar.
//
// Strength is normalized to [-1, 1] by every indicator: positive values lean
// long, negative lean short, magnitude is conviction. Immutable once produced.
type Signal struct {
	Type     SignalType `json:"type"`
	Source   string     `json:"source"` // indicator name, e.g. "RSI_14"
	Strength float64    `json:"strength"`
	BarTime  time.Time  `json:"bar_time"`
}

// AggregatedDecision is the single action derived from all indicator signals
// for one symbol at one tick, plus the votes that produced it.
type AggregatedDecision struct {
	Symbol       string            `json:"symbol"`
	BarTime      time.Time         `json:"bar_time"`
	Action       SignalType        `json:"action"`
	Agreement    int               `json:"agreement"` // indicators agreeing on Action
	Contributing map[string]Signal `json:"contributing"`
}
