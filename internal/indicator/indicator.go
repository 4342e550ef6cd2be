// Package indicator provides streaming technical indicators that vote on
// trading actions.
//
// Every indicator satisfies the same capability interface: it consumes bars
// and reports a Signal. Indicators are stateful across ticks but own no
// knowledge of positions or risk. Strength is always normalized to [-1, 1]
// so signals from indicators of different scales are comparable.
package indicator

import "signaltrader/internal/model"

// Indicator is the contract every signal source satisfies.
type Indicator interface {
	// Name returns the indicator identity (e.g. "RSI_14") used as the
	// signal source in aggregation audits.
	Name() string

	// Update feeds a new closed bar and recalculates. O(1) per bar.
	Update(bar model.Bar)

	// Signal returns the indicator's current vote. NEUTRAL until Ready.
	Signal() model.Signal

	// Ready reports whether enough bars have been accumulated.
	Ready() bool
}

// Factory builds a fresh indicator set for one symbol. Each symbol gets its
// own instances so per-symbol state never crosses streams.
type Factory func() []Indicator

// clamp bounds v to [-1, 1], the shared strength scale.
func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
