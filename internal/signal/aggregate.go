// Package signal combines per-indicator votes into a single trading decision.
//
// Aggregation is a pure function: identical inputs always yield the identical
// decision, which the backtest engine relies on for reproducibility.
package signal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"signaltrader/internal/model"
)

// ErrInvalidConfig is returned for unusable aggregation parameters.
var ErrInvalidConfig = errors.New("invalid aggregation config")

// precedence is the fixed tie-break order when several actions reach the
// agreement threshold in the same tick: closing an exposure always wins over
// opening a new one.
var precedence = []model.SignalType{
	model.SignalCloseLong,
	model.SignalCloseShort,
	model.SignalLong,
	model.SignalShort,
}

// Aggregate groups the indicator signals by action and returns the first
// action (in closing-before-opening precedence) agreed on by at least
// minAgreement indicators. If no action reaches the threshold the decision
// is NEUTRAL.
func Aggregate(symbol string, ts time.Time, signals map[string]model.Signal, minAgreement int) (model.AggregatedDecision, error) {
	if minAgreement < 1 {
		return model.AggregatedDecision{}, fmt.Errorf("%w: min agreement %d < 1", ErrInvalidConfig, minAgreement)
	}
	if minAgreement > len(signals) {
		return model.AggregatedDecision{}, fmt.Errorf("%w: min agreement %d exceeds %d indicators", ErrInvalidConfig, minAgreement, len(signals))
	}

	counts := make(map[model.SignalType]int, len(precedence))
	contributing := make(map[string]model.Signal, len(signals))

	// Iterate in sorted indicator order so the decision is deterministic
	// regardless of map layout.
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sig := signals[name]
		counts[sig.Type]++
		contributing[name] = sig
	}

	decision := model.AggregatedDecision{
		Symbol:       symbol,
		BarTime:      ts,
		Action:       model.SignalNeutral,
		Contributing: contributing,
	}
	for _, action := range precedence {
		if counts[action] >= minAgreement {
			decision.Action = action
			decision.Agreement = counts[action]
			break
		}
	}
	return decision, nil
}
