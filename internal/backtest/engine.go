// Package backtest replays historical bars through the identical
// aggregation → risk → lifecycle pipeline used for live trading.
//
// The replay is single-threaded and fully deterministic: bars advance one
// shared virtual clock, symbols are processed in sorted order within each
// timestamp, and no wall-clock time enters the pipeline. Identical input and
// configuration always produce identical trades and equity curves.
package backtest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"signaltrader/internal/indicator"
	"signaltrader/internal/model"
	"signaltrader/internal/position"
	"signaltrader/internal/risk"
	"signaltrader/internal/signal"
)

// Engine drives the trading pipeline over historical data.
type Engine struct {
	gate         *risk.Gate
	manager      *position.Manager
	factory      indicator.Factory
	minAgreement int
}

// New creates a backtest engine. The manager must wrap a deterministic
// execution adapter (paper fills).
func New(gate *risk.Gate, manager *position.Manager, factory indicator.Factory, minAgreement int) *Engine {
	return &Engine{
		gate:         gate,
		manager:      manager,
		factory:      factory,
		minAgreement: minAgreement,
	}
}

// Run replays the per-symbol bar series in ascending timestamp order and
// returns the completed trades, the equity curve, and summary metrics.
// Any open position left at the end of the data is closed at the last bar.
func (e *Engine) Run(ctx context.Context, series map[string][]model.Bar) (*Result, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("backtest: no bar series supplied")
	}

	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	// Per-symbol indicator sets and replay cursors.
	indicators := make(map[string][]indicator.Indicator, len(symbols))
	cursor := make(map[string]int, len(symbols))
	for _, sym := range symbols {
		indicators[sym] = e.factory()
		bars := series[sym]
		if !sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) }) {
			return nil, fmt.Errorf("backtest: %s bars are not in ascending timestamp order", sym)
		}
	}

	// One shared virtual clock over the union of all bar timestamps.
	clock := mergeTimestamps(series)

	result := &Result{InitialBalance: e.gate.Balance()}
	var lastTS time.Time

	for _, ts := range clock {
		for _, sym := range symbols {
			bars := series[sym]
			i := cursor[sym]
			if i >= len(bars) || !bars[i].OpenTime.Equal(ts) {
				continue
			}
			cursor[sym]++

			bar := bars[i]
			trades, err := e.processBar(ctx, sym, bar, indicators[sym])
			if err != nil {
				return nil, err
			}
			result.Trades = append(result.Trades, trades...)
		}

		result.Equity = append(result.Equity, model.EquityPoint{
			Time:   ts,
			Equity: e.gate.Balance() + e.manager.UnrealizedPnL(),
		})
		lastTS = ts
	}

	// Flatten whatever is still open so the run settles completely.
	if closed := e.manager.CloseAll(ctx, lastTS); len(closed) > 0 {
		result.Trades = append(result.Trades, closed...)
		result.Equity = append(result.Equity, model.EquityPoint{Time: lastTS, Equity: e.gate.Balance()})
	}

	result.FinalBalance = e.gate.Balance()
	result.computeMetrics()
	log.Printf("[backtest] replayed %d ticks, %d trades, final balance %.2f",
		len(clock), len(result.Trades), result.FinalBalance)
	return result, nil
}

func (e *Engine) processBar(ctx context.Context, sym string, bar model.Bar, inds []indicator.Indicator) ([]model.TradeRecord, error) {
	signals := make(map[string]model.Signal, len(inds))
	for _, ind := range inds {
		ind.Update(bar)
		signals[ind.Name()] = ind.Signal()
	}

	decision, err := signal.Aggregate(sym, bar.OpenTime, signals, e.minAgreement)
	if err != nil {
		return nil, fmt.Errorf("backtest %s: %w", sym, err)
	}
	return e.manager.OnBar(ctx, bar, decision)
}

// mergeTimestamps returns the sorted union of all bar open times.
func mergeTimestamps(series map[string][]model.Bar) []time.Time {
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, bars := range series {
		for _, b := range bars {
			key := b.OpenTime.UnixNano()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, b.OpenTime)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
