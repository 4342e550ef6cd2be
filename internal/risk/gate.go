package risk

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signaltrader/internal/model"
)

// Rejection errors. Ordinary result values, not fatal: the decision is dropped
// for the tick and the pipeline continues.
var (
	ErrPositionTooSmall = errors.New("position notional below exchange minimum")
	ErrDailyLossLimit   = errors.New("daily loss limit exceeded")
	ErrTotalLossLimit   = errors.New("total loss limit exceeded")
	ErrMaxOpenPositions = errors.New("max open positions reached")
)

const dayLayout = "2006-01-02"

// SizedOrder is an approved, fully sized opening order with protective prices.
type SizedOrder struct {
	Symbol     string     `json:"symbol"`
	Side       model.Side `json:"side"`
	Quantity   float64    `json:"quantity"` // base-asset quantity
	Notional   float64    `json:"notional"` // quote currency, before leverage
	Price      float64    `json:"price"`    // reference price used for sizing
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
}

// Gate validates opening decisions against the account risk limits and owns
// the session risk counters.
//
// Evaluate has no side effects; counters move only through RecordClosedTrade,
// called exactly once per closed trade. Day boundaries are derived from tick
// timestamps, never wall clock, so backtest and live share the logic.
type Gate struct {
	mu     sync.RWMutex
	limits Limits

	balance     float64
	dailyPnL    float64
	totalPnL    float64
	tradesToday int
	day         string // UTC date the daily counters belong to
}

// NewGate creates a Gate with the given limits and starting balance.
func NewGate(limits Limits, initialBalance float64) *Gate {
	return &Gate{limits: limits, balance: initialBalance}
}

// Limits returns the configured limits.
func (g *Gate) Limits() Limits {
	return g.limits
}

// SetBalance overwrites the balance snapshot (live account refresh).
func (g *Gate) SetBalance(balance float64) {
	g.mu.Lock()
	g.balance = balance
	g.mu.Unlock()
}

// Balance returns the current account balance snapshot.
func (g *Gate) Balance() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.balance
}

// Evaluate validates an opening decision and returns a sized order.
//
// openCount is the number of OTHER symbols currently holding (or opening) a
// position; the caller reads it under the same account lock that serializes
// all risk decisions. price is the reference price for sizing. Validation
// short-circuits on the first failing rule.
func (g *Gate) Evaluate(decision model.AggregatedDecision, price float64, openCount int) (SizedOrder, error) {
	if !decision.Action.IsOpening() {
		return SizedOrder{}, fmt.Errorf("evaluate: %s is not an opening action", decision.Action)
	}
	if price <= 0 {
		return SizedOrder{}, fmt.Errorf("evaluate: invalid reference price %.8f", price)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Sizing clamp: percentage of balance, capped by the absolute limit.
	notional := g.balance * g.limits.MaxPositionSizePct / 100.0
	if g.limits.MaxPositionSizeUSD > 0 && notional > g.limits.MaxPositionSizeUSD {
		notional = g.limits.MaxPositionSizeUSD
	}
	if notional < g.limits.MinNotionalUSD {
		return SizedOrder{}, fmt.Errorf("%w: %.2f < %.2f", ErrPositionTooSmall, notional, g.limits.MinNotionalUSD)
	}

	// Daily counters logically reset at the tick's UTC day boundary even if
	// no trade has crossed it yet.
	dailyLoss := -g.dailyPnL
	if day := decision.BarTime.UTC().Format(dayLayout); g.day != "" && day > g.day {
		dailyLoss = 0
	}
	if dailyLoss >= g.balance*g.limits.MaxDailyLossPct/100.0 {
		return SizedOrder{}, fmt.Errorf("%w: daily loss %.2f, limit %.2f%% of %.2f",
			ErrDailyLossLimit, dailyLoss, g.limits.MaxDailyLossPct, g.balance)
	}

	if totalLoss := -g.totalPnL; totalLoss >= g.balance*g.limits.MaxTotalLossPct/100.0 {
		return SizedOrder{}, fmt.Errorf("%w: total loss %.2f, limit %.2f%% of %.2f",
			ErrTotalLossLimit, totalLoss, g.limits.MaxTotalLossPct, g.balance)
	}

	if openCount >= g.limits.MaxOpenPositions {
		return SizedOrder{}, fmt.Errorf("%w: %d open", ErrMaxOpenPositions, openCount)
	}

	side := model.SideLong
	if decision.Action == model.SignalShort {
		side = model.SideShort
	}
	quantity := notional * g.limits.Leverage / price

	order := SizedOrder{
		Symbol:   decision.Symbol,
		Side:     side,
		Quantity: quantity,
		Notional: notional,
		Price:    price,
	}
	if side == model.SideLong {
		order.StopLoss = price * (1 - g.limits.StopLossPct/100.0)
		order.TakeProfit = price * (1 + g.limits.TakeProfitPct/100.0)
	} else {
		order.StopLoss = price * (1 + g.limits.StopLossPct/100.0)
		order.TakeProfit = price * (1 - g.limits.TakeProfitPct/100.0)
	}
	return order, nil
}

// RecordClosedTrade folds a finalized trade into the session counters.
// Called exactly once per closed trade. Crossing a UTC calendar-day boundary
// (by the trade's exit timestamp) resets the daily counters first.
func (g *Gate) RecordClosedTrade(trade model.TradeRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := trade.ExitTime.UTC().Format(dayLayout)
	if g.day != "" && day != g.day {
		g.dailyPnL = 0
		g.tradesToday = 0
	}
	g.day = day

	g.dailyPnL += trade.PnL
	g.totalPnL += trade.PnL
	g.balance += trade.PnL
	g.tradesToday++

	log.Printf("[risk] recorded %s %s pnl=%.2f daily=%.2f total=%.2f balance=%.2f",
		trade.Symbol, trade.Side, trade.PnL, g.dailyPnL, g.totalPnL, g.balance)
}

// Snapshot returns the current risk counters for reporting and persistence.
func (g *Gate) Snapshot() model.RiskSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return model.RiskSnapshot{
		Balance:     g.balance,
		DailyPnL:    g.dailyPnL,
		TotalPnL:    g.totalPnL,
		TradesToday: g.tradesToday,
		Day:         g.day,
		TakenAt:     time.Now().UTC(),
	}
}

// Restore loads persisted counters, typically at startup after a crash so
// loss limits survive the restart.
func (g *Gate) Restore(snap model.RiskSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balance = snap.Balance
	g.dailyPnL = snap.DailyPnL
	g.totalPnL = snap.TotalPnL
	g.tradesToday = snap.TradesToday
	g.day = snap.Day
}
