package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"signaltrader/internal/model"
)

// TradeAlerter formats position lifecycle events into alerts and delivers
// them without blocking the trading path: each Send runs on its own goroutine
// with a bounded timeout.
type TradeAlerter struct {
	notifier Notifier
	timeout  time.Duration
}

// NewTradeAlerter wraps a notifier for trade events.
func NewTradeAlerter(n Notifier) *TradeAlerter {
	return &TradeAlerter{notifier: n, timeout: 10 * time.Second}
}

// PositionOpened reports a new position.
func (a *TradeAlerter) PositionOpened(pos model.Position) {
	a.dispatch(Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("Opened %s %s", pos.Side, pos.Symbol),
		Message: fmt.Sprintf("Entry %.4f, qty %.8f (order %s)", pos.EntryPrice, pos.Quantity, pos.OrderID),
		Fields: []Field{
			{"stop_loss", fmt.Sprintf("%.4f", pos.StopLoss)},
			{"take_profit", fmt.Sprintf("%.4f", pos.TakeProfit)},
			{"opened_at", pos.OpenedAt.UTC().Format(time.RFC3339)},
		},
	})
}

// TradeClosed reports a completed trade. Losing trades escalate to warning.
func (a *TradeAlerter) TradeClosed(trade model.TradeRecord) {
	level := AlertInfo
	if trade.PnL < 0 {
		level = AlertWarning
	}
	a.dispatch(Alert{
		Level:   level,
		Title:   fmt.Sprintf("Closed %s %s: %+.2f USD", trade.Side, trade.Symbol, trade.PnL),
		Message: fmt.Sprintf("Entry %.4f -> exit %.4f (%+.2f%%), reason %s, fees %.4f", trade.EntryPrice, trade.ExitPrice, trade.PnLPct, trade.Reason, trade.Commission),
		Fields: []Field{
			{"reason", string(trade.Reason)},
			{"pnl_pct", fmt.Sprintf("%+.2f%%", trade.PnLPct)},
			{"quantity", fmt.Sprintf("%.8f", trade.Quantity)},
			{"held", trade.ExitTime.Sub(trade.EntryTime).Round(time.Second).String()},
		},
	})
}

// SignalRejected reports a risk gate rejection.
func (a *TradeAlerter) SignalRejected(decision model.AggregatedDecision, reason error) {
	a.dispatch(Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("Rejected %s %s", decision.Action, decision.Symbol),
		Message: fmt.Sprintf("Risk gate: %v (agreement %d)", reason, decision.Agreement),
	})
}

// RiskHalt reports that a loss limit stopped trading.
func (a *TradeAlerter) RiskHalt(snap model.RiskSnapshot, reason error) {
	a.dispatch(Alert{
		Level:   AlertCritical,
		Title:   "Trading halted by risk limit",
		Message: reason.Error(),
		Fields: []Field{
			{"balance", fmt.Sprintf("%.2f", snap.Balance)},
			{"daily_pnl", fmt.Sprintf("%.2f", snap.DailyPnL)},
			{"total_pnl", fmt.Sprintf("%.2f", snap.TotalPnL)},
			{"trades_today", fmt.Sprintf("%d", snap.TradesToday)},
		},
	})
}

func (a *TradeAlerter) dispatch(alert Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.notifier.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed for %q: %v", alert.Title, err)
		}
	}()
}
