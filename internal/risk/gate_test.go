package risk

import (
	"errors"
	"testing"
	"time"

	"signaltrader/internal/model"
)

func openDecision(action model.SignalType, ts time.Time) model.AggregatedDecision {
	return model.AggregatedDecision{
		Symbol:    "BTCUSDT",
		BarTime:   ts,
		Action:    action,
		Agreement: 2,
	}
}

func testLimits() Limits {
	l := DefaultLimits()
	l.MaxPositionSizeUSD = 0 // uncapped, percentage sizing only
	return l
}

func TestEvaluate_SizingClamp(t *testing.T) {
	gate := NewGate(testLimits(), 1000)
	ts := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)

	order, err := gate.Evaluate(openDecision(model.SignalLong, ts), 50000, 0)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	// 3% of 1000 = 30 quote units, never more.
	if order.Notional != 30 {
		t.Errorf("expected notional=30, got %.4f", order.Notional)
	}
	if got := order.Quantity * order.Price; got < 29.999 || got > 30.001 {
		t.Errorf("quantity*price should equal notional, got %.4f", got)
	}
}

func TestEvaluate_AbsoluteCap(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPositionSizeUSD = 50
	gate := NewGate(limits, 10000) // 3% would be 300

	order, err := gate.Evaluate(openDecision(model.SignalLong, time.Now().UTC()), 50000, 0)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if order.Notional != 50 {
		t.Errorf("expected notional clamped to 50, got %.4f", order.Notional)
	}
}

func TestEvaluate_PositionTooSmall(t *testing.T) {
	gate := NewGate(testLimits(), 100) // 3% of 100 = 3 < 5 minimum

	_, err := gate.Evaluate(openDecision(model.SignalLong, time.Now().UTC()), 50000, 0)
	if !errors.Is(err, ErrPositionTooSmall) {
		t.Errorf("expected ErrPositionTooSmall, got %v", err)
	}
}

func TestEvaluate_StopAndTargetPrices(t *testing.T) {
	gate := NewGate(testLimits(), 1000)

	long, err := gate.Evaluate(openDecision(model.SignalLong, time.Now().UTC()), 50000, 0)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if long.StopLoss != 49000 {
		t.Errorf("long stop: expected 49000, got %.2f", long.StopLoss)
	}
	if long.TakeProfit != 52000 {
		t.Errorf("long target: expected 52000, got %.2f", long.TakeProfit)
	}

	short, err := gate.Evaluate(openDecision(model.SignalShort, time.Now().UTC()), 50000, 0)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if short.StopLoss != 51000 {
		t.Errorf("short stop: expected 51000, got %.2f", short.StopLoss)
	}
	if short.TakeProfit != 48000 {
		t.Errorf("short target: expected 48000, got %.2f", short.TakeProfit)
	}
}

func TestEvaluate_DailyLossHaltAndNextDayReset(t *testing.T) {
	gate := NewGate(testLimits(), 1000)
	day1 := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)

	// Lose exactly 3% of balance today. Counters move, so balance drops too.
	gate.RecordClosedTrade(model.TradeRecord{
		Symbol: "BTCUSDT", Side: model.SideLong,
		PnL: -30, ExitTime: day1,
	})

	_, err := gate.Evaluate(openDecision(model.SignalLong, day1.Add(time.Minute)), 50000, 0)
	if !errors.Is(err, ErrDailyLossLimit) {
		t.Fatalf("expected ErrDailyLossLimit at exactly the limit, got %v", err)
	}

	// Same decision the next calendar day is approved again.
	day2 := day1.Add(24 * time.Hour)
	if _, err := gate.Evaluate(openDecision(model.SignalLong, day2), 50000, 0); err != nil {
		t.Errorf("expected approval after day rollover, got %v", err)
	}
}

func TestEvaluate_TotalLossHalt(t *testing.T) {
	gate := NewGate(testLimits(), 1000)
	ts := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)

	// Spread losses across days so only the total limit trips.
	gate.RecordClosedTrade(model.TradeRecord{PnL: -80, ExitTime: ts})
	gate.RecordClosedTrade(model.TradeRecord{PnL: -80, ExitTime: ts.Add(24 * time.Hour)})

	_, err := gate.Evaluate(openDecision(model.SignalLong, ts.Add(48*time.Hour)), 50000, 0)
	if !errors.Is(err, ErrTotalLossLimit) {
		t.Errorf("expected ErrTotalLossLimit, got %v", err)
	}
}

func TestEvaluate_MaxOpenPositions(t *testing.T) {
	gate := NewGate(testLimits(), 1000)

	if _, err := gate.Evaluate(openDecision(model.SignalLong, time.Now().UTC()), 50000, 1); err != nil {
		t.Fatalf("one other open position should be allowed, got %v", err)
	}
	_, err := gate.Evaluate(openDecision(model.SignalLong, time.Now().UTC()), 50000, 2)
	if !errors.Is(err, ErrMaxOpenPositions) {
		t.Errorf("expected ErrMaxOpenPositions, got %v", err)
	}
}

func TestRecordClosedTrade_DayRollover(t *testing.T) {
	gate := NewGate(testLimits(), 1000)
	day1 := time.Date(2023, 11, 14, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2023, 11, 15, 1, 0, 0, 0, time.UTC)

	gate.RecordClosedTrade(model.TradeRecord{PnL: -20, ExitTime: day1})
	gate.RecordClosedTrade(model.TradeRecord{PnL: 5, ExitTime: day2})

	snap := gate.Snapshot()
	if snap.DailyPnL != 5 {
		t.Errorf("daily pnl should reset at day boundary: expected 5, got %.2f", snap.DailyPnL)
	}
	if snap.TotalPnL != -15 {
		t.Errorf("total pnl should accumulate: expected -15, got %.2f", snap.TotalPnL)
	}
	if snap.TradesToday != 1 {
		t.Errorf("expected trades_today=1 after rollover, got %d", snap.TradesToday)
	}
	if snap.Balance != 985 {
		t.Errorf("expected balance=985, got %.2f", snap.Balance)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	gate := NewGate(testLimits(), 1000)
	ts := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
	gate.RecordClosedTrade(model.TradeRecord{PnL: -12.5, ExitTime: ts})

	snap := gate.Snapshot()

	restored := NewGate(testLimits(), 0)
	restored.Restore(snap)
	got := restored.Snapshot()

	if got.Balance != snap.Balance || got.DailyPnL != snap.DailyPnL ||
		got.TotalPnL != snap.TotalPnL || got.TradesToday != snap.TradesToday || got.Day != snap.Day {
		t.Errorf("snapshot did not round-trip: %+v vs %+v", got, snap)
	}
}
