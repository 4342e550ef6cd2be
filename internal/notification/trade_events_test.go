package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"signaltrader/internal/model"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *captureNotifier) Send(ctx context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureNotifier) wait(t *testing.T, n int) []Alert {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.alerts) >= n {
			out := make([]Alert, len(c.alerts))
			copy(out, c.alerts)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d alerts", n)
	return nil
}

func TestTradeClosedEscalatesLosses(t *testing.T) {
	capture := &captureNotifier{}
	a := NewTradeAlerter(capture)

	a.TradeClosed(model.TradeRecord{Symbol: "BTCUSDT", Side: model.SideLong, PnL: 12.5, Reason: model.CloseTakeProfit})
	a.TradeClosed(model.TradeRecord{Symbol: "BTCUSDT", Side: model.SideShort, PnL: -4.2, Reason: model.CloseStopLoss})

	alerts := capture.wait(t, 2)
	var win, loss Alert
	for _, al := range alerts {
		if strings.Contains(al.Title, "+12.50") {
			win = al
		} else {
			loss = al
		}
	}
	if win.Level != AlertInfo {
		t.Errorf("winning trade level = %s, want INFO", win.Level)
	}
	if loss.Level != AlertWarning {
		t.Errorf("losing trade level = %s, want WARNING", loss.Level)
	}
	if !strings.Contains(loss.Message, "STOP_LOSS") {
		t.Errorf("loss message missing reason: %q", loss.Message)
	}
}

func TestRiskHaltIsCritical(t *testing.T) {
	capture := &captureNotifier{}
	a := NewTradeAlerter(capture)

	a.RiskHalt(model.RiskSnapshot{Balance: 9400, DailyPnL: -310}, errors.New("daily loss limit reached"))

	alerts := capture.wait(t, 1)
	if alerts[0].Level != AlertCritical {
		t.Errorf("level = %s, want CRITICAL", alerts[0].Level)
	}
	if !strings.Contains(alerts[0].Message, "daily loss limit") {
		t.Errorf("message = %q", alerts[0].Message)
	}
}

func TestMultiAttemptsAllBackends(t *testing.T) {
	failing := notifierFunc(func(ctx context.Context, alert Alert) error {
		return errors.New("down")
	})
	capture := &captureNotifier{}

	m := Multi{failing, capture}
	err := m.Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Message: "m"})
	if err == nil {
		t.Fatal("expected first backend error to surface")
	}
	if len(capture.alerts) != 1 {
		t.Fatalf("second backend got %d alerts, want 1", len(capture.alerts))
	}
}

type notifierFunc func(ctx context.Context, alert Alert) error

func (f notifierFunc) Send(ctx context.Context, alert Alert) error { return f(ctx, alert) }

func TestRiskHaltCarriesCounters(t *testing.T) {
	capture := &captureNotifier{}
	a := NewTradeAlerter(capture)

	a.RiskHalt(model.RiskSnapshot{Balance: 9400, DailyPnL: -310, TradesToday: 7}, errors.New("daily loss limit reached"))

	alerts := capture.wait(t, 1)
	fields := alerts[0].fieldLines()
	for _, want := range []string{"balance: 9400.00", "daily_pnl: -310.00", "trades_today: 7"} {
		if !strings.Contains(fields, want) {
			t.Errorf("fields missing %q:\n%s", want, fields)
		}
	}
}
