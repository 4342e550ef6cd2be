package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"signaltrader/internal/model"
)

// wsServer upgrades each connection and runs handler with it.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func klineJSON(symbol string, openTime int64, closePx string, closed bool) string {
	return fmt.Sprintf(`{"data":{"s":%q,"k":{"t":%d,"o":"50000","h":"50100","l":"49900","c":%q,"v":"12.5","x":%v}}}`,
		symbol, openTime, closePx, closed)
}

func TestKlineStream_URL(t *testing.T) {
	s := NewKlineStream(StreamConfig{
		WSURL:     "wss://example",
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		Timeframe: "1m",
	})
	want := "wss://example/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m"
	if got := s.streamURL(); got != want {
		t.Fatalf("streamURL = %q, want %q", got, want)
	}
}

func TestKlineStream_EmitsClosedBars(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		// A forming update followed by the close of the same candle.
		conn.WriteMessage(websocket.TextMessage, []byte(klineJSON("BTCUSDT", 1700000000000, "50010", false)))
		conn.WriteMessage(websocket.TextMessage, []byte(klineJSON("BTCUSDT", 1700000000000, "50050", true)))
		// Keep the connection up until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	s := NewKlineStream(StreamConfig{
		WSURL:     wsURL(srv),
		Symbols:   []string{"BTCUSDT"},
		Timeframe: "1m",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	barCh := make(chan model.Bar, 4)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, barCh) }()

	select {
	case bar := <-barCh:
		if bar.Symbol != "BTCUSDT" || bar.Close != 50050 {
			t.Fatalf("unexpected bar: %+v", bar)
		}
		if !bar.OpenTime.Equal(time.UnixMilli(1700000000000).UTC()) {
			t.Fatalf("unexpected open time: %v", bar.OpenTime)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for closed bar")
	}

	// Only the closed candle should have been emitted.
	select {
	case bar := <-barCh:
		t.Fatalf("unexpected extra bar: %+v", bar)
	default:
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestKlineStream_ReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int64
	srv := wsServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// First connection dies immediately.
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(klineJSON("ETHUSDT", 1700000060000, "3000", true)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	var reconnects atomic.Int64
	s := NewKlineStream(StreamConfig{
		WSURL:            wsURL(srv),
		Symbols:          []string{"ETHUSDT"},
		Timeframe:        "1m",
		MaxRetryAttempts: 5,
		RetryDelay:       10 * time.Millisecond,
	})
	s.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	barCh := make(chan model.Bar, 1)
	go s.Run(ctx, barCh)

	select {
	case bar := <-barCh:
		if bar.Symbol != "ETHUSDT" {
			t.Fatalf("unexpected bar: %+v", bar)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for bar after reconnect")
	}
	if reconnects.Load() < 1 {
		t.Fatal("expected at least one reconnect")
	}
}

func TestKlineStream_RetryBudgetExhausted(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {})
	defer srv.Close()

	s := NewKlineStream(StreamConfig{
		WSURL:            wsURL(srv),
		Symbols:          []string{"BTCUSDT"},
		Timeframe:        "1m",
		MaxRetryAttempts: 2,
		RetryDelay:       time.Millisecond,
	})

	err := s.Run(context.Background(), make(chan model.Bar, 1))
	if err == nil || !strings.Contains(err.Error(), "retry budget exhausted") {
		t.Fatalf("err = %v, want retry budget exhausted", err)
	}
}
