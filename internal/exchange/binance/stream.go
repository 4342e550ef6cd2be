package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"signaltrader/internal/model"
)

// StreamConfig holds kline stream settings.
type StreamConfig struct {
	WSURL     string // defaults to DefaultWSURL
	Symbols   []string
	Timeframe string

	// Reconnect backoff
	MaxRetryAttempts int           // defaults to 10
	RetryDelay       time.Duration // initial, defaults to 2s
	RetryMultiplier  int           // defaults to 2
	MaxRetryDelay    time.Duration // defaults to 1m
}

// KlineStream consumes the combined kline stream for a set of symbols and
// emits a Bar whenever a candle closes. Reconnects with exponential backoff
// on read failures.
type KlineStream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer

	// OnReconnect is called before each reconnect attempt (metrics hook).
	OnReconnect func()
}

// NewKlineStream creates a stream for the symbols and timeframe.
func NewKlineStream(cfg StreamConfig) *KlineStream {
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = 2
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = time.Minute
	}
	return &KlineStream{cfg: cfg, dialer: websocket.DefaultDialer}
}

// streamURL builds the combined-stream endpoint:
// /stream?streams=btcusdt@kline_1m/ethusdt@kline_1m
func (s *KlineStream) streamURL() string {
	streams := make([]string, 0, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), s.cfg.Timeframe))
	}
	return s.cfg.WSURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and pushes closed-candle bars into barCh until ctx is
// cancelled or the retry budget is exhausted. Bars are dropped, not queued,
// when barCh is full; the REST poll path recovers any missed candle.
func (s *KlineStream) Run(ctx context.Context, barCh chan<- model.Bar) error {
	delay := s.cfg.RetryDelay
	attempts := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.readOnce(ctx, barCh)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if attempts > s.cfg.MaxRetryAttempts {
			return fmt.Errorf("kline stream: retry budget exhausted: %w", err)
		}
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		log.Printf("[binance-ws] stream dropped (%v), reconnecting in %s (attempt %d/%d)",
			err, delay, attempts, s.cfg.MaxRetryAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= time.Duration(s.cfg.RetryMultiplier)
		if delay > s.cfg.MaxRetryDelay {
			delay = s.cfg.MaxRetryDelay
		}
	}
}

// readOnce dials, then reads until the connection breaks or ctx is cancelled.
func (s *KlineStream) readOnce(ctx context.Context, barCh chan<- model.Bar) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: status %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Printf("[binance-ws] connected: %d symbols, kline_%s", len(s.cfg.Symbols), s.cfg.Timeframe)

	// Binance pings every few minutes; answer to keep the session alive.
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	// Unblock ReadMessage on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		bar, closed, err := parseKlineEvent(msg)
		if err != nil {
			log.Printf("[binance-ws] parse error: %v", err)
			continue
		}
		if !closed {
			continue
		}
		select {
		case barCh <- bar:
		default:
			log.Printf("[binance-ws] bar channel full, dropping %s %s", bar.Symbol, bar.OpenTime)
		}
	}
}

// klineEvent is the combined-stream kline payload.
type klineEvent struct {
	Data struct {
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime int64  `json:"t"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// parseKlineEvent decodes one stream message. closed=false for a still-
// forming candle update.
func parseKlineEvent(msg []byte) (model.Bar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return model.Bar{}, false, fmt.Errorf("decode kline event: %w", err)
	}
	k := ev.Data.Kline
	if ev.Data.Symbol == "" {
		return model.Bar{}, false, fmt.Errorf("kline event missing symbol")
	}
	if !k.Closed {
		return model.Bar{}, false, nil
	}

	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var parsed [5]float64
	for i, s := range fields {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Bar{}, false, fmt.Errorf("kline %s field %d: %w", ev.Data.Symbol, i, err)
		}
		parsed[i], _ = d.Float64()
	}

	return model.Bar{
		Symbol:   ev.Data.Symbol,
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     parsed[0],
		High:     parsed[1],
		Low:      parsed[2],
		Close:    parsed[3],
		Volume:   parsed[4],
	}, true, nil
}
