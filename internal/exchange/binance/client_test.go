package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"signaltrader/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   srv.URL,
	})
	c.nowFn = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c, srv
}

func TestGetLatestBarReturnsLastClosedKline(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("interval"); got != "1m" {
			t.Errorf("interval = %s, want 1m", got)
		}
		// Second entry is the forming candle and must be skipped.
		w.Write([]byte(`[
			[1709290000000,"50000.10","50100.50","49900.25","50050.75","12.5",1709290059999,"0",0,"0","0","0"],
			[1709290060000,"50050.75","50060.00","50040.00","50055.00","1.2",1709290119999,"0",0,"0","0","0"]
		]`))
	})

	bar, err := c.GetLatestBar(context.Background(), "BTCUSDT", "1m")
	if err != nil {
		t.Fatalf("GetLatestBar: %v", err)
	}
	if bar.Close != 50050.75 {
		t.Errorf("Close = %v, want 50050.75", bar.Close)
	}
	if bar.High != 50100.50 || bar.Low != 49900.25 {
		t.Errorf("High/Low = %v/%v", bar.High, bar.Low)
	}
	if want := time.UnixMilli(1709290000000).UTC(); !bar.OpenTime.Equal(want) {
		t.Errorf("OpenTime = %v, want %v", bar.OpenTime, want)
	}
	if bar.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %s", bar.Symbol)
	}
}

func TestGetAccountBalanceSignsRequest(t *testing.T) {
	var gotQuery url.Values
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0"},
			{"asset":"USDT","free":"1234.56","locked":"10"}
		]}`))
	})

	bal, err := c.GetAccountBalance(context.Background())
	if err != nil {
		t.Fatalf("GetAccountBalance: %v", err)
	}
	if bal != 1234.56 {
		t.Errorf("balance = %v, want 1234.56", bal)
	}

	// Recompute the signature over the query minus the signature itself.
	sig := gotQuery.Get("signature")
	if sig == "" {
		t.Fatal("request not signed")
	}
	verify := url.Values{}
	for k, vs := range gotQuery {
		if k != "signature" {
			verify[k] = vs
		}
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(verify.Encode()))
	if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
		t.Errorf("signature = %s, want %s", sig, want)
	}
}

func TestSubmitMarketOrderAveragesFills(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("side"); got != "SELL" {
			t.Errorf("side = %s, want SELL", got)
		}
		w.Write([]byte(`{
			"orderId": 987654,
			"status": "FILLED",
			"executedQty": "0.030",
			"transactTime": 1709290000000,
			"fills": [
				{"price":"50000.00","qty":"0.010"},
				{"price":"50010.00","qty":"0.020"}
			]
		}`))
	})

	res, err := c.SubmitMarketOrder(context.Background(), "BTCUSDT", model.SideShort, 0.03)
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if res.OrderID != "987654" {
		t.Errorf("OrderID = %s", res.OrderID)
	}
	// (50000*0.01 + 50010*0.02) / 0.03
	want := (50000.0*0.010 + 50010.0*0.020) / 0.030
	if diff := res.Price - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("avg price = %v, want %v", res.Price, want)
	}
	if res.Quantity != 0.03 {
		t.Errorf("quantity = %v, want 0.03", res.Quantity)
	}
}

func TestSubmitMarketOrderRoundsToLotStep(t *testing.T) {
	var gotQty string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.01"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"100"}
			]}]}`))
		case "/api/v3/order":
			gotQty = r.URL.Query().Get("quantity")
			w.Write([]byte(`{"orderId":1,"status":"FILLED","transactTime":1709290000000,
				"fills":[{"price":"50000.00","qty":"0.012"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	if err := c.LoadSymbolFilters(context.Background(), []string{"BTCUSDT"}); err != nil {
		t.Fatalf("LoadSymbolFilters: %v", err)
	}
	if _, err := c.SubmitMarketOrder(context.Background(), "BTCUSDT", model.SideLong, 0.0123456); err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if gotQty != "0.012" {
		t.Errorf("quantity = %q, want 0.012 (floored to step)", gotQty)
	}
}

func TestSubmitMarketOrderRejectsBelowLotMinimum(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/exchangeInfo" {
			w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"100"}
			]}]}`))
			return
		}
		t.Errorf("order endpoint should not be reached, got %s", r.URL.Path)
	})

	if err := c.LoadSymbolFilters(context.Background(), []string{"BTCUSDT"}); err != nil {
		t.Fatalf("LoadSymbolFilters: %v", err)
	}
	if _, err := c.SubmitMarketOrder(context.Background(), "BTCUSDT", model.SideLong, 0.0004); err == nil {
		t.Fatal("expected rejection below lot minimum")
	}
}

func TestSubmitMarketOrderSurfacesNonFilledStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":2,"status":"EXPIRED","transactTime":1709290000000,"fills":[]}`))
	})

	_, err := c.SubmitMarketOrder(context.Background(), "BTCUSDT", model.SideLong, 0.01)
	if !errors.Is(err, ErrOrderNotFilled) {
		t.Fatalf("err = %v, want ErrOrderNotFilled", err)
	}
}

func TestAPIErrorPayloadIsDecoded(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`))
	})

	_, err := c.GetLatestBar(context.Background(), "BTCUSDT", "1m")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != -1013 {
		t.Errorf("code = %d, want -1013", apiErr.Code)
	}
}

func TestParseKlineEventClosedCandle(t *testing.T) {
	msg := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT",
		"k":{"t":1709290000000,"o":"50000.1","h":"50100.5","l":"49900.2","c":"50050.7","v":"12.5","x":true}}}`)

	bar, closed, err := parseKlineEvent(msg)
	if err != nil {
		t.Fatalf("parseKlineEvent: %v", err)
	}
	if !closed {
		t.Fatal("expected closed candle")
	}
	if bar.Symbol != "BTCUSDT" || bar.Close != 50050.7 {
		t.Errorf("bar = %+v", bar)
	}
}

func TestParseKlineEventFormingCandleIsSkipped(t *testing.T) {
	msg := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT",
		"k":{"t":1709290000000,"o":"50000.1","h":"50100.5","l":"49900.2","c":"50050.7","v":"12.5","x":false}}}`)

	_, closed, err := parseKlineEvent(msg)
	if err != nil {
		t.Fatalf("parseKlineEvent: %v", err)
	}
	if closed {
		t.Fatal("forming candle must not emit a bar")
	}
}
