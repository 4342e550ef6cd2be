// Package binance implements the exchange gateway against the Binance spot
// REST API and kline WebSocket streams.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signaltrader/internal/model"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	TestnetBaseURL = "https://testnet.binance.vision"
	DefaultWSURL   = "wss://stream.binance.com:9443"
	TestnetWSURL   = "wss://testnet.binance.vision"
)

// ErrOrderNotFilled is returned when an order reaches a terminal status other
// than FILLED.
var ErrOrderNotFilled = errors.New("order not filled")

// APIError is a structured error returned by the Binance REST API.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Msg)
}

// Config holds Binance client settings.
type Config struct {
	APIKey     string
	APISecret  string
	BaseURL    string // defaults to DefaultBaseURL
	QuoteAsset string // defaults to USDT
	RecvWindow int64  // milliseconds, defaults to 5000
	HTTPClient *http.Client
}

// lotFilter is the LOT_SIZE constraint for one symbol. Quantities are kept as
// decimals so step rounding never picks up float artifacts.
type lotFilter struct {
	stepSize decimal.Decimal
	minQty   decimal.Decimal
}

// Client talks to the Binance spot REST API. It satisfies
// model.ExchangeGateway.
type Client struct {
	cfg   Config
	http  *http.Client
	nowFn func() time.Time

	mu      sync.RWMutex
	filters map[string]lotFilter
}

// NewClient builds a REST client. Call LoadSymbolFilters before submitting
// orders so quantities can be rounded to the exchange lot step.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		nowFn:   time.Now,
		filters: make(map[string]lotFilter),
	}
}

// GetLatestBar returns the most recent CLOSED kline for the symbol. Binance
// reports the currently forming candle last, so the second-to-last entry is
// the latest closed one.
func (c *Client) GetLatestBar(ctx context.Context, symbol, timeframe string) (model.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", "2")

	body, err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return model.Bar{}, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.Bar{}, fmt.Errorf("parse klines: %w", err)
	}
	if len(raw) < 2 {
		return model.Bar{}, fmt.Errorf("klines for %s: need 2 entries, got %d", symbol, len(raw))
	}
	return parseKline(symbol, raw[len(raw)-2])
}

// GetKlines returns up to limit closed klines, oldest first. Used to warm up
// indicators before live trading starts.
func (c *Client) GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]model.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit+1))

	body, err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}
	if len(raw) > 0 {
		raw = raw[:len(raw)-1] // drop the forming candle
	}
	bars := make([]model.Bar, 0, len(raw))
	for _, k := range raw {
		bar, err := parseKline(symbol, k)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetAccountBalance returns the free balance of the configured quote asset.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return 0, err
	}

	var acct struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return 0, fmt.Errorf("parse account: %w", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == c.cfg.QuoteAsset {
			free, err := decimal.NewFromString(b.Free)
			if err != nil {
				return 0, fmt.Errorf("parse %s balance %q: %w", b.Asset, b.Free, err)
			}
			f, _ := free.Float64()
			return f, nil
		}
	}
	return 0, fmt.Errorf("asset %s not present in account", c.cfg.QuoteAsset)
}

// SubmitMarketOrder places a market order with the quantity rounded down to
// the symbol's lot step and returns the averaged fill.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, quantity float64) (model.OrderResult, error) {
	qty, err := c.roundToLot(symbol, quantity)
	if err != nil {
		return model.OrderResult{}, err
	}

	binanceSide := "BUY"
	if side == model.SideShort {
		binanceSide = "SELL"
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", binanceSide)
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	params.Set("newOrderRespType", "FULL")

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return model.OrderResult{}, err
	}

	var resp struct {
		OrderID      int64  `json:"orderId"`
		Status       string `json:"status"`
		ExecutedQty  string `json:"executedQty"`
		TransactTime int64  `json:"transactTime"`
		Fills        []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.OrderResult{}, fmt.Errorf("parse order response: %w", err)
	}
	if resp.Status != "FILLED" {
		return model.OrderResult{}, fmt.Errorf("%w: %s order %d status %s", ErrOrderNotFilled, symbol, resp.OrderID, resp.Status)
	}

	avgPrice, filledQty, err := averageFill(resp.Fills)
	if err != nil {
		return model.OrderResult{}, err
	}

	price, _ := avgPrice.Float64()
	qtyF, _ := filledQty.Float64()
	result := model.OrderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Symbol:   symbol,
		Price:    price,
		Quantity: qtyF,
		FilledAt: time.UnixMilli(resp.TransactTime).UTC(),
		Status:   resp.Status,
	}
	log.Printf("[binance] %s %s filled qty=%s avg=%s order=%s", binanceSide, symbol, filledQty, avgPrice, result.OrderID)
	return result, nil
}

// CancelOrder cancels a resting order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	_, err := c.do(ctx, http.MethodDelete, "/api/v3/order", params, true)
	return err
}

// LoadSymbolFilters fetches exchangeInfo for the symbols and caches each
// LOT_SIZE filter.
func (c *Client) LoadSymbolFilters(ctx context.Context, symbols []string) error {
	params := url.Values{}
	if list, err := json.Marshal(symbols); err == nil {
		params.Set("symbols", string(list))
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return err
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("parse exchangeInfo: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			step, err := decimal.NewFromString(f.StepSize)
			if err != nil {
				return fmt.Errorf("parse stepSize for %s: %w", s.Symbol, err)
			}
			minQty, err := decimal.NewFromString(f.MinQty)
			if err != nil {
				return fmt.Errorf("parse minQty for %s: %w", s.Symbol, err)
			}
			c.filters[s.Symbol] = lotFilter{stepSize: step, minQty: minQty}
			log.Printf("[binance] %s lot filter step=%s min=%s", s.Symbol, step, minQty)
		}
	}
	return nil
}

// roundToLot floors the quantity to the symbol's lot step. Without a cached
// filter the quantity passes through with 8 decimals, Binance's maximum
// precision.
func (c *Client) roundToLot(symbol string, quantity float64) (decimal.Decimal, error) {
	qty := decimal.NewFromFloat(quantity)

	c.mu.RLock()
	filter, ok := c.filters[symbol]
	c.mu.RUnlock()
	if !ok {
		return qty.Truncate(8), nil
	}

	if filter.stepSize.IsPositive() {
		qty = qty.Div(filter.stepSize).Floor().Mul(filter.stepSize)
	}
	if qty.LessThan(filter.minQty) {
		return decimal.Zero, fmt.Errorf("quantity %s below lot minimum %s for %s", qty, filter.minQty, symbol)
	}
	return qty, nil
}

// do performs one REST call, signing it when required, and unwraps API error
// payloads.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.nowFn().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		params.Set("signature", c.sign(params.Encode()))
	}

	endpoint := c.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{}
		if json.Unmarshal(body, apiErr) == nil && apiErr.Msg != "" {
			return nil, apiErr
		}
		return nil, fmt.Errorf("binance %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}

// sign computes the HMAC-SHA256 request signature over the encoded query.
func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseKline converts one raw kline array into a Bar. Binance sends prices as
// strings; they go through decimal so "50000.10" never becomes 50000.099999.
func parseKline(symbol string, k []any) (model.Bar, error) {
	if len(k) < 6 {
		return model.Bar{}, fmt.Errorf("kline for %s: %d fields", symbol, len(k))
	}
	openTime, ok := k[0].(float64)
	if !ok {
		return model.Bar{}, fmt.Errorf("kline for %s: bad open time %v", symbol, k[0])
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return model.Bar{}, fmt.Errorf("kline for %s: field %d not a string", symbol, i)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Bar{}, fmt.Errorf("kline for %s: field %d: %w", symbol, i, err)
		}
		fields[i-1], _ = d.Float64()
	}

	return model.Bar{
		Symbol:   symbol,
		OpenTime: time.UnixMilli(int64(openTime)).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

// averageFill computes the quantity-weighted average price across partial
// fills.
func averageFill(fills []struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}) (decimal.Decimal, decimal.Decimal, error) {
	if len(fills) == 0 {
		return decimal.Zero, decimal.Zero, errors.New("order response carried no fills")
	}
	var notional, qty decimal.Decimal
	for _, f := range fills {
		p, err := decimal.NewFromString(f.Price)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("parse fill price %q: %w", f.Price, err)
		}
		q, err := decimal.NewFromString(f.Qty)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("parse fill qty %q: %w", f.Qty, err)
		}
		notional = notional.Add(p.Mul(q))
		qty = qty.Add(q)
	}
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero, errors.New("order filled zero quantity")
	}
	return notional.Div(qty), qty, nil
}
