package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"signaltrader/internal/execution"
	"signaltrader/internal/model"
	"signaltrader/internal/position"
	"signaltrader/internal/ringbuf"
	"signaltrader/internal/risk"
)

type fakeControl struct {
	paused bool
}

func (f *fakeControl) Pause()       { f.paused = true }
func (f *fakeControl) Resume()      { f.paused = false }
func (f *fakeControl) Paused() bool { return f.paused }

type fakeLedger struct {
	trades []model.TradeRecord
}

func (f *fakeLedger) Append(ctx context.Context, trade model.TradeRecord) error {
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeLedger) Trades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	if limit > len(f.trades) {
		limit = len(f.trades)
	}
	return f.trades[:limit], nil
}

func (f *fakeLedger) Close() error { return nil }

const testSecret = "JBSWY3DPEHPK3PXP"

func newTestServer(t *testing.T, secret string) (*Server, *fakeControl, *fakeLedger) {
	t.Helper()
	gate := risk.NewGate(risk.DefaultLimits(), 10000)
	mgr := position.NewManager(gate, execution.NewPaperExecutor(0, 0.001), position.Callbacks{})
	control := &fakeControl{}
	ledger := &fakeLedger{trades: []model.TradeRecord{
		{Symbol: "BTCUSDT", Side: model.SideLong, PnL: 10, Reason: model.CloseSignal},
		{Symbol: "ETHUSDT", Side: model.SideShort, PnL: -3, Reason: model.CloseStopLoss},
	}}
	return NewServer("127.0.0.1:0", secret, control, gate, mgr, ledger), control, ledger
}

func doRequest(t *testing.T, s *Server, method, path, code string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if code != "" {
		req.Header.Set("X-TOTP-Code", code)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func validCode(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCode(testSecret, time.Now())
	if err != nil {
		t.Fatalf("generate totp: %v", err)
	}
	return code
}

func TestHealthIsUnauthenticated(t *testing.T) {
	s, _, _ := newTestServer(t, testSecret)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestControlEndpointsRequireTOTP(t *testing.T) {
	s, _, _ := newTestServer(t, testSecret)

	for _, path := range []string{"/api/v1/status", "/api/v1/risk", "/api/v1/trades"} {
		rec := doRequest(t, s, http.MethodGet, path, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without code: status = %d, want 401", path, rec.Code)
		}
		rec = doRequest(t, s, http.MethodGet, path, "000000")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad code: status = %d, want 401", path, rec.Code)
		}
		rec = doRequest(t, s, http.MethodGet, path, validCode(t))
		if rec.Code != http.StatusOK {
			t.Errorf("%s with valid code: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestEmptySecretDisablesAuth(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestPauseResumeFlow(t *testing.T) {
	s, control, _ := newTestServer(t, testSecret)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/pause", validCode(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	if !control.paused {
		t.Fatal("control not paused")
	}

	// GET on a control mutation is rejected.
	rec = doRequest(t, s, http.MethodGet, "/api/v1/resume", validCode(t))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET resume status = %d, want 405", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/resume", validCode(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
	if control.paused {
		t.Fatal("control still paused")
	}
}

func TestStatusReportsBalanceAndPositions(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")

	var body struct {
		Paused    bool    `json:"paused"`
		Balance   float64 `json:"balance"`
		OpenCount int     `json:"open_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Balance != 10000 {
		t.Errorf("balance = %v", body.Balance)
	}
	if body.OpenCount != 0 {
		t.Errorf("open_count = %d", body.OpenCount)
	}
}

func TestTradesLimitValidation(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/trades?limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/trades?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("limit=1 status = %d", rec.Code)
	}
	var trades []model.TradeRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &trades); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("len = %d, want 1", len(trades))
	}
}

func TestEquityEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/equity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var points []model.EquityPoint
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("len = %d, want 0 with no history attached", len(points))
	}

	ring := ringbuf.New(8)
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		ring.Push(model.EquityPoint{Time: now.Add(time.Duration(i) * time.Minute), Equity: 10000 + float64(i)})
	}
	s.SetEquityHistory(ring)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/equity?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len = %d, want 2", len(points))
	}
	if points[0].Equity != 10002 || points[1].Equity != 10003 {
		t.Fatalf("expected newest window [10002 10003], got [%v %v]", points[0].Equity, points[1].Equity)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/equity?limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for limit=0", rec.Code)
	}
}
