// Package api exposes the TOTP-protected control surface: status, risk
// counters, trade history, and pause/resume.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pquerna/otp/totp"

	"signaltrader/internal/model"
	"signaltrader/internal/position"
	"signaltrader/internal/ringbuf"
	"signaltrader/internal/risk"
)

// TradingControl is the subset of the trader the API drives.
type TradingControl interface {
	Pause()
	Resume()
	Paused() bool
}

// Server is the control API.
type Server struct {
	addr       string
	totpSecret string // empty disables auth (paper/dev)
	control    TradingControl
	gate       *risk.Gate
	manager    *position.Manager
	ledger     model.TradeLedger
	equity     *ringbuf.Ring // optional
	srv        *http.Server
}

// NewServer wires the control API over the live trading components.
func NewServer(addr, totpSecret string, control TradingControl, gate *risk.Gate, manager *position.Manager, ledger model.TradeLedger) *Server {
	s := &Server{
		addr:       addr,
		totpSecret: totpSecret,
		control:    control,
		gate:       gate,
		manager:    manager,
		ledger:     ledger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.auth(s.handleStatus))
	mux.HandleFunc("/api/v1/risk", s.auth(s.handleRisk))
	mux.HandleFunc("/api/v1/trades", s.auth(s.handleTrades))
	mux.HandleFunc("/api/v1/equity", s.auth(s.handleEquity))
	mux.HandleFunc("/api/v1/pause", s.auth(s.handlePause))
	mux.HandleFunc("/api/v1/resume", s.auth(s.handleResume))

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// SetEquityHistory attaches an equity curve ring served by /api/v1/equity.
// Call before Start.
func (s *Server) SetEquityHistory(r *ringbuf.Ring) {
	s.equity = r
}

// Start launches the API server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] control server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler (tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// auth validates the X-TOTP-Code header against the shared secret. Control
// endpoints stay usable without a secret in paper sessions.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.totpSecret != "" {
			code := r.Header.Get("X-TOTP-Code")
			if code == "" || !totp.Validate(code, s.totpSecret) {
				writeError(w, http.StatusUnauthorized, "invalid or missing TOTP code")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	positions := s.manager.OpenPositions()
	writeJSON(w, map[string]any{
		"paused":         s.control.Paused(),
		"balance":        s.gate.Balance(),
		"unrealized_pnl": s.manager.UnrealizedPnL(),
		"open_positions": positions,
		"open_count":     len(positions),
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.gate.Snapshot())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be in [1, 1000]")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	trades, err := s.ledger.Trades(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, trades)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	limit := 0 // full window
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	points := []model.EquityPoint{}
	if s.equity != nil {
		points = s.equity.Recent(limit)
	}
	writeJSON(w, points)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.control.Pause()
	writeJSON(w, map[string]any{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.control.Resume()
	writeJSON(w, map[string]any{"paused": false})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
