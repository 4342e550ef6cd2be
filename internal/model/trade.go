package model

import "time"

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseSignal     CloseReason = "SIGNAL"      // indicator-driven close
	CloseStopLoss   CloseReason = "STOP_LOSS"   // stop price touched
	CloseTakeProfit CloseReason = "TAKE_PROFIT" // target price touched
	CloseFlip       CloseReason = "FLIP"        // closed to open the opposite side
	CloseShutdown   CloseReason = "SHUTDOWN"    // session teardown
)

// TradeRecord is one completed round trip. Immutable after close; appended to
// the trade ledger and fed back into the risk gate exactly once.
type TradeRecord struct {
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Quantity   float64     `json:"quantity"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitTime   time.Time   `json:"exit_time"`
	PnL        float64     `json:"pnl"`     // realized, net of commission
	PnLPct     float64     `json:"pnl_pct"` // against entry notional
	Commission float64     `json:"commission"`
	Reason     CloseReason `json:"reason"`

	OpenOrderID  string `json:"open_order_id"`
	CloseOrderID string `json:"close_order_id"`

	// Aggregated decisions that triggered open and close, for audit.
	OpenDecision  AggregatedDecision `json:"open_decision"`
	CloseDecision AggregatedDecision `json:"close_decision"`
}

// EquityPoint is one sample of the account equity curve.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// RiskSnapshot is a point-in-time view of the account risk counters,
// exposed to reporting collaborators and persisted for crash recovery.
type RiskSnapshot struct {
	Balance     float64   `json:"balance"`
	DailyPnL    float64   `json:"daily_pnl"`
	TotalPnL    float64   `json:"total_pnl"`
	TradesToday int       `json:"trades_today"`
	Day         string    `json:"day"` // UTC date "2006-01-02" the daily counters belong to
	TakenAt     time.Time `json:"taken_at"`
}
