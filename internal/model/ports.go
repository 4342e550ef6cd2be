package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the trading engine from concrete collaborators
// (exchange connectivity, storage, event publishing). Each implementation
// satisfies one or more of these interfaces.

// OrderResult is the terminal outcome of a submitted order.
type OrderResult struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"` // average fill price
	Quantity float64   `json:"quantity"`
	FilledAt time.Time `json:"filled_at"`
	Status   string    `json:"status"` // FILLED, REJECTED
}

// ExchangeGateway abstracts exchange connectivity. Every call is network-latent
// and potentially failing; retry policy is the gateway's concern, not the
// engine's.
type ExchangeGateway interface {
	// GetLatestBar returns the most recent closed bar for the symbol.
	GetLatestBar(ctx context.Context, symbol, timeframe string) (Bar, error)

	// GetAccountBalance returns the free quote-currency balance.
	GetAccountBalance(ctx context.Context) (float64, error)

	// SubmitMarketOrder places a market order and blocks until a terminal
	// status is observed.
	SubmitMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (OrderResult, error)

	// CancelOrder cancels a resting order by id.
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// TradeLedger stores completed trades durably.
type TradeLedger interface {
	// Append persists a closed trade.
	Append(ctx context.Context, trade TradeRecord) error

	// Trades returns the last N trades, newest first.
	Trades(ctx context.Context, limit int) ([]TradeRecord, error)

	// Close releases underlying resources.
	Close() error
}

// SnapshotStore persists and restores risk counters across restarts so loss
// limits are not forgotten on crash.
type SnapshotStore interface {
	// SaveRiskSnapshot persists the current risk counters.
	SaveRiskSnapshot(ctx context.Context, snap RiskSnapshot) error

	// LoadRiskSnapshot loads the most recent snapshot.
	// Returns ok=false if none exists.
	LoadRiskSnapshot(ctx context.Context) (snap RiskSnapshot, ok bool, err error)
}

// TradePublisher fans out trade events and equity samples to external
// consumers (dashboards, reporting). Best-effort; failures must not stall
// the trading path.
type TradePublisher interface {
	PublishTrade(ctx context.Context, trade TradeRecord)
	PublishEquity(ctx context.Context, point EquityPoint)
	PublishRiskSnapshot(ctx context.Context, snap RiskSnapshot)
}
