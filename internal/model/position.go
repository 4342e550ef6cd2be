package model

import "time"

// Side is the direction of an open position.
type Side string

const (
	SideNone  Side = "NONE"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the flipped side. NONE maps to NONE.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

// Position is the single live position for one symbol.
//
// Exactly one non-NONE Position may exist per symbol at any instant. It is
// created, mutated, and cleared only by the position lifecycle manager.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"` // base-asset quantity
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
	OrderID    string    `json:"order_id"`

	// EntryCommission is the quote-currency fee paid on the opening fill,
	// carried so the closing trade record can report net P&L.
	EntryCommission float64 `json:"entry_commission"`

	// Decision snapshot that opened the position, kept for the trade record.
	OpenDecision AggregatedDecision `json:"open_decision"`
}

// Notional returns the position's entry notional in quote currency.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// UnrealizedPnL computes the mark-to-market P&L at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	switch p.Side {
	case SideLong:
		return (price - p.EntryPrice) * p.Quantity
	case SideShort:
		return (p.EntryPrice - price) * p.Quantity
	default:
		return 0
	}
}
