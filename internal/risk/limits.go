// Package risk validates proposed trades against account-level limits and
// tracks realized P&L across the trading session.
//
// The Gate never throws for expected rejections: limit violations are sentinel
// errors the position lifecycle inspects and drops for the tick. Counters are
// mutated only when a closed trade is recorded.
package risk

// Limits defines configurable risk management thresholds.
//
// Position sizing uses the CLAMP policy: the gate always sizes an order at
// min(MaxPositionSizePct of balance, MaxPositionSizeUSD) rather than rejecting
// oversized requests; only orders falling below MinNotionalUSD are rejected.
type Limits struct {
	MaxPositionSizePct float64 `json:"max_position_size_pct"` // % of balance per position
	MaxPositionSizeUSD float64 `json:"max_position_size_usd"` // absolute cap in quote currency
	MinNotionalUSD     float64 `json:"min_notional_usd"`      // exchange minimum notional
	MaxDailyLossPct    float64 `json:"max_daily_loss_pct"`    // halt opening after this daily loss
	MaxTotalLossPct    float64 `json:"max_total_loss_pct"`    // halt opening after this session loss
	MaxOpenPositions   int     `json:"max_open_positions"`    // concurrent symbols with positions
	StopLossPct        float64 `json:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	CommissionRate     float64 `json:"commission_rate"` // per fill, e.g. 0.001 = 0.1%
	Leverage           float64 `json:"leverage"`        // flat notional multiplier
}

// DefaultLimits returns conservative default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizePct: 3.0,
		MaxPositionSizeUSD: 50.0,
		MinNotionalUSD:     5.0,
		MaxDailyLossPct:    3.0,
		MaxTotalLossPct:    15.0,
		MaxOpenPositions:   2,
		StopLossPct:        2.0,
		TakeProfitPct:      4.0,
		CommissionRate:     0.001,
		Leverage:           1.0,
	}
}
