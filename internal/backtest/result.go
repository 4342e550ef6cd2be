package backtest

import (
	"fmt"
	"strings"

	"signaltrader/internal/model"
)

// Result holds everything a backtest run produced.
type Result struct {
	InitialBalance float64             `json:"initial_balance"`
	FinalBalance   float64             `json:"final_balance"`
	Trades         []model.TradeRecord `json:"trades"`
	Equity         []model.EquityPoint `json:"equity"`

	// Derived metrics, filled by computeMetrics.
	NetPnL         float64 `json:"net_pnl"`
	ReturnPct      float64 `json:"return_pct"`
	WinRate        float64 `json:"win_rate"` // 0-100
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	TotalFees      float64 `json:"total_fees"`
}

func (r *Result) computeMetrics() {
	r.NetPnL = r.FinalBalance - r.InitialBalance
	if r.InitialBalance > 0 {
		r.ReturnPct = r.NetPnL / r.InitialBalance * 100
	}

	for _, tr := range r.Trades {
		if tr.PnL > 0 {
			r.Wins++
		} else {
			r.Losses++
		}
		r.TotalFees += tr.Commission
	}
	if n := len(r.Trades); n > 0 {
		r.WinRate = float64(r.Wins) / float64(n) * 100
	}

	// Max drawdown against the running equity peak.
	peak := r.InitialBalance
	for _, pt := range r.Equity {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			if dd := (peak - pt.Equity) / peak * 100; dd > r.MaxDrawdownPct {
				r.MaxDrawdownPct = dd
			}
		}
	}
}

// Summary renders a human-readable report of the run.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "trades=%d wins=%d losses=%d win_rate=%.1f%%\n", len(r.Trades), r.Wins, r.Losses, r.WinRate)
	fmt.Fprintf(&b, "balance %.2f -> %.2f (net %+.2f, %+.2f%%)\n", r.InitialBalance, r.FinalBalance, r.NetPnL, r.ReturnPct)
	fmt.Fprintf(&b, "max drawdown %.2f%%, fees %.4f", r.MaxDrawdownPct, r.TotalFees)
	return b.String()
}
