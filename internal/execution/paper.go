package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signaltrader/internal/model"
	"signaltrader/internal/risk"
)

// PaperExecutor simulates order execution without broker calls: fills are
// instant at the mark price plus configurable slippage, with commission
// deducted per fill.
//
// All outputs (order ids, fill prices, timestamps) are pure functions of the
// inputs and the fill sequence, so backtest runs are byte-identical.
type PaperExecutor struct {
	mu       sync.Mutex
	fills    []Fill
	orderSeq int64

	slippageBps    float64 // e.g. 5 = 0.05% adverse fill
	commissionRate float64 // per fill, e.g. 0.001 = 0.1%
}

// NewPaperExecutor creates a paper executor with the given slippage (basis
// points) and commission rate.
func NewPaperExecutor(slippageBps, commissionRate float64) *PaperExecutor {
	return &PaperExecutor{
		fills:          make([]Fill, 0, 256),
		slippageBps:    slippageBps,
		commissionRate: commissionRate,
	}
}

// OpenPosition fills instantly at the mark price, moved against the taker by
// the configured slippage.
func (p *PaperExecutor) OpenPosition(ctx context.Context, order risk.SizedOrder, markPrice float64, markTime time.Time) (Fill, error) {
	if order.Quantity <= 0 {
		return Fill{}, &ExecutionError{Op: "open", Symbol: order.Symbol, Err: fmt.Errorf("quantity must be positive, got %.8f", order.Quantity)}
	}
	price := p.adverse(markPrice, order.Side == model.SideLong)
	return p.fill(order.Symbol, order.Side, price, order.Quantity, markTime), nil
}

// ClosePosition fills instantly at the mark price with adverse slippage for
// the closing direction.
func (p *PaperExecutor) ClosePosition(ctx context.Context, position model.Position, markPrice float64, markTime time.Time) (Fill, error) {
	if position.Side == model.SideNone {
		return Fill{}, &ExecutionError{Op: "close", Symbol: position.Symbol, Err: fmt.Errorf("no open position")}
	}
	// Closing a long sells; closing a short buys.
	price := p.adverse(markPrice, position.Side == model.SideShort)
	return p.fill(position.Symbol, position.Side, price, position.Quantity, markTime), nil
}

// Fills returns a snapshot of all simulated fills.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// adverse moves the price against the taker: buys fill higher, sells lower.
func (p *PaperExecutor) adverse(price float64, buying bool) float64 {
	if p.slippageBps <= 0 {
		return price
	}
	slip := price * p.slippageBps / 10000.0
	if buying {
		return price + slip
	}
	return price - slip
}

func (p *PaperExecutor) fill(symbol string, side model.Side, price, qty float64, ts time.Time) Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderSeq++
	f := Fill{
		OrderID:    fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Commission: price * qty * p.commissionRate,
		FilledAt:   ts,
	}
	p.fills = append(p.fills, f)
	return f
}
