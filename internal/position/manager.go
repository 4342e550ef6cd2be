// Package position owns the per-symbol position lifecycle: the single-open-
// position invariant, open/close/flip transitions, and stop-loss/take-profit
// exits.
//
// All transitions for one symbol are driven sequentially by that symbol's
// tick source (the backtest clock or the symbol's polling loop). The account
// lock serializes only the cross-symbol read-then-decide-then-write sequences:
// risk evaluation, the open-positions cap, and trade recording. Execution
// adapter calls are never made while the lock is held; an in-flight open is
// reserved in a pending set so a concurrent symbol cannot slip past the cap.
package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"signaltrader/internal/execution"
	"signaltrader/internal/model"
	"signaltrader/internal/risk"
)

// ErrInvariant marks unrecoverable state corruption (e.g. a second live
// position detected for a symbol). The affected symbol's loop must halt.
var ErrInvariant = errors.New("position invariant violated")

// Callbacks fan out lifecycle events to collaborators (notifier, ledger,
// publishers). Invoked outside the account lock; nil callbacks are skipped.
type Callbacks struct {
	OnOpen   func(pos model.Position)
	OnClose  func(trade model.TradeRecord)
	OnReject func(decision model.AggregatedDecision, reason error)
}

// Manager applies aggregated decisions to per-symbol positions through the
// risk gate and execution adapter.
type Manager struct {
	mu      sync.Mutex
	gate    *risk.Gate
	exec    execution.Adapter
	books   map[string]model.Position // open positions only
	pending map[string]struct{}       // symbols with an in-flight open
	last    map[string]float64        // last seen close per symbol
	cb      Callbacks
}

// NewManager creates a Manager over the given gate and execution adapter.
func NewManager(gate *risk.Gate, exec execution.Adapter, cb Callbacks) *Manager {
	return &Manager{
		gate:    gate,
		exec:    exec,
		books:   make(map[string]model.Position),
		pending: make(map[string]struct{}),
		last:    make(map[string]float64),
		cb:      cb,
	}
}

// Position returns the live position for the symbol, if any.
func (m *Manager) Position(symbol string) (model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.books[symbol]
	return pos, ok
}

// OpenPositions returns all live positions in deterministic symbol order.
func (m *Manager) OpenPositions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Position, 0, len(m.books))
	for _, pos := range m.books {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// UnrealizedPnL marks all open positions against the last seen prices.
func (m *Manager) UnrealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for sym, pos := range m.books {
		if price, ok := m.last[sym]; ok {
			total += pos.UnrealizedPnL(price)
		}
	}
	return total
}

// OnBar runs one tick of the lifecycle for the decision's symbol: first the
// stop-loss/take-profit touch check against the bar (which overrides any
// indicator decision), then the transition table. Returns the trades closed
// during this tick.
func (m *Manager) OnBar(ctx context.Context, bar model.Bar, decision model.AggregatedDecision) ([]model.TradeRecord, error) {
	symbol := bar.Symbol

	m.mu.Lock()
	m.last[symbol] = bar.Close
	pos, open := m.books[symbol]

	// Protective exits win over indicator decisions for the tick.
	if open {
		if price, reason, hit := exitTouch(pos, bar); hit {
			trade, err := m.closeLocked(ctx, pos, price, bar.OpenTime, reason, decision)
			if err != nil {
				return nil, err
			}
			return []model.TradeRecord{trade}, nil
		}
	}

	switch decision.Action {
	case model.SignalNeutral:
		m.mu.Unlock()
		return nil, nil

	case model.SignalCloseLong, model.SignalCloseShort:
		want := model.SideLong
		if decision.Action == model.SignalCloseShort {
			want = model.SideShort
		}
		if !open || pos.Side != want {
			// Close for a side we do not hold: no-op.
			m.mu.Unlock()
			return nil, nil
		}
		trade, err := m.closeLocked(ctx, pos, bar.Close, bar.OpenTime, model.CloseSignal, decision)
		if err != nil {
			return nil, err
		}
		return []model.TradeRecord{trade}, nil

	case model.SignalLong, model.SignalShort:
		target := model.SideLong
		if decision.Action == model.SignalShort {
			target = model.SideShort
		}
		if open && pos.Side == target {
			// Repeated signal for the side already held: zero orders.
			m.mu.Unlock()
			return nil, nil
		}
		if open {
			// Flip: close fully settles before the open is attempted, as two
			// separate orders.
			trade, err := m.closeLocked(ctx, pos, bar.Close, bar.OpenTime, model.CloseFlip, decision)
			if err != nil {
				return nil, err
			}
			m.mu.Lock()
			if err := m.openLocked(ctx, bar, decision); err != nil {
				return []model.TradeRecord{trade}, err
			}
			return []model.TradeRecord{trade}, nil
		}
		if err := m.openLocked(ctx, bar, decision); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown decision action %q", decision.Action)
	}
}

// CloseAll closes every open position at its last seen price, in symbol
// order. Used at session teardown.
func (m *Manager) CloseAll(ctx context.Context, ts time.Time) []model.TradeRecord {
	var trades []model.TradeRecord
	for _, pos := range m.OpenPositions() {
		m.mu.Lock()
		current, ok := m.books[pos.Symbol]
		if !ok {
			m.mu.Unlock()
			continue
		}
		price := m.last[pos.Symbol]
		if price <= 0 {
			price = current.EntryPrice
		}
		trade, err := m.closeLocked(ctx, current, price, ts, model.CloseShutdown, model.AggregatedDecision{Symbol: pos.Symbol, BarTime: ts})
		if err != nil {
			log.Printf("[position] shutdown close %s failed: %v", pos.Symbol, err)
			continue
		}
		trades = append(trades, trade)
	}
	return trades
}

// openLocked evaluates, reserves, and executes an opening order. Called with
// the lock held; returns with the lock released. Rejections are surfaced via
// OnReject and a nil error; execution failures return the error with state
// unchanged.
func (m *Manager) openLocked(ctx context.Context, bar model.Bar, decision model.AggregatedDecision) error {
	symbol := bar.Symbol
	if _, inFlight := m.pending[symbol]; inFlight {
		m.mu.Unlock()
		return fmt.Errorf("%w: open already in flight for %s", ErrInvariant, symbol)
	}

	// Cap check counts live books and reserved opens for other symbols.
	openCount := 0
	for sym := range m.books {
		if sym != symbol {
			openCount++
		}
	}
	for sym := range m.pending {
		if sym != symbol {
			openCount++
		}
	}

	order, err := m.gate.Evaluate(decision, bar.Close, openCount)
	if err != nil {
		m.mu.Unlock()
		log.Printf("[position] %s open rejected: %v", symbol, err)
		if m.cb.OnReject != nil {
			m.cb.OnReject(decision, err)
		}
		return nil
	}
	m.pending[symbol] = struct{}{}
	m.mu.Unlock()

	fill, err := m.exec.OpenPosition(ctx, order, bar.Close, bar.OpenTime)

	m.mu.Lock()
	delete(m.pending, symbol)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if _, exists := m.books[symbol]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: fill for %s arrived with a live position", ErrInvariant, symbol)
	}
	pos := model.Position{
		Symbol:          symbol,
		Side:            order.Side,
		EntryPrice:      fill.Price,
		Quantity:        fill.Quantity,
		StopLoss:        order.StopLoss,
		TakeProfit:      order.TakeProfit,
		OpenedAt:        fill.FilledAt,
		OrderID:         fill.OrderID,
		EntryCommission: fill.Commission,
		OpenDecision:    decision,
	}
	m.books[symbol] = pos
	m.mu.Unlock()

	log.Printf("[position] opened %s %s qty=%.8f entry=%.4f sl=%.4f tp=%.4f order=%s",
		pos.Side, symbol, pos.Quantity, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.OrderID)
	if m.cb.OnOpen != nil {
		m.cb.OnOpen(pos)
	}
	return nil
}

// closeLocked executes a full close for the position. Called with the lock
// held; returns with the lock released. On execution failure the position is
// left exactly as it was.
func (m *Manager) closeLocked(ctx context.Context, pos model.Position, price float64, ts time.Time, reason model.CloseReason, decision model.AggregatedDecision) (model.TradeRecord, error) {
	m.mu.Unlock()

	fill, err := m.exec.ClosePosition(ctx, pos, price, ts)
	if err != nil {
		return model.TradeRecord{}, err
	}

	m.mu.Lock()
	delete(m.books, pos.Symbol)
	m.mu.Unlock()

	trade := buildTrade(pos, fill, reason, decision)
	m.gate.RecordClosedTrade(trade)

	log.Printf("[position] closed %s %s exit=%.4f pnl=%.4f (%.2f%%) reason=%s order=%s",
		pos.Side, pos.Symbol, trade.ExitPrice, trade.PnL, trade.PnLPct, reason, trade.CloseOrderID)
	if m.cb.OnClose != nil {
		m.cb.OnClose(trade)
	}
	return trade, nil
}

func buildTrade(pos model.Position, fill execution.Fill, reason model.CloseReason, decision model.AggregatedDecision) model.TradeRecord {
	gross := pos.UnrealizedPnL(fill.Price)
	commission := pos.EntryCommission + fill.Commission
	pnl := gross - commission

	pct := 0.0
	if notional := pos.Notional(); notional > 0 {
		pct = pnl / notional * 100.0
	}

	return model.TradeRecord{
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     fill.Price,
		Quantity:      pos.Quantity,
		EntryTime:     pos.OpenedAt,
		ExitTime:      fill.FilledAt,
		PnL:           pnl,
		PnLPct:        pct,
		Commission:    commission,
		Reason:        reason,
		OpenOrderID:   pos.OrderID,
		CloseOrderID:  fill.OrderID,
		OpenDecision:  pos.OpenDecision,
		CloseDecision: decision,
	}
}

// exitTouch reports whether the bar touched the position's protective prices.
// The stop is checked before the target when a single bar spans both.
func exitTouch(pos model.Position, bar model.Bar) (price float64, reason model.CloseReason, hit bool) {
	switch pos.Side {
	case model.SideLong:
		if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
			return pos.StopLoss, model.CloseStopLoss, true
		}
		if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
			return pos.TakeProfit, model.CloseTakeProfit, true
		}
	case model.SideShort:
		if pos.StopLoss > 0 && bar.High >= pos.StopLoss {
			return pos.StopLoss, model.CloseStopLoss, true
		}
		if pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit {
			return pos.TakeProfit, model.CloseTakeProfit, true
		}
	}
	return 0, "", false
}
