// Package execution abstracts order placement so backtest and live trading
// share identical call contracts.
//
// Every Adapter call is fallible; the position lifecycle never assumes
// success. A failed call leaves no partial state behind.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signaltrader/internal/model"
	"signaltrader/internal/risk"
)

// ErrGatewayUnavailable marks gateway outages the real-time loop should treat
// as transient: pause the symbol and retry on its next scheduled interval.
var ErrGatewayUnavailable = errors.New("exchange gateway unavailable")

// ExecutionError wraps a failed order placement or close. The attempted
// transition is abandoned for the tick; engine state remains unchanged.
type ExecutionError struct {
	Op     string // "open" or "close"
	Symbol string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Fill is the terminal result of an executed order.
type Fill struct {
	OrderID    string     `json:"order_id"`
	Symbol     string     `json:"symbol"`
	Side       model.Side `json:"side"` // position side the fill opens or closes
	Price      float64    `json:"price"`
	Quantity   float64    `json:"quantity"`
	Commission float64    `json:"commission"` // quote currency
	FilledAt   time.Time  `json:"filled_at"`
}

// Adapter is the execution boundary consumed by both engines. The backtest
// implementation is synchronous and deterministic; the live implementation
// submits market orders to the exchange gateway and blocks until a terminal
// order status is observed.
type Adapter interface {
	// OpenPosition executes the sized opening order. markPrice is the latest
	// traded price and markTime the tick timestamp driving the transition.
	OpenPosition(ctx context.Context, order risk.SizedOrder, markPrice float64, markTime time.Time) (Fill, error)

	// ClosePosition fully closes the position at the current market.
	ClosePosition(ctx context.Context, position model.Position, markPrice float64, markTime time.Time) (Fill, error)
}
