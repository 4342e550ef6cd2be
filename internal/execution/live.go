package execution

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"signaltrader/internal/model"
	"signaltrader/internal/risk"
)

// LiveExecutor places real market orders through the exchange gateway.
//
// Gateway and network failures are translated into *ExecutionError return
// values; nothing propagates as a panic across the pipeline boundary. The
// executor does not retry; the same decision may be reattempted on the next
// tick if the aggregated signal persists.
type LiveExecutor struct {
	gateway        model.ExchangeGateway
	commissionRate float64
}

// NewLiveExecutor wraps an exchange gateway.
func NewLiveExecutor(gateway model.ExchangeGateway, commissionRate float64) *LiveExecutor {
	return &LiveExecutor{gateway: gateway, commissionRate: commissionRate}
}

func (l *LiveExecutor) OpenPosition(ctx context.Context, order risk.SizedOrder, markPrice float64, markTime time.Time) (Fill, error) {
	clientID := uuid.NewString()
	log.Printf("[live] submitting open %s %s qty=%.8f client_id=%s", order.Side, order.Symbol, order.Quantity, clientID)

	// Opening a long buys, opening a short sells; the gateway maps sides to
	// order directions.
	result, err := l.gateway.SubmitMarketOrder(ctx, order.Symbol, order.Side, order.Quantity)
	if err != nil {
		return Fill{}, &ExecutionError{Op: "open", Symbol: order.Symbol, Err: err}
	}
	return l.toFill(result, order.Side, clientID), nil
}

func (l *LiveExecutor) ClosePosition(ctx context.Context, position model.Position, markPrice float64, markTime time.Time) (Fill, error) {
	if position.Side == model.SideNone {
		return Fill{}, &ExecutionError{Op: "close", Symbol: position.Symbol, Err: errors.New("no open position")}
	}

	clientID := uuid.NewString()
	log.Printf("[live] submitting close %s %s qty=%.8f client_id=%s", position.Side, position.Symbol, position.Quantity, clientID)

	// Closing order takes the opposite market side of the position.
	result, err := l.gateway.SubmitMarketOrder(ctx, position.Symbol, position.Side.Opposite(), position.Quantity)
	if err != nil {
		return Fill{}, &ExecutionError{Op: "close", Symbol: position.Symbol, Err: err}
	}
	return l.toFill(result, position.Side, clientID), nil
}

func (l *LiveExecutor) toFill(result model.OrderResult, side model.Side, clientID string) Fill {
	orderID := result.OrderID
	if orderID == "" {
		orderID = clientID
	}
	filledAt := result.FilledAt
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}
	return Fill{
		OrderID:    orderID,
		Symbol:     result.Symbol,
		Side:       side,
		Price:      result.Price,
		Quantity:   result.Quantity,
		Commission: result.Price * result.Quantity * l.commissionRate,
		FilledAt:   filledAt,
	}
}
