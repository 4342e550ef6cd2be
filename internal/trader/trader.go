// Package trader runs the real-time trading loop: one polling goroutine per
// symbol feeding the shared signal -> risk -> position pipeline.
package trader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"signaltrader/internal/indicator"
	"signaltrader/internal/metrics"
	"signaltrader/internal/model"
	"signaltrader/internal/position"
	"signaltrader/internal/risk"
	"signaltrader/internal/signal"
)

// Config holds the trader loop parameters.
type Config struct {
	Symbols      []string
	Timeframe    string
	PollInterval time.Duration
	MinAgreement int

	// SyncBalance refreshes the gate balance from the gateway at startup
	// (live trading). Paper sessions keep the configured initial capital.
	SyncBalance bool

	// Bars is an optional push source of closed bars (websocket stream).
	// When set, pushed bars are processed as they arrive and the REST poll
	// acts as a fallback for gaps. Nil means REST polling only.
	Bars <-chan model.Bar
}

// Trader polls the exchange per symbol and drives the position manager.
// Symbols share one Gate and one Manager, so loss limits and the open-
// positions cap apply account-wide.
type Trader struct {
	cfg     Config
	gateway model.ExchangeGateway
	gate    *risk.Gate
	manager *position.Manager
	factory indicator.Factory
	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	paused atomic.Bool

	// barCh fans the pushed bar source out per symbol, latest bar wins.
	barCh map[string]chan model.Bar

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a Trader. metrics and health may be nil.
func New(cfg Config, gateway model.ExchangeGateway, gate *risk.Gate, manager *position.Manager, factory indicator.Factory, m *metrics.Metrics, health *metrics.HealthStatus) *Trader {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Trader{
		cfg:     cfg,
		gateway: gateway,
		gate:    gate,
		manager: manager,
		factory: factory,
		metrics: m,
		health:  health,
	}
}

// Pause suppresses new position opens. Exits (stop-loss, take-profit, close
// signals) keep running so open risk is still managed.
func (t *Trader) Pause() {
	t.paused.Store(true)
	if t.health != nil {
		t.health.SetTradingPaused(true)
	}
	log.Printf("[trader] paused: opens suppressed, exits still active")
}

// Resume re-enables position opens.
func (t *Trader) Resume() {
	t.paused.Store(false)
	if t.health != nil {
		t.health.SetTradingPaused(false)
	}
	log.Printf("[trader] resumed")
}

// Paused reports whether opens are currently suppressed.
func (t *Trader) Paused() bool {
	return t.paused.Load()
}

// Start launches one polling loop per configured symbol. Returns immediately.
func (t *Trader) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	if n := len(t.factory()); t.cfg.MinAgreement < 1 || t.cfg.MinAgreement > n {
		return fmt.Errorf("min agreement %d unsatisfiable with %d indicators: %w",
			t.cfg.MinAgreement, n, signal.ErrInvalidConfig)
	}

	if t.cfg.SyncBalance {
		balCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		bal, err := t.gateway.GetAccountBalance(balCtx)
		cancel()
		if err != nil {
			return err
		}
		t.gate.SetBalance(bal)
		log.Printf("[trader] balance synced from exchange: %.2f", bal)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.started = true

	if t.cfg.Bars != nil {
		t.barCh = make(map[string]chan model.Bar, len(t.cfg.Symbols))
		for _, sym := range t.cfg.Symbols {
			t.barCh[sym] = make(chan model.Bar, 1)
		}
		t.wg.Add(1)
		go t.dispatchBars(loopCtx)
	}

	for _, sym := range t.cfg.Symbols {
		t.wg.Add(1)
		go t.runSymbol(loopCtx, sym)
	}
	log.Printf("[trader] started: %d symbols, interval=%s, timeframe=%s",
		len(t.cfg.Symbols), t.cfg.PollInterval, t.cfg.Timeframe)
	return nil
}

// Stop cancels the polling loops and waits for every in-flight tick to reach
// a terminal state. A tick that already entered open/close execution always
// finishes; only the waiting-for-next-tick state is interrupted.
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()

	t.mu.Lock()
	t.started = false
	t.mu.Unlock()
	log.Printf("[trader] stopped")
}

// dispatchBars routes the pushed bar source to the per-symbol loops. Each
// symbol keeps only the most recent undelivered bar; a slow loop never
// blocks the stream.
func (t *Trader) dispatchBars(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-t.cfg.Bars:
			if !ok {
				log.Printf("[trader] bar stream closed, REST polling continues")
				return
			}
			ch, found := t.barCh[bar.Symbol]
			if !found {
				continue
			}
			select {
			case ch <- bar:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- bar:
				default:
				}
			}
		}
	}
}

// runSymbol is the per-symbol loop: take the next bar (pushed or fetched),
// feed indicators, aggregate, hand the decision to the position manager.
func (t *Trader) runSymbol(ctx context.Context, symbol string) {
	defer t.wg.Done()

	indicators := t.factory()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	// Nil when no push source is configured; a nil channel never fires.
	var pushCh chan model.Bar
	if t.barCh != nil {
		pushCh = t.barCh[symbol]
	}

	var lastBarTime time.Time

	for {
		var bar model.Bar
		pushed := false

		select {
		case <-ctx.Done():
			return
		case bar = <-pushCh:
			pushed = true
			ticker.Reset(t.cfg.PollInterval)
		case <-ticker.C:
		}

		if !pushed {
			fetchCtx, cancel := context.WithTimeout(ctx, t.cfg.PollInterval)
			var err error
			bar, err = t.gateway.GetLatestBar(fetchCtx, symbol, t.cfg.Timeframe)
			cancel()
			if err != nil {
				// Gateway outage pauses this symbol until its next interval.
				if t.metrics != nil {
					t.metrics.GatewayErrorsTotal.WithLabelValues(symbol).Inc()
				}
				if t.health != nil {
					t.health.SetGatewayOK(false)
				}
				log.Printf("[trader] %s: gateway fetch failed, retrying next interval: %v", symbol, err)
				continue
			}
			if t.health != nil {
				t.health.SetGatewayOK(true)
			}
		}
		if t.health != nil {
			t.health.SetLastTickTime(time.Now())
		}

		// The tick runs on a context detached from Stop so an in-flight
		// transition is never aborted halfway. The timeout bounds a hung
		// execution call.
		tickCtx, tickCancel := context.WithTimeout(context.Background(), t.cfg.PollInterval)
		err := t.processTick(tickCtx, symbol, indicators, bar, &lastBarTime)
		tickCancel()
		if err != nil {
			if errors.Is(err, signal.ErrInvalidConfig) || errors.Is(err, position.ErrInvariant) {
				log.Printf("[trader] %s: halting symbol loop on unrecoverable error: %v", symbol, err)
				return
			}
			log.Printf("[trader] %s: tick failed: %v", symbol, err)
		}
	}
}

// processTick runs the pipeline for one fetched bar. A bar already seen only
// re-checks protective exits; indicators are updated once per closed bar.
func (t *Trader) processTick(ctx context.Context, symbol string, indicators []indicator.Indicator, bar model.Bar, lastBarTime *time.Time) error {
	start := time.Now()
	if t.metrics != nil {
		t.metrics.TicksTotal.WithLabelValues(symbol).Inc()
	}

	signals := make(map[string]model.Signal, len(indicators))
	if bar.OpenTime.After(*lastBarTime) {
		*lastBarTime = bar.OpenTime
		for _, ind := range indicators {
			ind.Update(bar)
			signals[ind.Name()] = ind.Signal()
		}
	} else {
		// Same bar as last tick: no new indicator input, but the latest
		// price still has to be checked against stops and targets.
		for _, ind := range indicators {
			signals[ind.Name()] = model.Signal{
				Type:    model.SignalNeutral,
				Source:  ind.Name(),
				BarTime: bar.OpenTime,
			}
		}
	}

	decision, err := signal.Aggregate(symbol, bar.OpenTime, signals, t.cfg.MinAgreement)
	if err != nil {
		return err
	}
	if t.paused.Load() && decision.Action.IsOpening() {
		// Paused: fresh opens are dropped. An opposite-side signal against
		// an open position still closes it, only the re-open leg of the
		// flip is suppressed, so a paused session keeps shedding exposure.
		pos, held := t.manager.Position(symbol)
		switch {
		case held && pos.Side == model.SideLong && decision.Action == model.SignalShort:
			decision.Action = model.SignalCloseLong
		case held && pos.Side == model.SideShort && decision.Action == model.SignalLong:
			decision.Action = model.SignalCloseShort
		default:
			decision.Action = model.SignalNeutral
			decision.Agreement = 0
		}
	}

	_, err = t.manager.OnBar(ctx, bar, decision)

	if t.metrics != nil {
		t.metrics.TickDuration.Observe(time.Since(start).Seconds())
		t.metrics.EquityGauge.Set(t.gate.Balance() + t.manager.UnrealizedPnL())
		t.metrics.OpenPositionsGauge.Set(float64(len(t.manager.OpenPositions())))
	}
	return err
}

// CloseAll closes every open position, used during shutdown after Stop.
func (t *Trader) CloseAll(ctx context.Context) []model.TradeRecord {
	return t.manager.CloseAll(ctx, time.Now().UTC())
}
