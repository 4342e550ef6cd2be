// cmd/trader runs the real-time trading engine: per-symbol polling, signal
// aggregation, risk-gated execution, durable trade ledger, and the
// TOTP-protected control API.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"signaltrader/config"
	"signaltrader/internal/api"
	"signaltrader/internal/exchange/binance"
	"signaltrader/internal/execution"
	"signaltrader/internal/indicator"
	"signaltrader/internal/metrics"
	"signaltrader/internal/model"
	"signaltrader/internal/notification"
	"signaltrader/internal/position"
	"signaltrader/internal/ringbuf"
	"signaltrader/internal/risk"
	redisstore "signaltrader/internal/store/redis"
	sqlitestore "signaltrader/internal/store/sqlite"
	"signaltrader/internal/trader"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("[trader] starting...")

	cfg := config.Load()
	symbols := cfg.SymbolList()
	if len(symbols) == 0 {
		log.Fatal("[trader] SYMBOLS resolved to an empty list")
	}
	live := cfg.TradingMode == "live"
	log.Printf("[trader] mode=%s symbols=%v timeframe=%s interval=%s",
		cfg.TradingMode, symbols, cfg.Timeframe, cfg.PollInterval)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Trade ledger + risk snapshots (SQLite) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	// ---- Redis publisher (best-effort, optional) ----
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[trader] WARNING: redis init failed: %v (continuing without publisher)", err)
			health.SetRedisConnected(false)
			publisher = nil
		} else {
			health.SetRedisConnected(true)
		}
	}

	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Exchange gateway ----
	baseURL := ""
	if cfg.BinanceTestnet {
		baseURL = binance.TestnetBaseURL
	}
	gateway := binance.NewClient(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		BaseURL:   baseURL,
	})
	if live {
		loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := gateway.LoadSymbolFilters(loadCtx, symbols); err != nil {
			loadCancel()
			log.Fatalf("[trader] load symbol filters: %v", err)
		}
		loadCancel()
	}

	// ---- Execution adapter ----
	var exec execution.Adapter
	if live {
		exec = execution.NewLiveExecutor(gateway, cfg.CommissionRate)
	} else {
		exec = execution.NewPaperExecutor(cfg.SlippageBps, cfg.CommissionRate)
	}

	// ---- Risk gate, restored from the last snapshot ----
	gate := risk.NewGate(cfg.RiskLimits(), cfg.InitialCapital)
	if snap, ok, err := store.LoadRiskSnapshot(ctx); err != nil {
		log.Printf("[trader] WARNING: snapshot load failed: %v", err)
	} else if ok {
		gate.Restore(snap)
		log.Printf("[trader] risk counters restored: balance=%.2f daily=%.2f total=%.2f day=%s",
			snap.Balance, snap.DailyPnL, snap.TotalPnL, snap.Day)
	}

	// ---- Notifications ----
	var backends notification.Multi
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookToken))
	}
	if len(backends) == 0 {
		backends = append(backends, notification.NewLogNotifier())
	}
	alerter := notification.NewTradeAlerter(backends)

	// ---- Position manager with lifecycle fan-out ----
	callbacks := position.Callbacks{
		OnOpen: func(pos model.Position) {
			prom.OrdersTotal.WithLabelValues(pos.Symbol, string(pos.Side)).Inc()
			alerter.PositionOpened(pos)
		},
		OnClose: func(tr model.TradeRecord) {
			prom.TradesClosedTotal.WithLabelValues(tr.Symbol, string(tr.Reason)).Inc()
			snap := gate.Snapshot()
			prom.DailyPnLGauge.Set(snap.DailyPnL)

			persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer persistCancel()
			if err := store.Append(persistCtx, tr); err != nil {
				log.Printf("[trader] ledger append failed for %s: %v", tr.Symbol, err)
			}
			if err := store.SaveRiskSnapshot(persistCtx, snap); err != nil {
				log.Printf("[trader] snapshot save failed: %v", err)
			}
			if publisher != nil {
				publisher.PublishTrade(persistCtx, tr)
				publisher.PublishRiskSnapshot(persistCtx, snap)
			}
			alerter.TradeClosed(tr)
		},
		OnReject: func(decision model.AggregatedDecision, reason error) {
			prom.RejectionsTotal.WithLabelValues(rejectionLabel(reason)).Inc()
			alerter.SignalRejected(decision, reason)
			if errors.Is(reason, risk.ErrDailyLossLimit) || errors.Is(reason, risk.ErrTotalLossLimit) {
				alerter.RiskHalt(gate.Snapshot(), reason)
			}
		},
	}
	manager := position.NewManager(gate, exec, callbacks)

	// ---- Kline websocket stream (REST polling covers gaps) ----
	var barCh chan model.Bar
	if cfg.WSStreamEnabled {
		wsURL := binance.DefaultWSURL
		if cfg.BinanceTestnet {
			wsURL = binance.TestnetWSURL
		}
		stream := binance.NewKlineStream(binance.StreamConfig{
			WSURL:     wsURL,
			Symbols:   symbols,
			Timeframe: cfg.Timeframe,
		})
		barCh = make(chan model.Bar, 64)
		go func() {
			if err := stream.Run(ctx, barCh); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[trader] kline stream stopped: %v (REST polling continues)", err)
			}
		}()
	}

	// ---- Trader loops ----
	factory := func() []indicator.Indicator {
		return []indicator.Indicator{
			indicator.NewRSI(14),
			indicator.NewEMACross(9, 21),
			indicator.NewMACD(12, 26, 9),
		}
	}
	eng := trader.New(trader.Config{
		Symbols:      symbols,
		Timeframe:    cfg.Timeframe,
		PollInterval: cfg.PollInterval,
		MinAgreement: cfg.MinSignalAgreement,
		SyncBalance:  live,
		Bars:         barCh,
	}, gateway, gate, manager, factory, prom, health)

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("[trader] start failed: %v", err)
	}

	// ---- Control API ----
	equityHistory := ringbuf.New(1440) // 24h at one point per minute
	apiSrv := api.NewServer(cfg.APIAddr, cfg.APITOTPSecret, eng, gate, manager, store)
	apiSrv.SetEquityHistory(equityHistory)
	apiSrv.Start()

	// ---- Periodic equity reporting ----
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				equity := gate.Balance() + manager.UnrealizedPnL()
				prom.EquityGauge.Set(equity)
				point := model.EquityPoint{Time: now.UTC(), Equity: equity}
				equityHistory.Push(point)
				if publisher != nil {
					pubCtx, pubCancel := context.WithTimeout(ctx, 5*time.Second)
					publisher.PublishEquity(pubCtx, point)
					pubCancel()
				}
			}
		}
	}()

	mode := "PAPER"
	if live {
		mode = "LIVE"
	}
	log.Println("[trader] ╔═══════════════════════════════════════════════════════════════╗")
	log.Printf("[trader] ║  Signal Trading Engine — %-6s MODE                           ║", mode)
	log.Println("[trader] ║                                                               ║")
	log.Println("[trader] ║  [Binance Feed] → [Indicators] → [Risk Gate] → [Execution]    ║")
	log.Printf("[trader] ║  Symbols: %-51v ║", symbols)
	log.Printf("[trader] ║  Timeframe: %s  Poll: %s  MinAgreement: %-14d ║",
		cfg.Timeframe, cfg.PollInterval, cfg.MinSignalAgreement)
	log.Println("[trader] ╚═══════════════════════════════════════════════════════════════╝")
	log.Println("[trader] engine running; Ctrl-C to stop")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[trader] shutdown signal received, draining...")
	cancel()
	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	closed := eng.CloseAll(shutdownCtx)
	if len(closed) > 0 {
		log.Printf("[trader] closed %d positions at shutdown", len(closed))
	}
	if err := store.SaveRiskSnapshot(shutdownCtx, gate.Snapshot()); err != nil {
		log.Printf("[trader] final snapshot save failed: %v", err)
	}

	apiSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if publisher != nil {
		publisher.Close()
	}
	log.Println("[trader] shutdown complete.")
}

// rejectionLabel maps gate sentinels onto low-cardinality metric labels.
func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, risk.ErrDailyLossLimit):
		return "daily_loss_limit"
	case errors.Is(err, risk.ErrTotalLossLimit):
		return "total_loss_limit"
	case errors.Is(err, risk.ErrMaxOpenPositions):
		return "max_open_positions"
	case errors.Is(err, risk.ErrPositionTooSmall):
		return "below_min_notional"
	default:
		return "other"
	}
}
