// cmd/backtest replays historical bars through the full signal -> risk ->
// position pipeline and reports trade statistics. Bars come from CSV files
// (one per symbol: unix_ms,open,high,low,close,volume) or, with --fetch,
// straight from the Binance klines endpoint.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/BTCUSDT.csv,data/ETHUSDT.csv
//	go run ./cmd/backtest --fetch --symbols=BTCUSDT --timeframe=1h --bars=500
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"signaltrader/config"
	"signaltrader/internal/backtest"
	"signaltrader/internal/exchange/binance"
	"signaltrader/internal/execution"
	"signaltrader/internal/indicator"
	"signaltrader/internal/model"
	"signaltrader/internal/position"
	"signaltrader/internal/risk"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	csvFiles := flag.String("csv", "", "Comma-separated CSV files, one per symbol (name = SYMBOL.csv)")
	fetch := flag.Bool("fetch", false, "Fetch bars from Binance instead of CSV")
	symbols := flag.String("symbols", "BTCUSDT", "Symbols to fetch (with --fetch)")
	timeframe := flag.String("timeframe", "1h", "Kline interval (with --fetch)")
	barCount := flag.Int("bars", 500, "Bars per symbol to fetch (with --fetch)")
	capital := flag.Float64("capital", 10000, "Initial capital in quote currency")
	minAgreement := flag.Int("min-agreement", 2, "Indicators that must agree per decision")
	slippageBps := flag.Float64("slippage-bps", 0, "Adverse slippage on simulated fills")
	flag.Parse()

	series, err := loadSeries(*csvFiles, *fetch, *symbols, *timeframe, *barCount)
	if err != nil {
		log.Fatalf("[backtest] load bars: %v", err)
	}
	if len(series) == 0 {
		log.Fatal("[backtest] no bars loaded; pass --csv or --fetch")
	}

	cfg := config.Load()
	limits := cfg.RiskLimits()

	gate := risk.NewGate(limits, *capital)
	exec := execution.NewPaperExecutor(*slippageBps, limits.CommissionRate)
	manager := position.NewManager(gate, exec, position.Callbacks{})

	factory := func() []indicator.Indicator {
		return []indicator.Indicator{
			indicator.NewRSI(14),
			indicator.NewEMACross(9, 21),
			indicator.NewMACD(12, 26, 9),
		}
	}

	engine := backtest.New(gate, manager, factory, *minAgreement)
	result, err := engine.Run(context.Background(), series)
	if err != nil {
		log.Fatalf("[backtest] run failed: %v", err)
	}

	for _, tr := range result.Trades {
		fmt.Printf("  [%s] %s %s %.4f -> %.4f  %+.2f (%+.2f%%)  %s\n",
			tr.ExitTime.Format("2006-01-02 15:04"), tr.Side, tr.Symbol,
			tr.EntryPrice, tr.ExitPrice, tr.PnL, tr.PnLPct, tr.Reason)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbols:     %-22d ║\n", len(series))
	fmt.Printf("║  Trades:      %-22d ║\n", len(result.Trades))
	fmt.Printf("║  Win rate:    %-21.1f%% ║\n", result.WinRate)
	fmt.Printf("║  Net P&L:     %-22.2f ║\n", result.NetPnL)
	fmt.Printf("║  Return:      %-21.2f%% ║\n", result.ReturnPct)
	fmt.Printf("║  Max DD:      %-21.2f%% ║\n", result.MaxDrawdownPct)
	fmt.Printf("║  Fees:        %-22.4f ║\n", result.TotalFees)
	fmt.Println("╚══════════════════════════════════════╝")
	fmt.Println()
	fmt.Println(result.Summary())
}

func loadSeries(csvFiles string, fetch bool, symbols, timeframe string, barCount int) (map[string][]model.Bar, error) {
	if fetch {
		return fetchSeries(symbols, timeframe, barCount)
	}
	series := make(map[string][]model.Bar)
	for _, path := range strings.Split(csvFiles, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		bars, err := loadCSV(symbol, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		series[symbol] = bars
		log.Printf("[backtest] loaded %d bars for %s from %s", len(bars), symbol, path)
	}
	return series, nil
}

func fetchSeries(symbols, timeframe string, barCount int) (map[string][]model.Bar, error) {
	client := binance.NewClient(binance.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	series := make(map[string][]model.Bar)
	for _, sym := range strings.Split(symbols, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		bars, err := client.GetKlines(ctx, sym, timeframe, barCount)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", sym, err)
		}
		series[sym] = bars
		log.Printf("[backtest] fetched %d bars for %s", len(bars), sym)
	}
	return series, nil
}

// loadCSV parses unix_ms,open,high,low,close,volume rows. A header line is
// skipped automatically.
func loadCSV(symbol, path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	var bars []model.Bar
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: %d columns, want 6", i+1, len(row))
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("row %d: bad timestamp %q", i+1, row[0])
		}
		var vals [5]float64
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %q", i+1, j+1, row[j])
			}
			vals[j-1] = v
		}
		bars = append(bars, model.Bar{
			Symbol:   symbol,
			OpenTime: time.UnixMilli(ts).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return bars, nil
}
