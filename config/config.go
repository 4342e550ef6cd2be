package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"signaltrader/internal/risk"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Binance credentials (required for live trading only)
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Trading
	TradingMode        string // "paper" or "live"
	Symbols            string // comma-separated, e.g. "BTCUSDT,ETHUSDT"
	Timeframe          string // kline interval, e.g. "1m", "5m", "1h"
	PollInterval       time.Duration
	WSStreamEnabled    bool // kline websocket stream, REST polling covers gaps
	MinSignalAgreement int
	InitialCapital     float64
	SlippageBps        float64 // paper fills only

	// Risk limits
	MaxPositionSizePct float64
	MaxPositionSizeUSD float64
	MinPositionSizeUSD float64
	MaxDailyLossPct    float64
	MaxTotalLossPct    float64
	MaxOpenPositions   int
	StopLossPct        float64
	TakeProfitPct      float64
	CommissionRate     float64

	// Infrastructure
	RedisAddr     string // empty disables the publisher
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string
	APITOTPSecret string // empty disables control API auth

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
	WebhookToken     string
}

// Load reads configuration from environment variables with sensible defaults.
// Binance credentials are required only in live mode.
func Load() *Config {
	cfg := &Config{
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),
		BinanceTestnet:   getBool("BINANCE_TESTNET", false),

		TradingMode:        strings.ToLower(getEnv("TRADING_MODE", "paper")),
		Symbols:            getEnv("SYMBOLS", "BTCUSDT"),
		Timeframe:          getEnv("TIMEFRAME", "1m"),
		PollInterval:       getDuration("POLL_INTERVAL", 30*time.Second),
		WSStreamEnabled:    getBool("WS_STREAM_ENABLED", true),
		MinSignalAgreement: getInt("MIN_SIGNAL_AGREEMENT", 2),
		InitialCapital:     getFloat("INITIAL_CAPITAL", 10000),
		SlippageBps:        getFloat("SLIPPAGE_BPS", 0),

		MaxPositionSizePct: getFloat("MAX_POSITION_SIZE_PERCENTAGE", 3),
		MaxPositionSizeUSD: getFloat("MAX_POSITION_SIZE_USD", 50),
		MinPositionSizeUSD: getFloat("MIN_POSITION_SIZE_USD", 5),
		MaxDailyLossPct:    getFloat("MAX_DAILY_LOSS_PERCENTAGE", 3),
		MaxTotalLossPct:    getFloat("MAX_TOTAL_LOSS_PERCENTAGE", 15),
		MaxOpenPositions:   getInt("MAX_OPEN_POSITIONS", 2),
		StopLossPct:        getFloat("STOP_LOSS_PERCENTAGE", 2),
		TakeProfitPct:      getFloat("TAKE_PROFIT_PERCENTAGE", 4),
		CommissionRate:     getFloat("COMMISSION_RATE", 0.001),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trades.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		APITOTPSecret: getEnv("API_TOTP_SECRET", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		WebhookToken:     getEnv("WEBHOOK_TOKEN", ""),
	}

	if cfg.TradingMode == "live" {
		if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
			log.Fatalf("[config] live mode requires BINANCE_API_KEY and BINANCE_API_SECRET")
		}
	}
	return cfg
}

// SymbolList splits the configured symbols, dropping blanks.
func (c *Config) SymbolList() []string {
	parts := strings.Split(c.Symbols, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

// RiskLimits maps the configured percentages into gate limits.
func (c *Config) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSizePct: c.MaxPositionSizePct,
		MaxPositionSizeUSD: c.MaxPositionSizeUSD,
		MinNotionalUSD:     c.MinPositionSizeUSD,
		MaxDailyLossPct:    c.MaxDailyLossPct,
		MaxTotalLossPct:    c.MaxTotalLossPct,
		MaxOpenPositions:   c.MaxOpenPositions,
		StopLossPct:        c.StopLossPct,
		TakeProfitPct:      c.TakeProfitPct,
		CommissionRate:     c.CommissionRate,
		Leverage:           1.0,
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
