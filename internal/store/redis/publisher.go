// Package redis fans trade events, equity samples, and risk snapshots out to
// Redis for dashboards and reporting. Publishing is best-effort: a Redis
// outage never blocks or fails the trading path.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signaltrader/internal/model"
)

const (
	tradeStreamMaxLen  = 10000
	equityStreamMaxLen = 50000
	defaultLatestTTL   = 30 * time.Minute

	tradeStream  = "trades"
	equityStream = "equity"

	tradeChannel  = "pub:trades"
	equityChannel = "pub:equity"
	riskChannel   = "pub:risk"

	riskLatestKey   = "risk:latest"
	equityLatestKey = "equity:latest"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes trade and equity events to Redis Streams and PubSub. It
// satisfies model.TradePublisher.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher creates a Publisher and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	breaker := NewBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to BreakerState) {
		log.Printf("[redis] publish breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client, breaker: breaker}, nil
}

// PublishTrade writes a closed trade to the trades stream and notifies
// subscribers.
func (p *Publisher) PublishTrade(ctx context.Context, trade model.TradeRecord) {
	data, err := json.Marshal(trade)
	if err != nil {
		log.Printf("[redis] marshal trade: %v", err)
		return
	}
	jsonData := string(data)

	err = p.breaker.Do(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: tradeStream,
			MaxLen: tradeStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, tradeChannel, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[redis] trade pipeline error for %s: %v", trade.Symbol, err)
	}
}

// PublishEquity writes one equity sample to the equity stream and refreshes
// the latest-value key.
func (p *Publisher) PublishEquity(ctx context.Context, point model.EquityPoint) {
	data, err := json.Marshal(point)
	if err != nil {
		log.Printf("[redis] marshal equity point: %v", err)
		return
	}
	jsonData := string(data)

	err = p.breaker.Do(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: equityStream,
			MaxLen: equityStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, equityLatestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, equityChannel, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[redis] equity pipeline error: %v", err)
	}
}

// PublishRiskSnapshot refreshes the latest risk counters for dashboards.
func (p *Publisher) PublishRiskSnapshot(ctx context.Context, snap model.RiskSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[redis] marshal risk snapshot: %v", err)
		return
	}
	jsonData := string(data)

	err = p.breaker.Do(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, riskLatestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, riskChannel, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[redis] risk snapshot pipeline error: %v", err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
