package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockpulse/streamcore/pkg/models"
)

const (
	keyPrefix     = "price:"
	channelPrefix = "prices."
)

// RedisClient abstracts the mirror's storage connection
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Pipeline() redis.Pipeliner
	Close() error
}

// Compile-time check
var _ Sink = (*RedisMirror)(nil)

// RedisMirror publishes every accepted changed tick to Redis: a keyed SET
// for late joiners plus a per-ticker pub/sub channel for live observers.
// Both happen in one pipeline round trip.
type RedisMirror struct {
	rdb    RedisClient
	keyTTL time.Duration
}

func NewRedisMirror(rdb RedisClient, keyTTL time.Duration) *RedisMirror {
	if keyTTL <= 0 {
		keyTTL = time.Hour
	}
	return &RedisMirror{rdb: rdb, keyTTL: keyTTL}
}

func (m *RedisMirror) Accept(ctx context.Context, tick models.PriceTick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}

	pipe := m.rdb.Pipeline()
	pipe.Set(ctx, keyPrefix+tick.Ticker, payload, m.keyTTL)
	pipe.Publish(ctx, channelPrefix+tick.Ticker, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
