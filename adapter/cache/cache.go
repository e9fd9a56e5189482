// Package cache wraps a HistorySource with a short-lived Redis read-through
// cache so several resolutions of one market share a single REST fetch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yitech/perpchart/adapter"
	"github.com/yitech/perpchart/model/candle"
)

// DefaultTTL keeps cached history shorter than a poll interval.
const DefaultTTL = 5 * time.Second

// Source is a HistorySource backed by Redis in front of another source.
type Source struct {
	inner  adapter.HistorySource
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps inner. A non-positive ttl selects DefaultTTL.
func New(inner adapter.HistorySource, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Source {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{inner: inner, rdb: rdb, ttl: ttl, logger: logger.Named("cache")}
}

// Key returns the Redis key holding symbol's history for limit.
func Key(symbol string, limit int) string {
	return fmt.Sprintf("perpchart:minutes:%s:%d", symbol, limit)
}

// FetchMinutes serves from Redis when possible. Redis failures are logged
// and fall through to the wrapped source.
func (s *Source) FetchMinutes(ctx context.Context, symbol string, limit int) ([]candle.Candle, error) {
	key := Key(symbol, limit)

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		cs, derr := decode(data)
		if derr == nil {
			return cs, nil
		}
		s.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(derr))
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
	}

	cs, err := s.inner.FetchMinutes(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}

	if data, err := encode(cs); err == nil {
		if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return cs, nil
}

func encode(cs []candle.Candle) ([]byte, error) {
	return json.Marshal(cs)
}

func decode(data []byte) ([]candle.Candle, error) {
	var cs []candle.Candle
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("cache: decode: %w", err)
	}
	return cs, nil
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connect to redis at %s: %w", addr, err)
	}
	return client, nil
}
