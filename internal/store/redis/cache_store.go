// Package redis implements the shared cache tier on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"shadowbeta/internal/cache"
)

const clearBatch = 500

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key namespace, default "shadowbeta"
}

// CacheStore is a cache.Store backed by Redis string keys of the form
// {prefix}:cache:{name}:{key}. Every call goes through a circuit breaker so
// an unreachable Redis degrades to cache misses quickly.
type CacheStore struct {
	client  *goredis.Client
	prefix  string
	breaker *CircuitBreaker
}

// NewCacheStore connects and pings Redis.
func NewCacheStore(cfg Config) (*CacheStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "shadowbeta"
	}

	breaker := NewCircuitBreaker(5, 10*time.Second)
	breaker.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, goredis.Nil)
	}
	breaker.OnStateChange = func(from, to State) {
		slog.Warn("redis circuit breaker transition",
			slog.String("component", "redis_cache"),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}

	slog.Info("redis cache connected", slog.String("addr", cfg.Addr))
	return &CacheStore{client: client, prefix: prefix, breaker: breaker}, nil
}

// Client returns the underlying Redis client for health checks.
func (s *CacheStore) Client() *goredis.Client { return s.client }

// Breaker exposes the circuit breaker state for health reporting.
func (s *CacheStore) Breaker() *CircuitBreaker { return s.breaker }

// OnBreakerChange adds fn to the breaker's transition hook. Call it before
// the store is shared.
func (s *CacheStore) OnBreakerChange(fn func(from, to State)) {
	prev := s.breaker.OnStateChange
	s.breaker.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		fn(from, to)
	}
}

func (s *CacheStore) Get(ctx context.Context, name cache.Name, key string) (cache.Entry, bool, error) {
	var raw []byte
	err := s.breaker.Execute(func() error {
		var err error
		raw, err = s.client.Get(ctx, entryKey(s.prefix, name, key)).Bytes()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	var e cache.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, true, nil
}

func (s *CacheStore) Set(ctx context.Context, name cache.Name, key string, e cache.Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.breaker.Execute(func() error {
		return s.client.Set(ctx, entryKey(s.prefix, name, key), raw, ttl).Err()
	})
}

// Clear deletes every key of one cache using SCAN so Redis is never
// blocked by a KEYS call.
func (s *CacheStore) Clear(ctx context.Context, name cache.Name) error {
	return s.breaker.Execute(func() error {
		iter := s.client.Scan(ctx, 0, cachePattern(s.prefix, name), clearBatch).Iterator()
		batch := make([]string, 0, clearBatch)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == clearBatch {
				if err := s.client.Del(ctx, batch...).Err(); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(batch) > 0 {
			return s.client.Del(ctx, batch...).Err()
		}
		return nil
	})
}

// Close releases the connection pool.
func (s *CacheStore) Close() error {
	return s.client.Close()
}

func entryKey(prefix string, name cache.Name, key string) string {
	return fmt.Sprintf("%s:cache:%s:%s", prefix, name, key)
}

func cachePattern(prefix string, name cache.Name) string {
	return fmt.Sprintf("%s:cache:%s:*", prefix, name)
}
