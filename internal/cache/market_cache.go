// Package cache provides the balance and mark-price caches with optional
// Redis write-through. The in-memory map under a lock is authoritative;
// Redis is best effort so other processes (the dashboard) can read the same
// values, and a flapping Redis degrades to memory-only via a circuit
// breaker instead of slowing the tick.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"delta-trading-bot/config"
	"delta-trading-bot/internal/logging"
)

// Default TTLs, matching how fast each value goes stale.
const (
	BalanceTTL = 30 * time.Second
	PriceTTL   = 5 * time.Second
)

// Key prefixes for the shared Redis namespace
const (
	keyBalance = "bot:balance:"
	keyPrice   = "bot:price:"
)

type memEntry struct {
	value     float64
	expiresAt time.Time
}

// MarketCache caches floats keyed by symbol/asset.
type MarketCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry

	client *redis.Client
	logger *logging.Logger

	// circuit breaker state for the Redis write-through
	redisMu      sync.Mutex
	failureCount int
	maxFailures  int
	openedAt     time.Time
	cooldown     time.Duration
}

// NewMarketCache creates the cache. When Redis is disabled or unreachable
// the cache runs memory-only; that is a degradation, not an error.
func NewMarketCache(cfg config.RedisConfig) *MarketCache {
	mc := &MarketCache{
		entries:     make(map[string]memEntry),
		logger:      logging.WithComponent("cache"),
		maxFailures: 3,
		cooldown:    30 * time.Second,
	}

	if !cfg.Enabled {
		return mc
	}

	mc.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := mc.client.Ping(ctx).Err(); err != nil {
		mc.logger.Warn("redis unreachable, running memory-only", "error", err)
	}
	return mc
}

// GetBalance returns the cached balance for an asset, if fresh.
func (c *MarketCache) GetBalance(assetID int) (float64, bool) {
	return c.get(keyBalance + strconv.Itoa(assetID))
}

// SetBalance caches an asset balance for BalanceTTL.
func (c *MarketCache) SetBalance(ctx context.Context, assetID int, balance float64) {
	c.set(ctx, keyBalance+strconv.Itoa(assetID), balance, BalanceTTL)
}

// GetPrice returns the cached mark price for a symbol, if fresh.
func (c *MarketCache) GetPrice(symbol string) (float64, bool) {
	return c.get(keyPrice + symbol)
}

// SetPrice caches a mark price for PriceTTL.
func (c *MarketCache) SetPrice(ctx context.Context, symbol string, price float64) {
	c.set(ctx, keyPrice+symbol, price, PriceTTL)
}

// Invalidate drops a symbol's price so the next read refetches, used right
// after order fills move the market view.
func (c *MarketCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, keyPrice+symbol)
	c.mu.Unlock()
}

// Close releases the Redis connection, if any.
func (c *MarketCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *MarketCache) get(key string) (float64, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.value, true
	}
	return 0, false
}

func (c *MarketCache) set(ctx context.Context, key string, value float64, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	c.writeThrough(ctx, key, value, ttl)
}

// writeThrough mirrors the value into Redis. After maxFailures consecutive
// errors writes are skipped for a cooldown; the next write after the
// cooldown probes Redis again.
func (c *MarketCache) writeThrough(ctx context.Context, key string, value float64, ttl time.Duration) {
	if c.client == nil {
		return
	}

	c.redisMu.Lock()
	if c.failureCount >= c.maxFailures && time.Since(c.openedAt) < c.cooldown {
		c.redisMu.Unlock()
		return
	}
	c.redisMu.Unlock()

	err := c.client.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), ttl).Err()

	c.redisMu.Lock()
	defer c.redisMu.Unlock()
	if err != nil {
		c.failureCount++
		if c.failureCount == c.maxFailures {
			c.openedAt = time.Now()
			c.logger.Warn("redis write-through suspended", "failures", c.failureCount, "error", err)
		}
		return
	}
	if c.failureCount >= c.maxFailures {
		c.logger.Info("redis write-through recovered")
	}
	c.failureCount = 0
}
