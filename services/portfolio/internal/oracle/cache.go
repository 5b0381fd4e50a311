package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type PriceCache interface {
	Get(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, bool, error)
	Set(ctx context.Context, sym ledger.Symbol, price decimal.Decimal, ttl time.Duration) error
}

// Cached fronts next with a PriceCache. Cache errors are logged and bypassed.
type Cached struct {
	next    Oracle
	cache   PriceCache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

func NewCached(next Oracle, cache PriceCache, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger, metrics: metrics}
}

func (c *Cached) Price(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, error) {
	price, ok, err := c.cache.Get(ctx, sym)
	switch {
	case err != nil:
		c.metrics.IncCache("error")
		c.logger.Warn("price cache read failed", "symbol", sym, "error", err)
	case ok:
		c.metrics.IncCache("hit")
		return price, nil
	default:
		c.metrics.IncCache("miss")
	}

	price, err = c.next.Price(ctx, sym)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.Set(ctx, sym, price, c.ttl); err != nil {
		c.logger.Warn("price cache write failed", "symbol", sym, "error", err)
	}
	return price, nil
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[ledger.Symbol]memoryCacheEntry
	now     func() time.Time
}

type memoryCacheEntry struct {
	price   decimal.Decimal
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[ledger.Symbol]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, sym ledger.Symbol) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sym]
	if !ok {
		return decimal.Zero, false, nil
	}
	if c.now().After(entry.expires) {
		delete(c.entries, sym)
		return decimal.Zero, false, nil
	}
	return entry.price, true, nil
}

func (c *MemoryCache) Set(_ context.Context, sym ledger.Symbol, price decimal.Decimal, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sym] = memoryCacheEntry{price: price, expires: c.now().Add(ttl)}
	return nil
}

const defaultRedisPrefix = "krypt:price:"

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+string(sym)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse cached price for %s: %w", sym, err)
	}
	return price, true, nil
}

func (c *RedisCache) Set(ctx context.Context, sym ledger.Symbol, price decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+string(sym), price.String(), ttl).Err()
}
