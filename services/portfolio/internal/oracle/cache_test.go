package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AfshinJalili/kryptbroker/libs/logging"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type countingOracle struct {
	calls int
	price decimal.Decimal
	err   error
}

func (c *countingOracle) Price(context.Context, ledger.Symbol) (decimal.Decimal, error) {
	c.calls++
	return c.price, c.err
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, ledger.Symbol) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, errors.New("down")
}

func (brokenCache) Set(context.Context, ledger.Symbol, decimal.Decimal, time.Duration) error {
	return errors.New("down")
}

func TestCachedServesFromCache(t *testing.T) {
	next := &countingOracle{price: decimal.NewFromInt(50000)}
	o := NewCached(next, NewMemoryCache(), time.Minute, logging.Discard(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		price, err := o.Price(ctx, "BTC")
		if err != nil || !price.Equal(decimal.NewFromInt(50000)) {
			t.Fatalf("price: %s %v", price, err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", next.calls)
	}
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	next := &countingOracle{err: ledger.ErrPriceUnavailable}
	o := NewCached(next, NewMemoryCache(), time.Minute, logging.Discard(), nil)

	for i := 0; i < 2; i++ {
		if _, err := o.Price(context.Background(), "BTC"); !errors.Is(err, ledger.ErrPriceUnavailable) {
			t.Fatalf("expected price unavailable, got %v", err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", next.calls)
	}
}

func TestCachedBypassesBrokenCache(t *testing.T) {
	next := &countingOracle{price: decimal.NewFromInt(3)}
	o := NewCached(next, brokenCache{}, time.Minute, logging.Discard(), nil)

	price, err := o.Price(context.Background(), "SOL")
	if err != nil || !price.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("price: %s %v", price, err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "BTC", decimal.NewFromInt(1), time.Second)
	if _, ok, _ := c.Get(ctx, "BTC"); !ok {
		t.Fatalf("expected hit")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "BTC"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestRedisCache(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	c := NewRedisCache(client, "test:price:")
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "BTC"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "BTC", decimal.RequireFromString("50000.5"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	price, ok, err := c.Get(ctx, "BTC")
	if err != nil || !ok || !price.Equal(decimal.RequireFromString("50000.5")) {
		t.Fatalf("get: %s %v %v", price, ok, err)
	}

	s.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "BTC"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestPeggedShortCircuits(t *testing.T) {
	next := &countingOracle{price: decimal.NewFromInt(7)}
	o := NewPegged(next, DefaultPegs())
	ctx := context.Background()

	price, err := o.Price(ctx, "USDT")
	if err != nil || !price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("usdt: %s %v", price, err)
	}
	if next.calls != 0 {
		t.Fatalf("pegged symbol should not reach upstream")
	}
	if price, _ := o.Price(ctx, "BTC"); !price.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected upstream price, got %s", price)
	}
}

func TestStaticOracle(t *testing.T) {
	o := Static{"BTC": decimal.NewFromInt(50000)}
	if _, err := o.Price(context.Background(), "ETH"); !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Price(ctx, "BTC"); !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable for cancelled context, got %v", err)
	}
}
