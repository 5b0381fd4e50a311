package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/oracle"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*storage.Account, error)
	FindAccount(ctx context.Context, key string) (*storage.Account, error)
	UpdateAccounts(ctx context.Context, ids []uuid.UUID, apply storage.ApplyFunc) error
	CreateStrategy(ctx context.Context, strategy storage.Strategy) (*storage.Strategy, error)
	GetStrategy(ctx context.Context, code string) (*storage.Strategy, error)
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
}

type Topics struct {
	Conversions string
	Transfers   string
	Executions  string
}

func DefaultTopics() Topics {
	return Topics{
		Conversions: "portfolio.conversions",
		Transfers:   "portfolio.transfers",
		Executions:  "copy.executions",
	}
}

type Options struct {
	ReferenceSymbol ledger.Symbol
	PriceTimeout    time.Duration
	MaxAttempts     int
	Topics          Topics
}

func (o Options) withDefaults() Options {
	if o.ReferenceSymbol == "" {
		o.ReferenceSymbol = "USDT"
	}
	if o.PriceTimeout <= 0 {
		o.PriceTimeout = 3 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Topics == (Topics{}) {
		o.Topics = DefaultTopics()
	}
	return o
}

// engine holds what the ledger and strategy services share.
type engine struct {
	store     Store
	prices    oracle.Oracle
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	opts      Options
}

func newEngine(store Store, prices oracle.Oracle, publisher EventPublisher, logger *slog.Logger, metrics *Metrics, opts Options) engine {
	if logger == nil {
		logger = slog.Default()
	}
	return engine{
		store:     store,
		prices:    prices,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/AfshinJalili/kryptbroker/services/portfolio"),
		opts:      opts.withDefaults(),
	}
}

type correlationKey struct{}

// WithCorrelationID tags ctx so published events carry the originating
// request id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func (e engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// price bounds a single oracle lookup. Anything that is not already a
// PriceUnavailable (a deadline, a transport error) is reported as one.
func (e engine) price(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.PriceTimeout)
	defer cancel()
	start := time.Now()
	p, err := e.prices.Price(ctx, sym)
	e.metrics.ObservePriceLookup(err, time.Since(start))
	if err != nil {
		if errors.Is(err, ledger.ErrPriceUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ledger.ErrPriceUnavailable, sym, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price for %s", ledger.ErrPriceUnavailable, sym)
	}
	return p, nil
}

// update runs UpdateAccounts, retrying on ConcurrentModification.
func (e engine) update(ctx context.Context, op string, ids []uuid.UUID, apply storage.ApplyFunc) error {
	var err error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		err = e.store.UpdateAccounts(ctx, ids, apply)
		if !errors.Is(err, ledger.ErrConcurrentModification) {
			return err
		}
		e.metrics.IncRetry(op)
		e.logger.Warn("concurrent modification, retrying", "operation", op, "attempt", attempt)
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// publish is best effort. The ledger write has already committed.
func (e engine) publish(ctx context.Context, topic, key string, event any) {
	if e.publisher == nil || topic == "" {
		return
	}
	if _, _, err := e.publisher.PublishJSON(ctx, topic, key, event); err != nil {
		e.metrics.IncPublishFailure(topic)
		e.logger.Error("event publish failed", "topic", topic, "key", key, "error", err)
	}
}
