package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/oracle"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const maxCodeAttempts = 5

type AllocationInput struct {
	Symbol string
	Amount decimal.Decimal
}

type ExecutedLeg struct {
	Symbol   ledger.Symbol
	Amount   decimal.Decimal
	Received decimal.Decimal
}

type ExecuteResult struct {
	Strategy *storage.Strategy
	Legs     []ExecutedLeg
	Balances ledger.Balances
}

type StrategyService struct {
	engine
	newCode func() string
}

func NewStrategyService(store Store, prices oracle.Oracle, publisher EventPublisher, logger *slog.Logger, metrics *Metrics, opts Options) *StrategyService {
	return &StrategyService{
		engine:  newEngine(store, prices, publisher, logger, metrics, opts),
		newCode: newStrategyCode,
	}
}

// newStrategyCode returns 8 uppercase hex characters.
func newStrategyCode() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// normalizeAllocations canonicalizes symbols and merges repeats by summing,
// keeping first-seen order.
func normalizeAllocations(in []AllocationInput) ([]storage.Allocation, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one allocation is required", ledger.ErrInvalidRequest)
	}
	out := make([]storage.Allocation, 0, len(in))
	index := make(map[ledger.Symbol]int, len(in))
	for i, a := range in {
		sym, err := ledger.ParseSymbol(a.Symbol)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		if err := ledger.CheckAmount(a.Amount); err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		if pos, ok := index[sym]; ok {
			merged := out[pos].Amount.Add(a.Amount)
			if err := ledger.CheckAmount(merged); err != nil {
				return nil, fmt.Errorf("allocation %d: %w", i, err)
			}
			out[pos].Amount = merged
			continue
		}
		index[sym] = len(out)
		out = append(out, storage.Allocation{Symbol: sym, Amount: a.Amount})
	}
	return out, nil
}

func (s *StrategyService) CreateStrategy(ctx context.Context, authorID uuid.UUID, allocations []AllocationInput) (strategy *storage.Strategy, err error) {
	ctx, span := s.startSpan(ctx, "copy.create_strategy")
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("create_strategy", err, time.Since(start))
		endSpan(span, err)
	}()

	normalized, err := normalizeAllocations(allocations)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, authorID); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		strategy, err = s.store.CreateStrategy(ctx, storage.Strategy{
			Code:        s.newCode(),
			AuthorID:    authorID,
			Allocations: normalized,
			CreatedAt:   time.Now().UTC(),
		})
		if err == nil {
			s.logger.Info("strategy created", "code", strategy.Code, "author_id", authorID, "legs", len(normalized))
			return strategy, nil
		}
		if !errors.Is(err, storage.ErrDuplicateStrategyCode) {
			return nil, err
		}
		s.logger.Warn("strategy code collision", "attempt", attempt)
	}
	return nil, fmt.Errorf("allocate strategy code: %w", err)
}

func (s *StrategyService) GetStrategy(ctx context.Context, code string) (*storage.Strategy, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ledger.ErrInvalidRequest)
	}
	return s.store.GetStrategy(ctx, code)
}

// ExecuteStrategy converts reference currency into every allocation of the
// strategy. All prices are resolved up front and the legs are committed in a
// single write, so either every leg applies or none does.
func (s *StrategyService) ExecuteStrategy(ctx context.Context, accountID uuid.UUID, code string) (res *ExecuteResult, err error) {
	ctx, span := s.startSpan(ctx, "copy.execute_strategy")
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("execute_strategy", err, time.Since(start))
		endSpan(span, err)
	}()

	strategy, err := s.GetStrategy(ctx, code)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.String("strategy.code", strategy.Code),
		attribute.Int("strategy.legs", len(strategy.Allocations)),
	)

	ref := s.opts.ReferenceSymbol
	total := strategy.TotalRequired()
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.Balances.CanDebit(ref, total) {
		return nil, fmt.Errorf("%w: %s required %s", ledger.ErrInsufficientBalance, ref, total.String())
	}

	refPrice, err := s.price(ctx, ref)
	if err != nil {
		return nil, err
	}
	prices := map[ledger.Symbol]decimal.Decimal{ref: refPrice}
	quotes := make([]ledger.Conversion, 0, len(strategy.Allocations))
	for _, leg := range strategy.Allocations {
		p, ok := prices[leg.Symbol]
		if !ok {
			if p, err = s.price(ctx, leg.Symbol); err != nil {
				return nil, err
			}
			prices[leg.Symbol] = p
		}
		q, err := ledger.QuoteConversion(ref, leg.Symbol, leg.Amount, refPrice, p)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}

	var after ledger.Balances
	err = s.update(ctx, "execute_strategy", []uuid.UUID{accountID}, func(accounts map[uuid.UUID]*storage.Account) error {
		locked := accounts[accountID]
		if !locked.Balances.CanDebit(ref, total) {
			return fmt.Errorf("%w: %s required %s", ledger.ErrInsufficientBalance, ref, total.String())
		}
		for _, q := range quotes {
			if err := q.ApplyTo(locked.Balances); err != nil {
				return err
			}
		}
		after = locked.Balances.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	legs := make([]ExecutedLeg, len(quotes))
	for i, q := range quotes {
		legs[i] = ExecutedLeg{Symbol: q.To, Amount: q.FromAmount, Received: q.ToAmount}
	}
	s.logger.Info("strategy executed", "account_id", accountID, "code", strategy.Code, "total", total.String())
	s.publishExecution(ctx, accountID, strategy, legs)
	return &ExecuteResult{Strategy: strategy, Legs: legs, Balances: after}, nil
}

func (s *StrategyService) publishExecution(ctx context.Context, accountID uuid.UUID, strategy *storage.Strategy, legs []ExecutedLeg) {
	env, err := newEnvelope(ctx, eventExecution)
	if err != nil {
		s.logger.Error("build execution event", "error", err)
		return
	}
	out := make([]ExecutionLeg, len(legs))
	for i, leg := range legs {
		out[i] = ExecutionLeg{Symbol: leg.Symbol.String(), Amount: leg.Amount.String(), Received: leg.Received.String()}
	}
	s.publish(ctx, s.opts.Topics.Executions, accountID.String(), ExecutionEvent{
		Envelope:      env,
		AccountID:     accountID.String(),
		StrategyCode:  strategy.Code,
		Reference:     s.opts.ReferenceSymbol.String(),
		TotalRequired: strategy.TotalRequired().String(),
		Legs:          out,
	})
}
