// Package oracle prices assets in the reference currency.
package oracle

import (
	"context"
	"fmt"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/shopspring/decimal"
)

type Oracle interface {
	Price(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, error)
}

// Static serves a fixed price table. Used in dev mode and tests.
type Static map[ledger.Symbol]decimal.Decimal

func (s Static) Price(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ledger.ErrPriceUnavailable, err)
	}
	price, ok := s[sym]
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", ledger.ErrPriceUnavailable, sym)
	}
	return price, nil
}

// Pegged answers fixed-value symbols without consulting next.
type Pegged struct {
	next  Oracle
	fixed map[ledger.Symbol]decimal.Decimal
}

func NewPegged(next Oracle, fixed map[ledger.Symbol]decimal.Decimal) *Pegged {
	return &Pegged{next: next, fixed: fixed}
}

func DefaultPegs() map[ledger.Symbol]decimal.Decimal {
	return map[ledger.Symbol]decimal.Decimal{
		"USDT": decimal.NewFromInt(1),
		"USD":  decimal.NewFromInt(1),
	}
}

func (p *Pegged) Price(ctx context.Context, sym ledger.Symbol) (decimal.Decimal, error) {
	if price, ok := p.fixed[sym]; ok {
		return price, nil
	}
	return p.next.Price(ctx, sym)
}
