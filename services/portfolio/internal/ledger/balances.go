package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Balances maps a canonical symbol to the quantity held. A missing entry
// reads as zero.
type Balances map[Symbol]decimal.Decimal

// FromRaw canonicalizes a stored balance map. Legacy documents may carry the
// same asset under several spellings ("btc", "BTC"); those are summed.
func FromRaw(raw map[string]decimal.Decimal) Balances {
	out := make(Balances, len(raw))
	for key, qty := range raw {
		sym := Symbol(strings.ToUpper(strings.TrimSpace(key)))
		if sym == "" {
			continue
		}
		out[sym] = out[sym].Add(qty)
	}
	return out
}

func (b Balances) Available(sym Symbol) decimal.Decimal {
	return b[sym]
}

func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for sym, qty := range b {
		out[sym] = qty
	}
	return out
}

// CanDebit reports whether amount of sym can fund an operation. An absent or
// zero entry never can.
func (b Balances) CanDebit(sym Symbol, amount decimal.Decimal) bool {
	held, ok := b[sym]
	if !ok || !held.IsPositive() {
		return false
	}
	return held.GreaterThanOrEqual(amount)
}

func (b Balances) Debit(sym Symbol, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: debit must be positive", ErrInvalidAmount)
	}
	if !b.CanDebit(sym, amount) {
		return fmt.Errorf("%w: %s available %s, requested %s", ErrInsufficientBalance, sym, b[sym].String(), amount.String())
	}
	b[sym] = b[sym].Sub(amount)
	return nil
}

func (b Balances) Credit(sym Symbol, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit must be positive", ErrInvalidAmount)
	}
	b[sym] = b[sym].Add(amount)
	return nil
}

// Strings renders quantities as decimal strings, the wire form of a portfolio.
func (b Balances) Strings() map[string]string {
	out := make(map[string]string, len(b))
	for sym, qty := range b {
		out[string(sym)] = qty.String()
	}
	return out
}

// Raw is the storage form, the inverse of FromRaw.
func (b Balances) Raw() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(b))
	for sym, qty := range b {
		out[string(sym)] = qty
	}
	return out
}

func (b Balances) Symbols() []Symbol {
	out := make([]Symbol, 0, len(b))
	for sym := range b {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b Balances) Equal(other Balances) bool {
	if len(b) != len(other) {
		return false
	}
	for sym, qty := range b {
		theirs, ok := other[sym]
		if !ok || !qty.Equal(theirs) {
			return false
		}
	}
	return true
}
