package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityPlaces bounds the scale of derived quantities.
const QuantityPlaces = 18

// Conversion is a priced swap of FromAmount units of From into To.
type Conversion struct {
	From            Symbol
	To              Symbol
	FromAmount      decimal.Decimal
	FromPrice       decimal.Decimal
	ToPrice         decimal.Decimal
	ReferenceAmount decimal.Decimal
	ToAmount        decimal.Decimal
}

// QuoteConversion prices a conversion through the reference currency:
// toAmount = fromAmount * fromPrice / toPrice. From == To is not special-cased.
func QuoteConversion(from, to Symbol, fromAmount, fromPrice, toPrice decimal.Decimal) (Conversion, error) {
	if err := CheckAmount(fromAmount); err != nil {
		return Conversion{}, err
	}
	if !fromPrice.IsPositive() {
		return Conversion{}, fmt.Errorf("%w: non-positive price for %s", ErrPriceUnavailable, from)
	}
	if !toPrice.IsPositive() {
		return Conversion{}, fmt.Errorf("%w: non-positive price for %s", ErrPriceUnavailable, to)
	}

	reference := fromAmount.Mul(fromPrice)
	toAmount := reference.DivRound(toPrice, QuantityPlaces)
	if !toAmount.IsPositive() {
		return Conversion{}, fmt.Errorf("%w: converted amount rounds to zero", ErrInvalidAmount)
	}
	return Conversion{
		From:            from,
		To:              to,
		FromAmount:      fromAmount,
		FromPrice:       fromPrice,
		ToPrice:         toPrice,
		ReferenceAmount: reference,
		ToAmount:        toAmount,
	}, nil
}

// ApplyTo debits and credits b. On error b is left untouched.
func (c Conversion) ApplyTo(b Balances) error {
	if err := b.Debit(c.From, c.FromAmount); err != nil {
		return err
	}
	return b.Credit(c.To, c.ToAmount)
}

// Transfer moves amount of sym from one balance map to another. On error
// neither map is modified.
func Transfer(from, to Balances, sym Symbol, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if err := from.Debit(sym, amount); err != nil {
		return err
	}
	return to.Credit(sym, amount)
}
