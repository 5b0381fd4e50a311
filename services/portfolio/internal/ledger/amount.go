package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxIntegerDigits caps the whole-number part of any quantity a client can
// submit. Together with QuantityPlaces it keeps decimal rescaling bounded.
const MaxIntegerDigits = 30

// CheckAmount accepts strictly positive amounts with at most QuantityPlaces
// fractional digits and MaxIntegerDigits whole digits.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if amount.Exponent() < -QuantityPlaces {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidAmount, QuantityPlaces)
	}
	if int64(amount.NumDigits())+int64(amount.Exponent()) > MaxIntegerDigits {
		return fmt.Errorf("%w: amount is too large", ErrInvalidAmount)
	}
	return nil
}

// ParseAmount parses a decimal string and applies CheckAmount.
func ParseAmount(text string) (decimal.Decimal, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount must be numeric", ErrInvalidAmount)
	}
	if err := CheckAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
