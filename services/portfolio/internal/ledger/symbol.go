package ledger

import (
	"fmt"
	"regexp"
	"strings"
)

// Symbol is an asset ticker in canonical (uppercase) form. Build one with
// ParseSymbol so "btc" and "BTC" always end up as the same key.
type Symbol string

var symbolPattern = regexp.MustCompile(`^[A-Z]{1,15}$`)

func ParseSymbol(raw string) (Symbol, error) {
	canonical := strings.ToUpper(strings.TrimSpace(raw))
	if canonical == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if !symbolPattern.MatchString(canonical) {
		return "", fmt.Errorf("%w: symbol %q must be alphabetic", ErrInvalidRequest, raw)
	}
	return Symbol(canonical), nil
}

func MustSymbol(raw string) Symbol {
	sym, err := ParseSymbol(raw)
	if err != nil {
		panic(err)
	}
	return sym
}

func (s Symbol) String() string { return string(s) }
