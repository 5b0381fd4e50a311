package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestParseAmountAcceptsBoundedValues(t *testing.T) {
	cases := []struct{ raw, want string }{
		{"1.5", "1.5"},
		{" 0.000000000000000001", "0.000000000000000001"},
		{"2e3", "2000"},
		{"999999999999999999999999999999", "999999999999999999999999999999"},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if !got.Equal(d(tc.want)) {
			t.Fatalf("parse %q: expected %s, got %s", tc.raw, tc.want, got)
		}
	}
}

func TestParseAmountRejectsUnboundedExponents(t *testing.T) {
	for _, raw := range []string{
		"1e20000000",
		"1e-2000000000",
		"1e31",
		"1000000000000000000000000000000",
		"0.0000000000000000001",
		"",
		"abc",
		"0",
		"-1",
	} {
		start := time.Now()
		_, err := ParseAmount(raw)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("parse %q: expected invalid amount, got %v", raw, err)
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Fatalf("parse %q took %s", raw, elapsed)
		}
	}
}

func TestQuoteConversionRejectsOversizedAmount(t *testing.T) {
	_, err := QuoteConversion("BTC", "USDT", d("1e20000000"), d("1"), d("1"))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
