package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseSymbol(t *testing.T) {
	cases := map[string]Symbol{"btc": "BTC", " Eth ": "ETH", "USDT": "USDT"}
	for raw, want := range cases {
		got, err := ParseSymbol(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
	for _, raw := range []string{"", "  ", "BT C", "btc1", "$$", "ABCDEFGHIJKLMNOP"} {
		if _, err := ParseSymbol(raw); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("parse %q: expected invalid request, got %v", raw, err)
		}
	}
}

func TestFromRawSumsCollapsedKeys(t *testing.T) {
	b := FromRaw(map[string]decimal.Decimal{
		"btc":  d("0.25"),
		"BTC":  d("1"),
		"Eth":  d("2"),
		"   ":  d("9"),
		"usdt": d("10"),
	})
	if len(b) != 3 {
		t.Fatalf("expected 3 symbols, got %v", b)
	}
	if !b["BTC"].Equal(d("1.25")) {
		t.Fatalf("expected BTC 1.25, got %s", b["BTC"])
	}
	if !b.Available("ETH").Equal(d("2")) {
		t.Fatalf("expected ETH 2, got %s", b["ETH"])
	}
	if !b.Available("SOL").IsZero() {
		t.Fatalf("expected missing symbol to read as zero")
	}
}

func TestDebitRejectsOverdraft(t *testing.T) {
	b := Balances{"USDT": d("10")}
	if err := b.Debit("USDT", d("10.0001")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := b.Debit("BTC", d("1")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance for absent symbol, got %v", err)
	}
	if !b["USDT"].Equal(d("10")) {
		t.Fatalf("balance changed after failed debit: %s", b["USDT"])
	}
	if err := b.Debit("USDT", d("10")); err != nil {
		t.Fatalf("debit full balance: %v", err)
	}
	if !b["USDT"].IsZero() {
		t.Fatalf("expected zero, got %s", b["USDT"])
	}
	if err := b.Debit("USDT", d("0.1")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected zero balance to be unspendable, got %v", err)
	}
}

func TestDebitCreditRequirePositive(t *testing.T) {
	b := Balances{"USDT": d("10")}
	if err := b.Debit("USDT", d("0")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := b.Credit("USDT", d("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestQuoteConversionScenario(t *testing.T) {
	b := Balances{"BTC": d("1.0")}
	q, err := QuoteConversion("BTC", "USDT", d("0.5"), d("50000"), d("1"))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.ToAmount.Equal(d("25000")) {
		t.Fatalf("expected 25000, got %s", q.ToAmount)
	}
	if err := q.ApplyTo(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !b["BTC"].Equal(d("0.5")) || !b["USDT"].Equal(d("25000")) {
		t.Fatalf("unexpected balances %v", b)
	}
}

func TestQuoteConversionConservation(t *testing.T) {
	fromPrice, toPrice := d("3120.55"), d("64000.10")
	amount := d("1.2345")
	before := Balances{"ETH": d("2"), "BTC": d("0.1")}
	after := before.Clone()

	q, err := QuoteConversion("ETH", "BTC", amount, fromPrice, toPrice)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if err := q.ApplyTo(after); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !after["ETH"].Equal(before["ETH"].Sub(amount)) {
		t.Fatalf("unexpected ETH %s", after["ETH"])
	}
	expected := before["BTC"].Add(amount.Mul(fromPrice).Div(toPrice))
	tolerance := d("0.000000000000001")
	if after["BTC"].Sub(expected).Abs().GreaterThan(tolerance) {
		t.Fatalf("expected BTC ~%s, got %s", expected, after["BTC"])
	}
}

func TestQuoteConversionSameSymbol(t *testing.T) {
	b := Balances{"BTC": d("1")}
	q, err := QuoteConversion("BTC", "BTC", d("0.4"), d("50000"), d("50000"))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if err := q.ApplyTo(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !b["BTC"].Equal(d("1")) {
		t.Fatalf("expected unchanged BTC, got %s", b["BTC"])
	}
}

func TestQuoteConversionRejectsBadPrices(t *testing.T) {
	if _, err := QuoteConversion("BTC", "USDT", d("1"), d("0"), d("1")); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	if _, err := QuoteConversion("BTC", "USDT", d("1"), d("1"), d("-2")); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	if _, err := QuoteConversion("BTC", "USDT", d("0"), d("1"), d("1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestApplyToLeavesBalancesOnFailure(t *testing.T) {
	b := Balances{"BTC": d("0.1")}
	q, err := QuoteConversion("BTC", "USDT", d("0.5"), d("50000"), d("1"))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if err := q.ApplyTo(b); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if len(b) != 1 || !b["BTC"].Equal(d("0.1")) {
		t.Fatalf("balances mutated: %v", b)
	}
}

func TestTransferConservation(t *testing.T) {
	from := Balances{"USDT": d("8")}
	to := Balances{"USDT": d("1.5")}
	total := from["USDT"].Add(to["USDT"])

	if err := Transfer(from, to, "USDT", d("5")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !from["USDT"].Add(to["USDT"]).Equal(total) {
		t.Fatalf("sum changed: %s + %s", from["USDT"], to["USDT"])
	}
	if err := Transfer(from, to, "USDT", d("5")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !from["USDT"].Equal(d("3")) || !to["USDT"].Equal(d("6.5")) {
		t.Fatalf("unexpected balances %v %v", from, to)
	}
}

func TestSelfTransferIsInvalidRequest(t *testing.T) {
	if !errors.Is(ErrSelfTransfer, ErrInvalidRequest) {
		t.Fatalf("self transfer should be an invalid request")
	}
}
