package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/AfshinJalili/kryptbroker/libs/logging"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/storage"
	"github.com/google/uuid"
)

func TestNewStrategyCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9A-F]{8}$`)
	for i := 0; i < 20; i++ {
		if code := newStrategyCode(); !pattern.MatchString(code) {
			t.Fatalf("unexpected code %q", code)
		}
	}
}

func TestCreateStrategyNormalizesAndMerges(t *testing.T) {
	f := newFixture(t)
	author := f.account(t, "author", nil)

	created, err := f.strategy.CreateStrategy(context.Background(), author, []AllocationInput{
		{Symbol: "btc", Amount: d("100")},
		{Symbol: "ETH", Amount: d("50")},
		{Symbol: "Btc", Amount: d("25")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.strategy.GetStrategy(context.Background(), created.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %v", got.Allocations)
	}
	if got.Allocations[0].Symbol != "BTC" || !got.Allocations[0].Amount.Equal(d("125")) {
		t.Fatalf("unexpected first allocation %v", got.Allocations[0])
	}
	if !got.TotalRequired().Equal(d("175")) {
		t.Fatalf("expected total 175, got %s", got.TotalRequired())
	}
}

func TestCreateStrategyValidation(t *testing.T) {
	f := newFixture(t)
	author := f.account(t, "author", nil)
	ctx := context.Background()

	cases := []struct {
		name string
		in   []AllocationInput
		want error
	}{
		{"empty", nil, ledger.ErrInvalidRequest},
		{"bad symbol", []AllocationInput{{Symbol: "B1C", Amount: d("1")}}, ledger.ErrInvalidRequest},
		{"blank symbol", []AllocationInput{{Symbol: " ", Amount: d("1")}}, ledger.ErrInvalidRequest},
		{"zero amount", []AllocationInput{{Symbol: "BTC", Amount: d("0")}}, ledger.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.strategy.CreateStrategy(ctx, author, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateStrategyRetriesCodeCollision(t *testing.T) {
	f := newFixture(t)
	author := f.account(t, "author", nil)
	codes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	f.strategy.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	ctx := context.Background()
	in := []AllocationInput{{Symbol: "BTC", Amount: d("1")}}

	first, err := f.strategy.CreateStrategy(ctx, author, in)
	if err != nil || first.Code != "AAAAAAAA" {
		t.Fatalf("first create: %v %v", first, err)
	}
	second, err := f.strategy.CreateStrategy(ctx, author, in)
	if err != nil || second.Code != "BBBBBBBB" {
		t.Fatalf("second create: %v %v", second, err)
	}
}

func TestGetStrategyNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.strategy.GetStrategy(context.Background(), "DEADBEEF"); !errors.Is(err, ledger.ErrStrategyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.strategy.GetStrategy(context.Background(), ""); !errors.Is(err, ledger.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func createStrategy(t *testing.T, f *fixture, allocations ...AllocationInput) string {
	t.Helper()
	author := f.account(t, "author-"+uuid.NewString()[:6], nil)
	s, err := f.strategy.CreateStrategy(context.Background(), author, allocations)
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	return s.Code
}

func TestExecuteStrategyInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	code := createStrategy(t, f, AllocationInput{Symbol: "BTC", Amount: d("100")}, AllocationInput{Symbol: "ETH", Amount: d("50")})
	a := f.account(t, "a", ledger.Balances{"USDT": d("100")})

	_, err := f.strategy.ExecuteStrategy(context.Background(), a, code)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !f.balances(t, a).Equal(ledger.Balances{"USDT": d("100")}) {
		t.Fatalf("balances changed: %v", f.balances(t, a))
	}
}

func TestExecuteStrategyAppliesAllLegs(t *testing.T) {
	f := newFixture(t)
	code := createStrategy(t, f, AllocationInput{Symbol: "BTC", Amount: d("100")}, AllocationInput{Symbol: "ETH", Amount: d("50")})
	a := f.account(t, "a", ledger.Balances{"USDT": d("200")})

	res, err := f.strategy.ExecuteStrategy(context.Background(), a, code)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := ledger.Balances{"USDT": d("50"), "BTC": d("0.002"), "ETH": d("0.02")}
	if !res.Balances.Equal(want) || !f.balances(t, a).Equal(want) {
		t.Fatalf("unexpected balances %v", res.Balances)
	}
	if len(res.Legs) != 2 || res.Legs[0].Symbol != "BTC" || !res.Legs[0].Received.Equal(d("0.002")) {
		t.Fatalf("unexpected legs %v", res.Legs)
	}
	if f.publisher.topics[len(f.publisher.topics)-1] != "copy.executions" {
		t.Fatalf("expected execution event, got %v", f.publisher.topics)
	}
}

func TestExecuteStrategyMissingPriceAppliesNothing(t *testing.T) {
	f := newFixture(t)
	code := createStrategy(t, f, AllocationInput{Symbol: "BTC", Amount: d("10")}, AllocationInput{Symbol: "DOGE", Amount: d("10")})
	a := f.account(t, "a", ledger.Balances{"USDT": d("100")})

	_, err := f.strategy.ExecuteStrategy(context.Background(), a, code)
	if !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	if !f.balances(t, a).Equal(ledger.Balances{"USDT": d("100")}) {
		t.Fatalf("partial execution: %v", f.balances(t, a))
	}
}

func TestExecuteStrategyUnknownCode(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"USDT": d("100")})
	if _, err := f.strategy.ExecuteStrategy(context.Background(), a, "NOPE1234"); !errors.Is(err, ledger.ErrStrategyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type codeCollidingStore struct {
	*storage.MemoryStore
}

func (codeCollidingStore) CreateStrategy(context.Context, storage.Strategy) (*storage.Strategy, error) {
	return nil, storage.ErrDuplicateStrategyCode
}

func TestCreateStrategyGivesUpAfterCollisions(t *testing.T) {
	mem := storage.NewMemory()
	author, err := mem.CreateAccount(context.Background(), storage.NewAccount{Username: "x", Email: "x@x.com"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	svc := NewStrategyService(codeCollidingStore{mem}, nil, nil, logging.Discard(), nil, Options{})
	_, err = svc.CreateStrategy(context.Background(), author.ID, []AllocationInput{{Symbol: "BTC", Amount: d("1")}})
	if !errors.Is(err, storage.ErrDuplicateStrategyCode) {
		t.Fatalf("expected duplicate code error, got %v", err)
	}
}
