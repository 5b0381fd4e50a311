package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AfshinJalili/kryptbroker/libs/logging"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/oracle"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
	err    error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, topic, _ string, value any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, value)
	return 0, int64(len(p.events)), p.err
}

type fixture struct {
	store     *storage.MemoryStore
	prices    oracle.Static
	publisher *recordingPublisher
	ledger    *LedgerService
	strategy  *StrategyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemory(),
		prices: oracle.Static{
			"BTC":  d("50000"),
			"ETH":  d("2500"),
			"USDT": d("1"),
		},
		publisher: &recordingPublisher{},
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	f.ledger = NewLedgerService(f.store, f.prices, f.publisher, logging.Discard(), metrics, Options{})
	f.strategy = NewStrategyService(f.store, f.prices, f.publisher, logging.Discard(), metrics, Options{})
	return f
}

func (f *fixture) account(t *testing.T, name string, balances ledger.Balances) uuid.UUID {
	t.Helper()
	acct, err := f.store.CreateAccount(context.Background(), storage.NewAccount{
		Username: name,
		Email:    name + "@x.com",
		Balances: balances,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct.ID
}

func (f *fixture) balances(t *testing.T, id uuid.UUID) ledger.Balances {
	t.Helper()
	b, err := f.ledger.GetBalances(context.Background(), id)
	if err != nil {
		t.Fatalf("get balances: %v", err)
	}
	return b
}

func TestConvertScenario(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"BTC": d("1.0")})

	res, err := f.ledger.Convert(context.Background(), ConvertInput{AccountID: a, From: "btc", To: "usdt", Amount: d("0.5")})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !res.Conversion.ToAmount.Equal(d("25000")) {
		t.Fatalf("expected 25000, got %s", res.Conversion.ToAmount)
	}
	want := ledger.Balances{"BTC": d("0.5"), "USDT": d("25000")}
	if !res.Balances.Equal(want) || !f.balances(t, a).Equal(want) {
		t.Fatalf("unexpected balances %v", res.Balances)
	}
	if len(f.publisher.topics) != 1 || f.publisher.topics[0] != "portfolio.conversions" {
		t.Fatalf("expected conversion event, got %v", f.publisher.topics)
	}
}

func TestConvertInsufficientBalanceLeavesBalances(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"BTC": d("0.1")})

	_, err := f.ledger.Convert(context.Background(), ConvertInput{AccountID: a, From: "BTC", To: "ETH", Amount: d("0.2")})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !f.balances(t, a).Equal(ledger.Balances{"BTC": d("0.1")}) {
		t.Fatalf("balances changed")
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("no event expected on failure")
	}
}

func TestConvertValidation(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"BTC": d("1")})
	ctx := context.Background()

	cases := []struct {
		name string
		in   ConvertInput
		want error
	}{
		{"zero amount", ConvertInput{AccountID: a, From: "BTC", To: "ETH", Amount: d("0")}, ledger.ErrInvalidAmount},
		{"negative amount", ConvertInput{AccountID: a, From: "BTC", To: "ETH", Amount: d("-1")}, ledger.ErrInvalidAmount},
		{"empty symbol", ConvertInput{AccountID: a, From: "", To: "ETH", Amount: d("1")}, ledger.ErrInvalidRequest},
		{"unknown account", ConvertInput{AccountID: uuid.New(), From: "BTC", To: "ETH", Amount: d("1")}, ledger.ErrAccountNotFound},
		{"unpriced symbol", ConvertInput{AccountID: a, From: "BTC", To: "DOGE", Amount: d("1")}, ledger.ErrPriceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.ledger.Convert(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if !f.balances(t, a).Equal(ledger.Balances{"BTC": d("1")}) {
		t.Fatalf("balances changed by failed conversions")
	}
}

func TestConvertConservation(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"ETH": d("3"), "BTC": d("0.01")})
	before := f.balances(t, a)

	n := d("1.37")
	if _, err := f.ledger.Convert(context.Background(), ConvertInput{AccountID: a, From: "eth", To: "btc", Amount: n}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	after := f.balances(t, a)
	if !after["ETH"].Equal(before["ETH"].Sub(n)) {
		t.Fatalf("unexpected ETH %s", after["ETH"])
	}
	expected := before["BTC"].Add(n.Mul(d("2500")).Div(d("50000")))
	if !after["BTC"].Equal(expected) {
		t.Fatalf("expected BTC %s, got %s", expected, after["BTC"])
	}
}

func TestGetBalancesIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"BTC": d("1"), "USDT": d("3")})
	if !f.balances(t, a).Equal(f.balances(t, a)) {
		t.Fatalf("consecutive reads differ")
	}
	if _, err := f.ledger.GetBalances(context.Background(), uuid.New()); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransferRecipientNotFound(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"USDT": d("10")})

	_, err := f.ledger.Transfer(context.Background(), TransferInput{SenderID: a, RecipientKey: "nonexistent@x.com", Symbol: "USDT", Amount: d("5")})
	if !errors.Is(err, ledger.ErrRecipientNotFound) {
		t.Fatalf("expected recipient not found, got %v", err)
	}
	if !f.balances(t, a).Equal(ledger.Balances{"USDT": d("10")}) {
		t.Fatalf("sender balance changed")
	}
}

func TestTransferByEmailAndUsername(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"USDT": d("10")})
	b := f.account(t, "b", nil)
	ctx := context.Background()

	if _, err := f.ledger.Transfer(ctx, TransferInput{SenderID: a, RecipientKey: "b@x.com", Symbol: "usdt", Amount: d("4")}); err != nil {
		t.Fatalf("transfer by email: %v", err)
	}
	res, err := f.ledger.Transfer(ctx, TransferInput{SenderID: a, RecipientKey: "b", Symbol: "USDT", Amount: d("1.5")})
	if err != nil {
		t.Fatalf("transfer by username: %v", err)
	}
	if res.RecipientID != b {
		t.Fatalf("unexpected recipient %s", res.RecipientID)
	}

	sa, sb := f.balances(t, a), f.balances(t, b)
	if !sa["USDT"].Equal(d("4.5")) || !sb["USDT"].Equal(d("5.5")) {
		t.Fatalf("unexpected balances %v %v", sa, sb)
	}
	if !sa["USDT"].Add(sb["USDT"]).Equal(d("10")) {
		t.Fatalf("sum not conserved")
	}
	if len(f.publisher.topics) != 2 || f.publisher.topics[1] != "portfolio.transfers" {
		t.Fatalf("expected two transfer events, got %v", f.publisher.topics)
	}
}

func TestTransferRejectsSelf(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"USDT": d("10")})

	_, err := f.ledger.Transfer(context.Background(), TransferInput{SenderID: a, RecipientKey: "a@x.com", Symbol: "USDT", Amount: d("1")})
	if !errors.Is(err, ledger.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"USDT": d("10")})
	b := f.account(t, "b", ledger.Balances{"USDT": d("1")})

	_, err := f.ledger.Transfer(context.Background(), TransferInput{SenderID: a, RecipientKey: "b", Symbol: "USDT", Amount: d("10.01")})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !f.balances(t, a)["USDT"].Equal(d("10")) || !f.balances(t, b)["USDT"].Equal(d("1")) {
		t.Fatalf("balances changed")
	}
}

func TestConcurrentTransfersExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"USDT": d("8")})
	f.account(t, "b", nil)

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.ledger.Transfer(context.Background(), TransferInput{SenderID: a, RecipientKey: "b", Symbol: "USDT", Amount: d("5")})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientBalance):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected one success and one rejection, got %d/%d", succeeded, rejected)
	}
	if !f.balances(t, a)["USDT"].Equal(d("3")) {
		t.Fatalf("expected 3, got %s", f.balances(t, a)["USDT"])
	}
}

func TestBalancesNeverNegativeUnderLoad(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"USDT": d("100"), "BTC": d("0.01")})
	b := f.account(t, "b", ledger.Balances{"USDT": d("100")})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Transfer(ctx, TransferInput{SenderID: a, RecipientKey: "b", Symbol: "USDT", Amount: d("7")})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Transfer(ctx, TransferInput{SenderID: b, RecipientKey: "a", Symbol: "USDT", Amount: d("5")})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Convert(ctx, ConvertInput{AccountID: a, From: "USDT", To: "BTC", Amount: d("3")})
		}()
	}
	wg.Wait()

	for _, id := range []uuid.UUID{a, b} {
		for sym, qty := range f.balances(t, id) {
			if qty.IsNegative() {
				t.Fatalf("negative balance %s %s", sym, qty)
			}
		}
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	a := f.account(t, "a", ledger.Balances{"BTC": d("1")})

	if _, err := f.ledger.Convert(context.Background(), ConvertInput{AccountID: a, From: "BTC", To: "USDT", Amount: d("0.5")}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !f.balances(t, a)["USDT"].Equal(d("25000")) {
		t.Fatalf("conversion not persisted")
	}
}

type flakyStore struct {
	Store
	failures int
	calls    int
}

func (s *flakyStore) UpdateAccounts(ctx context.Context, ids []uuid.UUID, apply storage.ApplyFunc) error {
	s.calls++
	if s.calls <= s.failures {
		return ledger.ErrConcurrentModification
	}
	return s.Store.UpdateAccounts(ctx, ids, apply)
}

func TestConcurrentModificationRetried(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a", ledger.Balances{"BTC": d("1")})

	flaky := &flakyStore{Store: f.store, failures: 2}
	svc := NewLedgerService(flaky, f.prices, nil, logging.Discard(), nil, Options{})
	if _, err := svc.Convert(context.Background(), ConvertInput{AccountID: a, From: "BTC", To: "USDT", Amount: d("0.1")}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.calls)
	}

	flaky = &flakyStore{Store: f.store, failures: 3}
	svc = NewLedgerService(flaky, f.prices, nil, logging.Discard(), nil, Options{})
	_, err := svc.Convert(context.Background(), ConvertInput{AccountID: a, From: "BTC", To: "USDT", Amount: d("0.1")})
	if !errors.Is(err, ledger.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}
