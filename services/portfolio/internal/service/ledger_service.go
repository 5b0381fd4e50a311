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

type ConvertInput struct {
	AccountID uuid.UUID
	From      string
	To        string
	Amount    decimal.Decimal
}

type ConvertResult struct {
	Conversion ledger.Conversion
	Balances   ledger.Balances
}

type TransferInput struct {
	SenderID     uuid.UUID
	RecipientKey string
	Symbol       string
	Amount       decimal.Decimal
}

type TransferResult struct {
	RecipientID uuid.UUID
	Symbol      ledger.Symbol
	Amount      decimal.Decimal
	Balances    ledger.Balances
}

type LedgerService struct {
	engine
}

func NewLedgerService(store Store, prices oracle.Oracle, publisher EventPublisher, logger *slog.Logger, metrics *Metrics, opts Options) *LedgerService {
	return &LedgerService{engine: newEngine(store, prices, publisher, logger, metrics, opts)}
}

func (s *LedgerService) GetBalances(ctx context.Context, accountID uuid.UUID) (ledger.Balances, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return acct.Balances, nil
}

// Convert swaps amount of From into To at current oracle prices. Prices are
// fetched before the account is locked; the balance is checked again once it is.
func (s *LedgerService) Convert(ctx context.Context, in ConvertInput) (res *ConvertResult, err error) {
	ctx, span := s.startSpan(ctx, "ledger.convert")
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("convert", err, time.Since(start))
		endSpan(span, err)
	}()

	if err := ledger.CheckAmount(in.Amount); err != nil {
		return nil, err
	}
	from, err := ledger.ParseSymbol(in.From)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseSymbol(in.To)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("account.id", in.AccountID.String()),
		attribute.String("convert.from", from.String()),
		attribute.String("convert.to", to.String()),
	)

	acct, err := s.store.GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if !acct.Balances.CanDebit(from, in.Amount) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInsufficientBalance, from)
	}

	fromPrice, err := s.price(ctx, from)
	if err != nil {
		return nil, err
	}
	toPrice, err := s.price(ctx, to)
	if err != nil {
		return nil, err
	}
	quote, err := ledger.QuoteConversion(from, to, in.Amount, fromPrice, toPrice)
	if err != nil {
		return nil, err
	}

	var after ledger.Balances
	err = s.update(ctx, "convert", []uuid.UUID{in.AccountID}, func(accounts map[uuid.UUID]*storage.Account) error {
		locked := accounts[in.AccountID]
		if err := quote.ApplyTo(locked.Balances); err != nil {
			return err
		}
		after = locked.Balances.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversion applied",
		"account_id", in.AccountID,
		"from", from,
		"to", to,
		"from_amount", quote.FromAmount.String(),
		"to_amount", quote.ToAmount.String(),
	)
	s.publishConversion(ctx, in.AccountID, quote)
	return &ConvertResult{Conversion: quote, Balances: after}, nil
}

// Transfer moves amount of a symbol to the account identified by email or
// username. Transfers to self are rejected.
func (s *LedgerService) Transfer(ctx context.Context, in TransferInput) (res *TransferResult, err error) {
	ctx, span := s.startSpan(ctx, "ledger.transfer")
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("transfer", err, time.Since(start))
		endSpan(span, err)
	}()

	if err := ledger.CheckAmount(in.Amount); err != nil {
		return nil, err
	}
	sym, err := ledger.ParseSymbol(in.Symbol)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.RecipientKey)
	if key == "" {
		return nil, fmt.Errorf("%w: recipient is required", ledger.ErrInvalidRequest)
	}
	span.SetAttributes(
		attribute.String("account.id", in.SenderID.String()),
		attribute.String("transfer.symbol", sym.String()),
	)

	sender, err := s.store.GetAccount(ctx, in.SenderID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.store.FindAccount(ctx, key)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, ledger.ErrRecipientNotFound
		}
		return nil, err
	}
	if recipient.ID == sender.ID {
		return nil, ledger.ErrSelfTransfer
	}
	if !sender.Balances.CanDebit(sym, in.Amount) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInsufficientBalance, sym)
	}

	var after ledger.Balances
	ids := []uuid.UUID{sender.ID, recipient.ID}
	err = s.update(ctx, "transfer", ids, func(accounts map[uuid.UUID]*storage.Account) error {
		from, to := accounts[sender.ID], accounts[recipient.ID]
		if err := ledger.Transfer(from.Balances, to.Balances, sym, in.Amount); err != nil {
			return err
		}
		after = from.Balances.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer applied",
		"sender_id", sender.ID,
		"recipient_id", recipient.ID,
		"symbol", sym,
		"amount", in.Amount.String(),
	)
	s.publishTransfer(ctx, sender.ID, recipient.ID, sym, in.Amount)
	return &TransferResult{
		RecipientID: recipient.ID,
		Symbol:      sym,
		Amount:      in.Amount,
		Balances:    after,
	}, nil
}

func (s *LedgerService) publishConversion(ctx context.Context, accountID uuid.UUID, q ledger.Conversion) {
	env, err := newEnvelope(ctx, eventConversion)
	if err != nil {
		s.logger.Error("build conversion event", "error", err)
		return
	}
	s.publish(ctx, s.opts.Topics.Conversions, accountID.String(), ConversionEvent{
		Envelope:   env,
		AccountID:  accountID.String(),
		From:       q.From.String(),
		To:         q.To.String(),
		FromAmount: q.FromAmount.String(),
		ToAmount:   q.ToAmount.String(),
		FromPrice:  q.FromPrice.String(),
		ToPrice:    q.ToPrice.String(),
	})
}

func (s *LedgerService) publishTransfer(ctx context.Context, senderID, recipientID uuid.UUID, sym ledger.Symbol, amount decimal.Decimal) {
	env, err := newEnvelope(ctx, eventTransfer)
	if err != nil {
		s.logger.Error("build transfer event", "error", err)
		return
	}
	s.publish(ctx, s.opts.Topics.Transfers, senderID.String(), TransferEvent{
		Envelope:    env,
		SenderID:    senderID.String(),
		RecipientID: recipientID.String(),
		Symbol:      sym.String(),
		Amount:      amount.String(),
	})
}
