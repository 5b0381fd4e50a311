package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/kryptbroker/libs/kafka"
	"github.com/AfshinJalili/kryptbroker/services/activity/internal/storage"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Recorder interface {
	Record(ctx context.Context, eventID string, entries []storage.Entry) (bool, error)
}

type Metrics interface {
	IncEvent(eventType, status string)
}

// EventConsumer turns portfolio events into activity entries. Malformed
// events are dead-lettered; storage errors are returned for retry.
type EventConsumer struct {
	recorder Recorder
	logger   *slog.Logger
	metrics  Metrics
}

func NewEventConsumer(recorder Recorder, logger *slog.Logger, metrics Metrics) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{recorder: recorder, logger: logger, metrics: metrics}
}

func (c *EventConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty")
	}

	var env kafka.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.observe("unknown", "invalid")
		return kafka.DLQ(fmt.Errorf("decode envelope: %w", err), "decode")
	}
	if err := env.Validate(); err != nil {
		c.observe(env.EventType, "invalid")
		return kafka.DLQ(err, "invalid_envelope")
	}

	entries, err := c.entriesFor(env, msg.Value)
	if err != nil {
		c.observe(env.EventType, "invalid")
		return kafka.DLQ(err, "invalid_event")
	}

	inserted, err := c.recorder.Record(ctx, env.EventID, entries)
	if err != nil {
		c.observe(env.EventType, "error")
		return fmt.Errorf("record %s %s: %w", env.EventType, env.EventID, err)
	}
	if !inserted {
		c.logger.Info("event already recorded", "event_id", env.EventID, "event_type", env.EventType)
		c.observe(env.EventType, "duplicate")
		return nil
	}
	c.observe(env.EventType, "recorded")
	return nil
}

func (c *EventConsumer) observe(eventType, status string) {
	if c.metrics == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	c.metrics.IncEvent(eventType, status)
}

func (c *EventConsumer) entriesFor(env kafka.Envelope, raw []byte) ([]storage.Entry, error) {
	switch env.EventType {
	case conversionEventType:
		var event ConversionEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		return conversionEntries(event)
	case transferEventType:
		var event TransferEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		return transferEntries(event)
	case executionEventType:
		var event ExecutionEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		return executionEntries(event)
	default:
		return nil, fmt.Errorf("unexpected event_type: %s", env.EventType)
	}
}

func conversionEntries(e ConversionEvent) ([]storage.Entry, error) {
	account, err := parseUUID(e.AccountID, "account_id")
	if err != nil {
		return nil, err
	}
	from, err := parseSymbol(e.From, "from")
	if err != nil {
		return nil, err
	}
	to, err := parseSymbol(e.To, "to")
	if err != nil {
		return nil, err
	}
	fromAmount, err := parseAmount(e.FromAmount, "from_amount")
	if err != nil {
		return nil, err
	}
	toAmount, err := parseAmount(e.ToAmount, "to_amount")
	if err != nil {
		return nil, err
	}
	return []storage.Entry{{
		AccountID:      account,
		Kind:           storage.KindConversion,
		SentSymbol:     from,
		SentAmount:     fromAmount,
		ReceivedSymbol: to,
		ReceivedAmount: toAmount,
		CorrelationID:  e.CorrelationID,
		OccurredAt:     occurredAt(e.Envelope),
	}}, nil
}

// transferEntries yields one line for each side so both feeds show it.
func transferEntries(e TransferEvent) ([]storage.Entry, error) {
	sender, err := parseUUID(e.SenderID, "sender_id")
	if err != nil {
		return nil, err
	}
	recipient, err := parseUUID(e.RecipientID, "recipient_id")
	if err != nil {
		return nil, err
	}
	if sender == recipient {
		return nil, fmt.Errorf("sender and recipient are the same account")
	}
	symbol, err := parseSymbol(e.Symbol, "symbol")
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(e.Amount, "amount")
	if err != nil {
		return nil, err
	}
	at := occurredAt(e.Envelope)
	return []storage.Entry{
		{
			AccountID:     sender,
			Kind:          storage.KindTransferOut,
			SentSymbol:    symbol,
			SentAmount:    amount,
			Counterparty:  &recipient,
			CorrelationID: e.CorrelationID,
			OccurredAt:    at,
		},
		{
			AccountID:      recipient,
			Kind:           storage.KindTransferIn,
			ReceivedSymbol: symbol,
			ReceivedAmount: amount,
			Counterparty:   &sender,
			CorrelationID:  e.CorrelationID,
			OccurredAt:     at,
		},
	}, nil
}

func executionEntries(e ExecutionEvent) ([]storage.Entry, error) {
	account, err := parseUUID(e.AccountID, "account_id")
	if err != nil {
		return nil, err
	}
	reference, err := parseSymbol(e.Reference, "reference_symbol")
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(e.StrategyCode)
	if code == "" {
		return nil, fmt.Errorf("strategy_code is required")
	}
	if len(e.Legs) == 0 {
		return nil, fmt.Errorf("legs are required")
	}

	at := occurredAt(e.Envelope)
	entries := make([]storage.Entry, 0, len(e.Legs))
	for i, leg := range e.Legs {
		symbol, err := parseSymbol(leg.Symbol, fmt.Sprintf("legs[%d].symbol", i))
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(leg.Amount, fmt.Sprintf("legs[%d].amount", i))
		if err != nil {
			return nil, err
		}
		received, err := parseAmount(leg.Received, fmt.Sprintf("legs[%d].received", i))
		if err != nil {
			return nil, err
		}
		entries = append(entries, storage.Entry{
			Seq:            i,
			AccountID:      account,
			Kind:           storage.KindStrategyLeg,
			SentSymbol:     reference,
			SentAmount:     amount,
			ReceivedSymbol: symbol,
			ReceivedAmount: received,
			Reference:      code,
			CorrelationID:  e.CorrelationID,
			OccurredAt:     at,
		})
	}
	return entries, nil
}

func occurredAt(env kafka.Envelope) time.Time {
	return env.Timestamp.UTC()
}

func parseUUID(value, field string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, fmt.Errorf("%s is required", field)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", field)
	}
	return parsed, nil
}

func parseSymbol(value, field string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(value))
	if sym == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	return sym, nil
}

func parseAmount(value, field string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be decimal", field)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
