package service

import (
	"context"

	"github.com/AfshinJalili/kryptbroker/libs/kafka"
)

const (
	eventConversion = "portfolio.conversion"
	eventTransfer   = "portfolio.transfer"
	eventExecution  = "copy.execution"
)

type ConversionEvent struct {
	kafka.Envelope
	AccountID  string `json:"account_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	FromAmount string `json:"from_amount"`
	ToAmount   string `json:"to_amount"`
	FromPrice  string `json:"from_price"`
	ToPrice    string `json:"to_price"`
}

type TransferEvent struct {
	kafka.Envelope
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Symbol      string `json:"symbol"`
	Amount      string `json:"amount"`
}

type ExecutionEvent struct {
	kafka.Envelope
	AccountID     string         `json:"account_id"`
	StrategyCode  string         `json:"strategy_code"`
	Reference     string         `json:"reference_symbol"`
	TotalRequired string         `json:"total_required"`
	Legs          []ExecutionLeg `json:"legs"`
}

type ExecutionLeg struct {
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
	Received string `json:"received"`
}

func newEnvelope(ctx context.Context, eventType string) (kafka.Envelope, error) {
	return kafka.NewEnvelope(eventType, 1, correlationID(ctx))
}
