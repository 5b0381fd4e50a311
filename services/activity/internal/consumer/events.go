package consumer

import "github.com/AfshinJalili/kryptbroker/libs/kafka"

const (
	conversionEventType = "portfolio.conversion"
	transferEventType   = "portfolio.transfer"
	executionEventType  = "copy.execution"
)

type ConversionEvent struct {
	kafka.Envelope
	AccountID  string `json:"account_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	FromAmount string `json:"from_amount"`
	ToAmount   string `json:"to_amount"`
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
	AccountID    string         `json:"account_id"`
	StrategyCode string         `json:"strategy_code"`
	Reference    string         `json:"reference_symbol"`
	Legs         []ExecutionLeg `json:"legs"`
}

type ExecutionLeg struct {
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
	Received string `json:"received"`
}
