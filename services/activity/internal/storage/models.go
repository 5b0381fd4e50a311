package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	KindConversion  = "conversion"
	KindTransferOut = "transfer_out"
	KindTransferIn  = "transfer_in"
	KindStrategyLeg = "strategy_leg"
)

// Entry is one line of an account's activity feed. A side with an empty
// symbol did not move (a received transfer has nothing sent).
type Entry struct {
	ID             uuid.UUID
	EventID        string
	Seq            int
	AccountID      uuid.UUID
	Kind           string
	SentSymbol     string
	SentAmount     decimal.Decimal
	ReceivedSymbol string
	ReceivedAmount decimal.Decimal
	Counterparty   *uuid.UUID
	Reference      string
	CorrelationID  string
	OccurredAt     time.Time
}

type ListQuery struct {
	AccountID uuid.UUID
	Limit     int
	Before    *Cursor
	Kind      string
}

// Cursor points at the last entry of a page. Entries sharing a timestamp are
// ordered by id so pages never skip or repeat rows.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

func (c Cursor) String() string {
	return c.At.UTC().Format(time.RFC3339Nano) + "_" + c.ID.String()
}

func ParseCursor(s string) (Cursor, error) {
	at, id, ok := strings.Cut(strings.TrimSpace(s), "_")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor time: %w", err)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor id: %w", err)
	}
	return Cursor{At: t, ID: u}, nil
}
