package storage

import (
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Balances     ledger.Balances
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a *Account) clone() *Account {
	out := *a
	out.Balances = a.Balances.Clone()
	return &out
}

type NewAccount struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Balances     ledger.Balances
}

// Allocation is denominated in the reference currency.
type Allocation struct {
	Symbol ledger.Symbol   `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

type Strategy struct {
	Code        string
	AuthorID    uuid.UUID
	Allocations []Allocation
	CreatedAt   time.Time
}

func (s Strategy) TotalRequired() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// ApplyFunc mutates the locked accounts in place. Returning an error discards
// every change.
type ApplyFunc func(accounts map[uuid.UUID]*Account) error
