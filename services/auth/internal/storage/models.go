package storage

import (
	"time"

	"github.com/google/uuid"
)

const DefaultRole = "user"

// Account is the credential side of a broker account. Balances live in the
// same row but are owned by the portfolio service.
type Account struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type NewAccount struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}
