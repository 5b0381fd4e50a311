package testutil

import (
	"time"

	"github.com/AfshinJalili/kryptbroker/libs/auth"
	"github.com/google/uuid"
)

// Seeded by cmd/seed; integration tests leave these rows in place.
var (
	DemoAccountID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

const (
	DemoUsername   = "demo"
	DemoEmail      = "demo@example.com"
	DemoPassword   = "demo123"
	TraderUsername = "trader"
	TraderEmail    = "trader@example.com"
	TraderPassword = "trader123"
)

func GenerateJWT(accountID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.IssueToken(accountID.String(), "test-user", "user", secret, ttl, now, "krypt-auth")
}
