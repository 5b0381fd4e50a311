package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Extra rows for manual testing: an account stored with legacy lowercase
// keys that collapse on read, and one with nothing to spend.
var testAccounts = []seedAccount{
	{
		ID:       uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		Username: "legacy",
		Email:    "legacy@example.com",
		Password: "legacy123",
		Portfolio: map[string]string{
			"btc":  "0.1",
			"BTC":  "0.2",
			"usdt": "25",
		},
	},
	{
		ID:        uuid.MustParse("00000000-0000-0000-0000-000000000004"),
		Username:  "broke",
		Email:     "broke@example.com",
		Password:  "broke123",
		Portfolio: map[string]string{},
	},
}

func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	return seedAccounts(ctx, pool, testAccounts)
}
