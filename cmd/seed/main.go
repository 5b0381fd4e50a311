package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AfshinJalili/kryptbroker/libs/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/argon2"
)

var (
	demoID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

const demoStrategyCode = "C0FFEE01"

type seedAccount struct {
	ID        uuid.UUID
	Username  string
	Email     string
	Password  string
	Portfolio map[string]string
}

var baseAccounts = []seedAccount{
	{
		ID:       demoID,
		Username: "demo",
		Email:    "demo@example.com",
		Password: "demo123",
		Portfolio: map[string]string{
			"USDT": "10000",
			"BTC":  "0.5",
			"ETH":  "2",
		},
	},
	{
		ID:       traderID,
		Username: "trader",
		Email:    "trader@example.com",
		Password: "trader123",
		Portfolio: map[string]string{
			"USDT": "50000",
			"BTC":  "1",
		},
	},
}

func main() {
	env := config.EnvString("KRYPT_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: KRYPT_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.LoadDB().DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedAccounts(ctx, pool, baseAccounts); err != nil {
		log.Fatalf("seed accounts: %v", err)
	}
	fmt.Println("✓ Accounts seeded")

	if err := seedStrategies(ctx, pool); err != nil {
		log.Fatalf("seed strategies: %v", err)
	}
	fmt.Println("✓ Strategies seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	for _, a := range baseAccounts {
		fmt.Printf("  %s / %s\n", a.Username, a.Password)
	}
	fmt.Printf("\nCopy-trade strategy: %s\n", demoStrategyCode)
}

type argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var seedArgon2 = argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// hashPassword must stay compatible with the auth service's verifier.
func hashPassword(password string, params argon2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash)
	return encoded, nil
}

// seedAccounts upserts by id. Balances are reset to the seed values so a
// re-seed restores a known state.
func seedAccounts(ctx context.Context, pool *pgxpool.Pool, accounts []seedAccount) error {
	now := time.Now()
	for _, a := range accounts {
		hash, err := hashPassword(a.Password, seedArgon2)
		if err != nil {
			return fmt.Errorf("hash %s password: %w", a.Username, err)
		}
		portfolio, err := json.Marshal(a.Portfolio)
		if err != nil {
			return fmt.Errorf("encode %s portfolio: %w", a.Username, err)
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO accounts (id, username, email, password_hash, role, portfolio, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'user', $5::jsonb, 0, $6, $6)
			ON CONFLICT (id) DO UPDATE
			SET username = EXCLUDED.username,
			    email = EXCLUDED.email,
			    password_hash = EXCLUDED.password_hash,
			    portfolio = EXCLUDED.portfolio,
			    version = accounts.version + 1,
			    updated_at = EXCLUDED.updated_at
		`, a.ID, a.Username, a.Email, hash, string(portfolio), now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", a.Username, err)
		}
	}
	return nil
}

func seedStrategies(ctx context.Context, pool *pgxpool.Pool) error {
	allocations, err := json.Marshal([]map[string]string{
		{"symbol": "BTC", "amount": "100"},
		{"symbol": "ETH", "amount": "50"},
	})
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO strategies (code, author_id, allocations, created_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (code) DO UPDATE
		SET allocations = EXCLUDED.allocations
	`, demoStrategyCode, traderID, string(allocations), time.Now())
	return err
}
