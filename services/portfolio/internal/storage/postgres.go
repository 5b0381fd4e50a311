package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, username, email, password_hash, role, portfolio, version, created_at, updated_at`

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

// FindAccount resolves key as an email first and as a username second.
func (s *Store) FindAccount(ctx context.Context, key string) (*Account, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ledger.ErrAccountNotFound
	}
	for _, column := range []string{"email", "username"} {
		row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1`, key)
		acct, err := scanAccount(row)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	return nil, ledger.ErrAccountNotFound
}

func (s *Store) CreateAccount(ctx context.Context, in NewAccount) (*Account, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.Role == "" {
		in.Role = "user"
	}
	portfolio, err := encodeBalances(in.Balances)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, role, portfolio, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, 0, now(), now())
		RETURNING `+accountColumns,
		in.ID, in.Username, in.Email, in.PasswordHash, in.Role, portfolio)
	acct, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ledger.ErrDuplicateAccount
		}
		return nil, err
	}
	return acct, nil
}

// UpdateAccounts row-locks every account in ascending id order, runs apply on
// the locked snapshots and writes all of them back in the same transaction.
func (s *Store) UpdateAccounts(ctx context.Context, ids []uuid.UUID, apply ApplyFunc) error {
	ordered := lockOrder(ids)
	if len(ordered) == 0 {
		return fmt.Errorf("%w: no accounts to update", ledger.ErrInvalidRequest)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	params := make([]string, len(ordered))
	for i, id := range ordered {
		params[i] = id.String()
	}
	rows, err := tx.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, params)
	if err != nil {
		return mapTxError(err)
	}

	locked := make(map[uuid.UUID]*Account, len(ordered))
	versions := make(map[uuid.UUID]int64, len(ordered))
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return mapTxError(err)
		}
		locked[acct.ID] = acct
		versions[acct.ID] = acct.Version
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapTxError(err)
	}
	for _, id := range ordered {
		if _, ok := locked[id]; !ok {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
	}

	if err := apply(locked); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, id := range ordered {
		acct := locked[id]
		portfolio, err := encodeBalances(acct.Balances)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET portfolio = $1::jsonb, version = version + 1, updated_at = $2
			WHERE id = $3 AND version = $4
		`, portfolio, now, id, versions[id])
		if err != nil {
			return mapTxError(err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: account %s changed underneath", ledger.ErrConcurrentModification, id)
		}
		acct.Version = versions[id] + 1
		acct.UpdatedAt = now
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTxError(err)
	}
	committed = true
	return nil
}

func (s *Store) CreateStrategy(ctx context.Context, strategy Strategy) (*Strategy, error) {
	allocations, err := json.Marshal(strategy.Allocations)
	if err != nil {
		return nil, fmt.Errorf("encode allocations: %w", err)
	}
	if strategy.CreatedAt.IsZero() {
		strategy.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategies (code, author_id, allocations, created_at)
		VALUES ($1, $2, $3::jsonb, $4)
	`, strategy.Code, strategy.AuthorID, string(allocations), strategy.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateStrategyCode
		}
		return nil, err
	}
	return &strategy, nil
}

func (s *Store) GetStrategy(ctx context.Context, code string) (*Strategy, error) {
	var (
		strategy Strategy
		raw      []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT code, author_id, allocations, created_at
		FROM strategies
		WHERE code = $1
	`, code).Scan(&strategy.Code, &strategy.AuthorID, &raw, &strategy.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrStrategyNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &strategy.Allocations); err != nil {
		return nil, fmt.Errorf("decode allocations for %s: %w", code, err)
	}
	return &strategy, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		acct      Account
		portfolio []byte
	)
	if err := row.Scan(&acct.ID, &acct.Username, &acct.Email, &acct.PasswordHash, &acct.Role,
		&portfolio, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	balances, err := decodeBalances(portfolio)
	if err != nil {
		return nil, fmt.Errorf("decode portfolio for %s: %w", acct.ID, err)
	}
	acct.Balances = balances
	return &acct, nil
}

// decodeBalances accepts quantities stored either as JSON numbers or strings.
func decodeBalances(raw []byte) (ledger.Balances, error) {
	if len(raw) == 0 {
		return ledger.Balances{}, nil
	}
	var stored map[string]decimal.Decimal
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	return ledger.FromRaw(stored), nil
}

func encodeBalances(b ledger.Balances) (string, error) {
	if b == nil {
		return "{}", nil
	}
	out, err := json.Marshal(b.Strings())
	if err != nil {
		return "", fmt.Errorf("encode portfolio: %w", err)
	}
	return string(out), nil
}
