package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("account not found")
	ErrDuplicate = errors.New("account already exists")
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAccount inserts a row with an empty portfolio.
func (s *Store) CreateAccount(ctx context.Context, in NewAccount) (*Account, error) {
	role := in.Role
	if role == "" {
		role = DefaultRole
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, role, portfolio, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '{}'::jsonb, 0, now(), now())
		RETURNING id, username, email, password_hash, role, created_at
	`, uuid.New(), in.Username, in.Email, in.PasswordHash, role)

	account, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, role, created_at
		FROM accounts
		WHERE username = $1
	`, username)
	return lookup(row)
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, role, created_at
		FROM accounts
		WHERE id = $1
	`, id)
	return lookup(row)
}

func lookup(row pgx.Row) (*Account, error) {
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
