package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Record stores the entries derived from one event. It returns false when the
// event was already recorded, in which case nothing is written.
func (s *Store) Record(ctx context.Context, eventID string, entries []Entry) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("event id required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(`
			INSERT INTO activity_entries (
				id, event_id, seq, account_id, kind,
				sent_symbol, sent_amount, received_symbol, received_amount,
				counterparty_id, reference, correlation_id, occurred_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9::numeric, $10, $11, $12, $13)
		`, id, eventID, e.Seq, e.AccountID, e.Kind,
			nullString(e.SentSymbol), nullAmount(e.SentSymbol, e.SentAmount),
			nullString(e.ReceivedSymbol), nullAmount(e.ReceivedSymbol, e.ReceivedAmount),
			e.Counterparty, nullString(e.Reference), nullString(e.CorrelationID), e.OccurredAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, fmt.Errorf("insert activity entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the newest entries first.
func (s *Store) List(ctx context.Context, q ListQuery) ([]Entry, error) {
	var beforeAt *time.Time
	beforeID := uuid.Nil
	if q.Before != nil {
		at := q.Before.At
		beforeAt = &at
		beforeID = q.Before.ID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, seq, account_id, kind,
		       sent_symbol, sent_amount::text, received_symbol, received_amount::text,
		       counterparty_id, reference, correlation_id, occurred_at
		FROM activity_entries
		WHERE account_id = $1
		  AND ($2::timestamptz IS NULL OR (occurred_at, id) < ($2::timestamptz, $3::uuid))
		  AND ($4::text = '' OR kind = $4::text)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $5
	`, q.AccountID, beforeAt, beforeID, q.Kind, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var sentSym, sentAmt, recvSym, recvAmt *string
		var reference, correlationID *string
		if err := rows.Scan(&e.ID, &e.EventID, &e.Seq, &e.AccountID, &e.Kind,
			&sentSym, &sentAmt, &recvSym, &recvAmt,
			&e.Counterparty, &reference, &correlationID, &e.OccurredAt); err != nil {
			return nil, err
		}
		if e.SentAmount, err = parseAmount(sentAmt); err != nil {
			return nil, err
		}
		if e.ReceivedAmount, err = parseAmount(recvAmt); err != nil {
			return nil, err
		}
		e.SentSymbol = deref(sentSym)
		e.ReceivedSymbol = deref(recvSym)
		e.Reference = deref(reference)
		e.CorrelationID = deref(correlationID)
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullAmount(symbol string, amount decimal.Decimal) *string {
	if symbol == "" {
		return nil
	}
	v := amount.String()
	return &v
}

func parseAmount(s *string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse activity amount: %w", err)
	}
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
