package storage

import (
	"bytes"
	"errors"
	"sort"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrDuplicateStrategyCode = errors.New("strategy code already exists")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// serialization_failure and deadlock_detected are both safe to retry.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func mapTxError(err error) error {
	if isRetryable(err) {
		return errors.Join(ledger.ErrConcurrentModification, err)
	}
	return err
}

// lockOrder dedupes ids and sorts them ascending. Every writer acquires
// account locks in this order.
func lockOrder(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
