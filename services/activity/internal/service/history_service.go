package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/activity/internal/storage"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var ErrInvalidQuery = errors.New("invalid history query")

var kinds = map[string]bool{
	storage.KindConversion:  true,
	storage.KindTransferOut: true,
	storage.KindTransferIn:  true,
	storage.KindStrategyLeg: true,
}

type Store interface {
	List(ctx context.Context, q storage.ListQuery) ([]storage.Entry, error)
}

type HistoryService struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

func NewHistoryService(store Store, logger *slog.Logger, metrics *Metrics) *HistoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryService{store: store, logger: logger, metrics: metrics}
}

type HistoryPage struct {
	Entries []storage.Entry
	// Next is the cursor for the following page, nil on the last one.
	Next *storage.Cursor
}

// History lists an account's activity newest first. A zero limit means the
// default page size.
func (s *HistoryService) History(ctx context.Context, accountID uuid.UUID, limit int, before *storage.Cursor, kind string) (*HistoryPage, error) {
	start := time.Now()
	if accountID == uuid.Nil {
		return nil, fmt.Errorf("%w: account id required", ErrInvalidQuery)
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 0 || limit > MaxPageSize {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxPageSize)
	}
	if kind != "" && !kinds[kind] {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, kind)
	}

	// One extra row tells us whether another page exists.
	entries, err := s.store.List(ctx, storage.ListQuery{AccountID: accountID, Limit: limit + 1, Before: before, Kind: kind})
	if err != nil {
		s.metrics.ObserveHistory("error", time.Since(start))
		return nil, fmt.Errorf("list activity: %w", err)
	}
	s.metrics.ObserveHistory("success", time.Since(start))

	page := &HistoryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[limit-1]
		page.Next = &storage.Cursor{At: last.OccurredAt, ID: last.ID}
	}
	return page, nil
}
