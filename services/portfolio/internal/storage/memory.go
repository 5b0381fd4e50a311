package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/google/uuid"
)

type memoryAccount struct {
	mu   sync.Mutex
	data *Account
}

// MemoryStore keeps accounts in process. Each account has its own mutex and
// UpdateAccounts takes them in ascending id order.
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[uuid.UUID]*memoryAccount
	byEmail    map[string]uuid.UUID
	byUsername map[string]uuid.UUID
	strategies map[string]Strategy
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[uuid.UUID]*memoryAccount),
		byEmail:    make(map[string]uuid.UUID),
		byUsername: make(map[string]uuid.UUID),
		strategies: make(map[string]Strategy),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) lookup(id uuid.UUID) (*memoryAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	return acct, ok
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*Account, error) {
	acct, ok := s.lookup(id)
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.data.clone(), nil
}

func (s *MemoryStore) FindAccount(ctx context.Context, key string) (*Account, error) {
	key = strings.TrimSpace(key)
	s.mu.RLock()
	id, ok := s.byEmail[key]
	if !ok {
		id, ok = s.byUsername[key]
	}
	s.mu.RUnlock()
	if !ok || key == "" {
		return nil, ledger.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id)
}

func (s *MemoryStore) CreateAccount(_ context.Context, in NewAccount) (*Account, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.Role == "" {
		in.Role = "user"
	}
	balances := in.Balances.Clone()
	if balances == nil {
		balances = ledger.Balances{}
	}
	now := time.Now().UTC()
	acct := &Account{
		ID:           in.ID,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		Balances:     balances,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[in.ID]; exists {
		return nil, ledger.ErrDuplicateAccount
	}
	if _, exists := s.byEmail[in.Email]; exists {
		return nil, ledger.ErrDuplicateAccount
	}
	if _, exists := s.byUsername[in.Username]; exists {
		return nil, ledger.ErrDuplicateAccount
	}
	s.accounts[in.ID] = &memoryAccount{data: acct}
	s.byEmail[in.Email] = in.ID
	s.byUsername[in.Username] = in.ID
	return acct.clone(), nil
}

func (s *MemoryStore) UpdateAccounts(_ context.Context, ids []uuid.UUID, apply ApplyFunc) error {
	ordered := lockOrder(ids)
	if len(ordered) == 0 {
		return fmt.Errorf("%w: no accounts to update", ledger.ErrInvalidRequest)
	}

	held := make([]*memoryAccount, 0, len(ordered))
	for _, id := range ordered {
		acct, ok := s.lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
		held = append(held, acct)
	}

	for _, acct := range held {
		acct.mu.Lock()
	}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
	}()

	working := make(map[uuid.UUID]*Account, len(held))
	for _, acct := range held {
		working[acct.data.ID] = acct.data.clone()
	}
	if err := apply(working); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, acct := range held {
		next := working[acct.data.ID]
		next.Version = acct.data.Version + 1
		next.UpdatedAt = now
		acct.data = next.clone()
	}
	return nil
}

func (s *MemoryStore) CreateStrategy(_ context.Context, strategy Strategy) (*Strategy, error) {
	if strategy.CreatedAt.IsZero() {
		strategy.CreatedAt = time.Now().UTC()
	}
	stored := strategy
	stored.Allocations = append([]Allocation(nil), strategy.Allocations...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.strategies[strategy.Code]; exists {
		return nil, ErrDuplicateStrategyCode
	}
	s.strategies[strategy.Code] = stored
	return &strategy, nil
}

func (s *MemoryStore) GetStrategy(_ context.Context, code string) (*Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	strategy, ok := s.strategies[code]
	if !ok {
		return nil, ledger.ErrStrategyNotFound
	}
	strategy.Allocations = append([]Allocation(nil), strategy.Allocations...)
	return &strategy, nil
}
