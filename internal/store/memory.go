package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/webhooks/internal/models"
)

// MemoryStore is an in-process TransactionStore for local runs and tests.
// Records are copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]models.Transaction),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[tx.TransactionID]; exists {
		return ErrAlreadyExists
	}
	// same limits the postgres column enforces
	if !tx.Amount.IsPositive() || !models.AmountScaleOK(tx.Amount) || !models.AmountInRange(tx.Amount) {
		return ErrRejected
	}
	m.transactions[tx.TransactionID] = clone(*tx)
	return nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, from, to models.TransactionStatus, processedAt time.Time, reason string) error {
	if err := validateTransition(from, to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.transactions[id]
	if !exists {
		return ErrNotFound
	}
	if tx.Status != from {
		return ErrConflict
	}

	at := processedAt.UTC()
	tx.Status = to
	tx.ProcessedAt = &at
	tx.FailureReason = reason
	m.transactions[id] = tx
	return nil
}

func (m *MemoryStore) Claim(ctx context.Context, id string, at, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.transactions[id]
	if !exists {
		return ErrNotFound
	}
	if tx.Status != models.StatusProcessing {
		return ErrConflict
	}
	if tx.ClaimedAt != nil && !tx.ClaimedAt.Before(staleBefore) {
		return ErrConflict
	}

	claimedAt := at.UTC()
	tx.ClaimedAt = &claimedAt
	m.transactions[id] = tx
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, exists := m.transactions[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := clone(tx)
	return &out, nil
}

func (m *MemoryStore) ListStale(ctx context.Context, status models.TransactionStatus, olderThan time.Time, limit int) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []models.Transaction{}
	for _, tx := range m.transactions {
		if tx.Status == status && lastActivity(tx).Before(olderThan) {
			result = append(result, clone(tx))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return lastActivity(result[i]).Before(lastActivity(result[j]))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func lastActivity(tx models.Transaction) time.Time {
	if tx.ClaimedAt != nil {
		return *tx.ClaimedAt
	}
	return tx.CreatedAt
}

func clone(tx models.Transaction) models.Transaction {
	if tx.ProcessedAt != nil {
		at := *tx.ProcessedAt
		tx.ProcessedAt = &at
	}
	if tx.ClaimedAt != nil {
		at := *tx.ClaimedAt
		tx.ClaimedAt = &at
	}
	return tx
}

var _ TransactionStore = (*MemoryStore)(nil)
