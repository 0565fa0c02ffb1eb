package store

import (
	"context"
	"errors"
	"time"

	"github.com/ruralpay/webhooks/internal/models"
)

var (
	ErrAlreadyExists     = errors.New("transaction already exists")
	ErrNotFound          = errors.New("transaction not found")
	ErrConflict          = errors.New("transaction status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnavailable       = errors.New("transaction store unavailable")
	ErrRejected          = errors.New("transaction rejected by store")
)

// TransactionStore is the single source of truth for transaction state.
// Every mutation goes through Insert or Transition, both atomic per key.
type TransactionStore interface {
	// Insert stores a new record. Returns ErrAlreadyExists without writing
	// when a record with the same id is present, ErrRejected when the record
	// cannot be stored as given.
	Insert(ctx context.Context, tx *models.Transaction) error

	// Transition moves a record from one status to another only if the stored
	// status still equals from. Returns ErrNotFound or ErrConflict otherwise.
	Transition(ctx context.Context, id string, from, to models.TransactionStatus, processedAt time.Time, reason string) error

	// Claim marks a PROCESSING record as taken by a worker at time at. It fails
	// with ErrConflict while another claim newer than staleBefore is held or the
	// record is no longer PROCESSING.
	Claim(ctx context.Context, id string, at, staleBefore time.Time) error

	Get(ctx context.Context, id string) (*models.Transaction, error)

	// ListStale returns records in status whose last claim, or creation when
	// never claimed, is before olderThan. Oldest first.
	ListStale(ctx context.Context, status models.TransactionStatus, olderThan time.Time, limit int) ([]models.Transaction, error)

	Ping(ctx context.Context) error
}

func validateTransition(from, to models.TransactionStatus) error {
	if from != models.StatusProcessing || !to.IsTerminal() {
		return ErrInvalidTransition
	}
	return nil
}
