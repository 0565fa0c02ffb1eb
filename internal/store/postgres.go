package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/webhooks/internal/models"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// pq error classes for data exceptions and integrity constraint violations
const (
	classDataException      = "22"
	classIntegrityViolation = "23"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id      TEXT PRIMARY KEY,
    source_account      TEXT NOT NULL,
    destination_account TEXT NOT NULL,
    amount              NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
    currency            TEXT NOT NULL,
    status              TEXT NOT NULL,
    failure_reason      TEXT,
    created_at          TIMESTAMPTZ NOT NULL,
    processed_at        TIMESTAMPTZ,
    claimed_at          TIMESTAMPTZ,
    CHECK ((status = 'PROCESSING') = (processed_at IS NULL))
);
ALTER TABLE transactions ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_transactions_status_created_at ON transactions (status, created_at);
`

const selectColumns = `transaction_id, source_account, destination_account, amount::text, currency,
		       status, COALESCE(failure_reason, ''), created_at, processed_at, claimed_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the transactions table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, tx *models.Transaction) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(transaction_id, source_account, destination_account, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING`,
		tx.TransactionID, tx.SourceAccount, tx.DestinationAccount, tx.Amount.String(), tx.Currency,
		string(tx.Status), tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return storeError("insert", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("insert", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to models.TransactionStatus, processedAt time.Time, reason string) error {
	if err := validateTransition(from, to); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, processed_at = $2, failure_reason = NULLIF($3, '')
		WHERE transaction_id = $4 AND status = $5`,
		string(to), processedAt.UTC(), reason, id, string(from))
	if err != nil {
		return storeError("transition", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("transition", err)
	}
	if rowsAffected == 1 {
		return nil
	}
	return s.missOrConflict(ctx, "transition", id)
}

func (s *PostgresStore) Claim(ctx context.Context, id string, at, staleBefore time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET claimed_at = $1
		WHERE transaction_id = $2 AND status = $3 AND (claimed_at IS NULL OR claimed_at < $4)`,
		at.UTC(), id, string(models.StatusProcessing), staleBefore.UTC())
	if err != nil {
		return unavailable("claim", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("claim", err)
	}
	if rowsAffected == 1 {
		return nil
	}
	return s.missOrConflict(ctx, "claim", id)
}

// missOrConflict explains a conditional update that matched no row
func (s *PostgresStore) missOrConflict(ctx context.Context, op, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE transaction_id = $1)`, id).Scan(&exists)
	if err != nil {
		return unavailable(op, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM transactions
		WHERE transaction_id = $1`, id)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return tx, nil
}

func (s *PostgresStore) ListStale(ctx context.Context, status models.TransactionStatus, olderThan time.Time, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM transactions
		WHERE status = $1 AND COALESCE(claimed_at, created_at) < $2
		ORDER BY COALESCE(claimed_at, created_at)
		LIMIT $3`, string(status), olderThan.UTC(), limit)
	if err != nil {
		return nil, unavailable("list stale", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, unavailable("list stale", err)
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list stale", err)
	}
	return transactions, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var amountStr, status string
	var processedAt, claimedAt sql.NullTime

	err := row.Scan(
		&tx.TransactionID, &tx.SourceAccount, &tx.DestinationAccount, &amountStr, &tx.Currency,
		&status, &tx.FailureReason, &tx.CreatedAt, &processedAt, &claimedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for transaction %s: %w", amountStr, tx.TransactionID, err)
	}
	tx.Status = models.TransactionStatus(status)
	if !tx.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q for transaction %s", status, tx.TransactionID)
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		tx.ProcessedAt = &t
	}
	if claimedAt.Valid {
		t := claimedAt.Time.UTC()
		tx.ClaimedAt = &t
	}
	return tx, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation
}

// storeError separates records postgres refuses to hold from outages, so a bad
// payload is not reported as retryable.
func storeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code.Class()) {
		case classDataException, classIntegrityViolation:
			return fmt.Errorf("%w: %s: %v", ErrRejected, op, err)
		}
	}
	return unavailable(op, err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

var _ TransactionStore = (*PostgresStore)(nil)
