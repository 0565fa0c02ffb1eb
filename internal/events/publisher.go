package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/webhooks/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TypeTransactionProcessed = "transaction.processed"
	TypeTransactionFailed    = "transaction.failed"
)

// TransactionEvent is emitted once per terminal transition
type TransactionEvent struct {
	EventID            string                   `json:"event_id"`
	Type               string                   `json:"type"`
	TransactionID      string                   `json:"transaction_id"`
	SourceAccount      string                   `json:"source_account"`
	DestinationAccount string                   `json:"destination_account"`
	Amount             decimal.Decimal          `json:"amount"`
	Currency           string                   `json:"currency"`
	Status             models.TransactionStatus `json:"status"`
	FailureReason      string                   `json:"failure_reason,omitempty"`
	ProcessedAt        time.Time                `json:"processed_at"`
}

func NewTransactionEvent(tx *models.Transaction) TransactionEvent {
	eventType := TypeTransactionProcessed
	if tx.Status == models.StatusFailed {
		eventType = TypeTransactionFailed
	}

	var processedAt time.Time
	if tx.ProcessedAt != nil {
		processedAt = *tx.ProcessedAt
	}

	return TransactionEvent{
		EventID:            uuid.New().String(),
		Type:               eventType,
		TransactionID:      tx.TransactionID,
		SourceAccount:      tx.SourceAccount,
		DestinationAccount: tx.DestinationAccount,
		Amount:             tx.Amount,
		Currency:           tx.Currency,
		Status:             tx.Status,
		FailureReason:      tx.FailureReason,
		ProcessedAt:        processedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
	Close() error
}

// LogPublisher writes events to the log when no broker is configured
type LogPublisher struct {
	logger *zap.SugaredLogger
}

func NewLogPublisher(logger *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event TransactionEvent) error {
	p.logger.Infow("[EVENTS] transaction event",
		"event_id", event.EventID,
		"type", event.Type,
		"transaction_id", event.TransactionID,
		"status", event.Status,
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

var _ Publisher = (*LogPublisher)(nil)
