package audit

import (
	"encoding/json"
	"time"

	"github.com/ruralpay/webhooks/internal/models"
	"go.uber.org/zap"
)

const (
	EventAdmitted   = "ADMITTED"
	EventTransition = "TRANSITION"
	EventError      = "ERROR"
)

type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// AuditLogger writes one JSON line per state change of a transaction
type AuditLogger struct {
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewAuditLogger(logger *zap.SugaredLogger) *AuditLogger {
	return &AuditLogger{
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

func (a *AuditLogger) LogAdmitted(tx *models.Transaction) {
	a.log(AuditEvent{
		Timestamp:     a.now().UTC(),
		EventType:     EventAdmitted,
		TransactionID: tx.TransactionID,
		AccountID:     tx.SourceAccount,
		Amount:        tx.Amount.String() + " " + tx.Currency,
		Status:        string(tx.Status),
		Details: map[string]string{
			"destination_account": tx.DestinationAccount,
		},
	})
}

func (a *AuditLogger) LogTransition(tx *models.Transaction, from models.TransactionStatus) {
	details := map[string]string{"from": string(from)}
	if tx.FailureReason != "" {
		details["reason"] = tx.FailureReason
	}
	a.log(AuditEvent{
		Timestamp:     a.now().UTC(),
		EventType:     EventTransition,
		TransactionID: tx.TransactionID,
		AccountID:     tx.SourceAccount,
		Amount:        tx.Amount.String() + " " + tx.Currency,
		Status:        string(tx.Status),
		Details:       details,
	})
}

func (a *AuditLogger) LogError(transactionID string, err error) {
	a.log(AuditEvent{
		Timestamp:     a.now().UTC(),
		EventType:     EventError,
		TransactionID: transactionID,
		Status:        "ERROR",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	a.logger.Infof("AUDIT: %s", string(data))
}
