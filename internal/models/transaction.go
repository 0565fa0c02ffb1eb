package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the processing state of a webhook transaction
type TransactionStatus string

const (
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusProcessed  TransactionStatus = "PROCESSED"
	StatusFailed     TransactionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

func (s TransactionStatus) Valid() bool {
	return s == StatusProcessing || s.IsTerminal()
}

// WebhookRequest is the inbound transaction payload sent by the payment network
type WebhookRequest struct {
	TransactionID      string          `json:"transaction_id" validate:"required,max=128"`
	SourceAccount      string          `json:"source_account" validate:"required,max=128"`
	DestinationAccount string          `json:"destination_account" validate:"required,max=128,nefield=SourceAccount"`
	Amount             decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency           string          `json:"currency" validate:"required,max=8"`
}

// Transaction represents a webhook transaction and its processing state
type Transaction struct {
	TransactionID      string            `json:"transaction_id" db:"transaction_id"`
	SourceAccount      string            `json:"source_account" db:"source_account"`
	DestinationAccount string            `json:"destination_account" db:"destination_account"`
	Amount             decimal.Decimal   `json:"amount" db:"amount"`
	Currency           string            `json:"currency" db:"currency"`
	Status             TransactionStatus `json:"status" db:"status"`
	FailureReason      string            `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	ProcessedAt        *time.Time        `json:"processed_at" db:"processed_at"`
	ClaimedAt          *time.Time        `json:"-" db:"claimed_at"` // when a worker last took the record
}

// NewTransaction builds the initial PROCESSING record for an admitted request
func NewTransaction(req *WebhookRequest, now time.Time) *Transaction {
	return &Transaction{
		TransactionID:      req.TransactionID,
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Status:             StatusProcessing,
		CreatedAt:          now.UTC(),
	}
}

// Amounts are stored as NUMERIC(20,4)
const (
	AmountScale         = 4
	AmountIntegerDigits = 16
)

var maxAmount = decimal.New(1, AmountIntegerDigits)

// AmountScaleOK reports whether d has no significant digits past AmountScale
func AmountScaleOK(d decimal.Decimal) bool {
	return d.Equal(d.Round(AmountScale))
}

// AmountInRange reports whether the integer part of d fits AmountIntegerDigits
func AmountInRange(d decimal.Decimal) bool {
	return d.Abs().LessThan(maxAmount)
}

// HealthCheckResponse is returned by the liveness endpoints
type HealthCheckResponse struct {
	Status      string `json:"status"`
	CurrentTime string `json:"current_time"`
}

func init() {
	// amounts leave the service as JSON numbers, the same shape the webhook sends them in
	decimal.MarshalJSONWithoutQuotes = true
}
