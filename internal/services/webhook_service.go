package services

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/webhooks/internal/audit"
	"github.com/ruralpay/webhooks/internal/models"
	"github.com/ruralpay/webhooks/internal/store"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1_048_576 // 1 MB

// AcceptedResponse acknowledges a webhook. Duplicates carry the stored record
// when one is available.
type AcceptedResponse struct {
	Status        string              `json:"status"`
	TransactionID string              `json:"transaction_id"`
	Duplicate     bool                `json:"duplicate,omitempty"`
	Transaction   *models.Transaction `json:"transaction,omitempty"`
}

type WebhookService struct {
	store     store.TransactionStore
	guard     IdempotencyGuard
	queue     WorkQueue
	audit     *audit.AuditLogger
	validator *ValidationHelper
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewWebhookService(txStore store.TransactionStore, guard IdempotencyGuard, queue WorkQueue, auditLogger *audit.AuditLogger, logger *zap.SugaredLogger) *WebhookService {
	return &WebhookService{
		store:     txStore,
		guard:     guard,
		queue:     queue,
		audit:     auditLogger,
		validator: NewValidationHelper(),
		logger:    logger,
		now:       time.Now,
	}
}

// ReceiveWebhook admits a transaction webhook and answers 202 without waiting
// for processing. Redeliveries of a known transaction_id are acknowledged the
// same way and never create a second record or job.
func (ws *WebhookService) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	var req models.WebhookRequest

	r.Body = http.MaxBytesReader(w, r.Body, int64(maxWebhookBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	log := ws.logger.With("transaction_id", req.TransactionID)

	result, err := ws.guard.Admit(ctx, req.TransactionID)
	if err != nil {
		log.Warnw("[WEBHOOK] idempotency guard unavailable, falling back to store", "error", err)
	}
	if err == nil && result == Duplicate {
		log.Info("[WEBHOOK] duplicate webhook")
		ws.sendDuplicate(w, r, req.TransactionID)
		return
	}

	tx := models.NewTransaction(&req, ws.now())
	if err := ws.store.Insert(ctx, tx); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			log.Info("[WEBHOOK] duplicate webhook, transaction already stored")
			ws.sendDuplicate(w, r, req.TransactionID)
			return
		}

		if relErr := ws.guard.Release(ctx, req.TransactionID); relErr != nil {
			log.Warnw("[WEBHOOK] failed to release idempotency entry", "error", relErr)
		}
		if errors.Is(err, store.ErrRejected) {
			log.Warnw("[WEBHOOK] transaction rejected by store", "error", err)
			SendErrorResponse(w, "Transaction rejected", http.StatusUnprocessableEntity, nil)
			return
		}
		log.Errorw("[WEBHOOK] failed to store transaction", "error", err)
		SendErrorResponse(w, "Transaction store unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	ws.audit.LogAdmitted(tx)

	job := Job{TransactionID: tx.TransactionID, EnqueuedAt: ws.now().UTC()}
	if err := ws.queue.Enqueue(ctx, job); err != nil {
		// the record is durable; the reconciler will queue it
		log.Warnw("[WEBHOOK] failed to enqueue transaction", "error", err)
	}

	log.Infow("[WEBHOOK] transaction accepted", "amount", tx.Amount.String(), "currency", tx.Currency)
	sendJSON(w, http.StatusAccepted, AcceptedResponse{
		Status:        "accepted",
		TransactionID: tx.TransactionID,
	})
}

func (ws *WebhookService) sendDuplicate(w http.ResponseWriter, r *http.Request, id string) {
	resp := AcceptedResponse{
		Status:        "accepted",
		TransactionID: id,
		Duplicate:     true,
	}

	// the first delivery may still be between admission and insert
	if tx, err := ws.store.Get(r.Context(), id); err == nil {
		resp.Transaction = tx
	} else if !errors.Is(err, store.ErrNotFound) {
		ws.logger.Warnw("[WEBHOOK] failed to load duplicate transaction", "transaction_id", id, "error", err)
	}

	sendJSON(w, http.StatusAccepted, resp)
}

// GetTransaction returns the current state of a transaction
func (ws *WebhookService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transactionId")

	tx, err := ws.store.Get(r.Context(), txID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			ws.logger.Errorw("[WEBHOOK] failed to fetch transaction", "transaction_id", txID, "error", err)
			SendErrorResponse(w, "Transaction store unavailable", http.StatusServiceUnavailable, nil)
		}
		return
	}

	sendJSON(w, http.StatusOK, tx)
}
