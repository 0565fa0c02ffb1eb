package services

import (
	"context"
	"time"

	"github.com/ruralpay/webhooks/internal/models"
	"github.com/ruralpay/webhooks/internal/store"
	"go.uber.org/zap"
)

// Reconciler re-enqueues transactions stuck in PROCESSING, e.g. after an
// enqueue failure or a restart that dropped queued jobs.
type Reconciler struct {
	store      store.TransactionStore
	queue      WorkQueue
	logger     *zap.SugaredLogger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewReconciler(txStore store.TransactionStore, queue WorkQueue, logger *zap.SugaredLogger, interval, staleAfter time.Duration, batchSize int) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		store:      txStore,
		queue:      queue,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Errorw("[RECONCILER] sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("[RECONCILER] stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce re-enqueues one batch of stale PROCESSING records and reports how
// many were queued.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()
	stale, err := r.store.ListStale(ctx, models.StatusProcessing, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return 0, err
	}

	tracker, _ := r.queue.(pendingTracker)

	requeued, skipped := 0, 0
	for _, tx := range stale {
		// still waiting behind a backlog, not lost
		if tracker != nil && tracker.Pending(tx.TransactionID) {
			skipped++
			continue
		}
		job := Job{TransactionID: tx.TransactionID, EnqueuedAt: now, Attempt: 1}
		if err := r.queue.Enqueue(ctx, job); err != nil {
			// queue is saturated; the next sweep picks up the rest
			r.logger.Warnw("[RECONCILER] failed to re-enqueue", "transaction_id", tx.TransactionID, "error", err)
			return requeued, nil
		}
		requeued++
	}

	if requeued > 0 {
		r.logger.Infow("[RECONCILER] re-enqueued stale transactions", "count", requeued)
	}
	if skipped > 0 {
		r.logger.Debugw("[RECONCILER] stale transactions still queued", "count", skipped)
	}
	return requeued, nil
}
