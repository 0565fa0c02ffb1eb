package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ruralpay/webhooks/internal/audit"
	"github.com/ruralpay/webhooks/internal/events"
	"github.com/ruralpay/webhooks/internal/models"
	"github.com/ruralpay/webhooks/internal/store"
	"go.uber.org/zap"
)

// WorkerPool drains the work queue with a fixed number of workers and moves
// each transaction from PROCESSING to its terminal status.
type WorkerPool struct {
	size      int
	timeout   time.Duration
	lease     time.Duration
	queue     WorkQueue
	store     store.TransactionStore
	processor Processor
	publisher events.Publisher
	audit     *audit.AuditLogger
	logger    *zap.SugaredLogger
	now       func() time.Time

	wg            sync.WaitGroup
	stopIntake    context.CancelFunc
	abortInFlight context.CancelFunc
	startOnce     sync.Once
}

func NewWorkerPool(
	size int,
	processingTimeout time.Duration,
	claimLease time.Duration,
	queue WorkQueue,
	txStore store.TransactionStore,
	processor Processor,
	publisher events.Publisher,
	auditLogger *audit.AuditLogger,
	logger *zap.SugaredLogger,
) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if processingTimeout <= 0 {
		processingTimeout = 2 * time.Minute
	}
	if claimLease <= 0 {
		claimLease = 5 * time.Minute
	}
	return &WorkerPool{
		size:      size,
		timeout:   processingTimeout,
		lease:     claimLease,
		queue:     queue,
		store:     txStore,
		processor: processor,
		publisher: publisher,
		audit:     auditLogger,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the workers. Cancelling ctx stops intake like Stop does,
// but jobs already in flight keep running until Stop gives up on them.
func (p *WorkerPool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		intakeCtx, stopIntake := context.WithCancel(ctx)
		workCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
		p.stopIntake = stopIntake
		p.abortInFlight = abort

		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.run(intakeCtx, workCtx, i)
		}
		p.logger.Infow("[WORKER] pool started", "workers", p.size)
	})
}

// Stop stops taking jobs and waits for in-flight ones. If ctx ends first the
// remaining jobs are aborted and left PROCESSING for the reconciler.
func (p *WorkerPool) Stop(ctx context.Context) error {
	if p.stopIntake == nil {
		return nil
	}
	p.stopIntake()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.abortInFlight()
		p.logger.Info("[WORKER] pool stopped")
		return nil
	case <-ctx.Done():
		p.abortInFlight()
		<-done
		p.logger.Warn("[WORKER] pool stopped before in-flight jobs finished")
		return ctx.Err()
	}
}

func (p *WorkerPool) run(intakeCtx, workCtx context.Context, worker int) {
	defer p.wg.Done()

	for {
		job, err := p.queue.Dequeue(intakeCtx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || intakeCtx.Err() != nil {
				return
			}
			p.logger.Errorw("[WORKER] failed to dequeue job", "worker", worker, "error", err)
			select {
			case <-time.After(time.Second):
			case <-intakeCtx.Done():
				return
			}
			continue
		}

		p.handle(workCtx, worker, job)
	}
}

func (p *WorkerPool) handle(ctx context.Context, worker int, job Job) {
	log := p.logger.With("worker", worker, "transaction_id", job.TransactionID, "attempt", job.Attempt)

	tx, err := p.store.Get(ctx, job.TransactionID)
	if errors.Is(err, store.ErrNotFound) {
		log.Error("[WORKER] job references unknown transaction, dropping")
		return
	}
	if err != nil {
		log.Errorw("[WORKER] failed to load transaction", "error", err)
		return
	}
	if tx.Status.IsTerminal() {
		log.Debugw("[WORKER] transaction already finalized, dropping duplicate job", "status", tx.Status)
		return
	}

	// one live claim per record, so a requeued copy of a job that is still
	// running elsewhere never reaches the processor
	claimedAt := p.now().UTC()
	err = p.store.Claim(ctx, tx.TransactionID, claimedAt, claimedAt.Add(-p.lease))
	if errors.Is(err, store.ErrConflict) {
		log.Info("[WORKER] transaction claimed by another worker, dropping duplicate job")
		return
	}
	if err != nil {
		log.Errorw("[WORKER] failed to claim transaction", "error", err)
		return
	}

	outcome := p.process(ctx, tx)
	if ctx.Err() != nil {
		log.Warn("[WORKER] processing aborted by shutdown, left for reconciliation")
		return
	}

	processedAt := p.now().UTC()
	err = p.store.Transition(ctx, tx.TransactionID, models.StatusProcessing, outcome.Status, processedAt, outcome.Reason)
	if errors.Is(err, store.ErrConflict) {
		log.Info("[WORKER] transaction finalized by another worker")
		return
	}
	if err != nil {
		log.Errorw("[WORKER] failed to record outcome", "status", outcome.Status, "error", err)
		p.audit.LogError(tx.TransactionID, err)
		return
	}

	tx.Status = outcome.Status
	tx.FailureReason = outcome.Reason
	tx.ProcessedAt = &processedAt
	p.audit.LogTransition(tx, models.StatusProcessing)
	log.Infow("[WORKER] transaction finalized", "status", tx.Status, "latency", processedAt.Sub(tx.CreatedAt).String())

	if err := p.publisher.Publish(ctx, events.NewTransactionEvent(tx)); err != nil {
		log.Errorw("[WORKER] failed to publish transaction event", "error", err)
	}
}

// process runs the processor under the processing timeout and folds errors
// into a FAILED outcome.
func (p *WorkerPool) process(ctx context.Context, tx *models.Transaction) Outcome {
	procCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	outcome, err := p.processor.Process(procCtx, tx)
	switch {
	case err != nil && errors.Is(procCtx.Err(), context.DeadlineExceeded):
		return Failed("processing timed out")
	case err != nil:
		return Failed(err.Error())
	case !outcome.Status.IsTerminal():
		return Failed(fmt.Sprintf("processor returned non-terminal status %q", outcome.Status))
	}
	return outcome
}
