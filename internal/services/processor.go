package services

import (
	"context"
	"time"

	"github.com/ruralpay/webhooks/internal/models"
)

// Outcome is the terminal result a processor reports for one transaction
type Outcome struct {
	Status models.TransactionStatus
	Reason string
}

func Processed() Outcome {
	return Outcome{Status: models.StatusProcessed}
}

func Failed(reason string) Outcome {
	return Outcome{Status: models.StatusFailed, Reason: reason}
}

// Processor performs the business work for an admitted transaction. It must
// honour ctx cancellation; a returned error is recorded as FAILED.
type Processor interface {
	Process(ctx context.Context, tx *models.Transaction) (Outcome, error)
}

// ProcessorFunc adapts a plain function to Processor
type ProcessorFunc func(ctx context.Context, tx *models.Transaction) (Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, tx *models.Transaction) (Outcome, error) {
	return f(ctx, tx)
}

// DelayProcessor stands in for downstream settlement with a fixed delay
type DelayProcessor struct {
	Delay time.Duration
}

func NewDelayProcessor(delay time.Duration) *DelayProcessor {
	if delay < 0 {
		delay = 0
	}
	return &DelayProcessor{Delay: delay}
}

func (p *DelayProcessor) Process(ctx context.Context, tx *models.Transaction) (Outcome, error) {
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return Processed(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

var (
	_ Processor = ProcessorFunc(nil)
	_ Processor = (*DelayProcessor)(nil)
)
