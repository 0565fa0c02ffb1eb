package services

import (
	"context"
	"sync"
	"time"

	"github.com/ruralpay/webhooks/internal/events"
	"github.com/ruralpay/webhooks/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockStore) Transition(ctx context.Context, id string, from, to models.TransactionStatus, processedAt time.Time, reason string) error {
	args := m.Called(ctx, id, from, to, processedAt, reason)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockStore) Claim(ctx context.Context, id string, at, staleBefore time.Time) error {
	args := m.Called(ctx, id, at, staleBefore)
	return args.Error(0)
}

func (m *MockStore) ListStale(ctx context.Context, status models.TransactionStatus, olderThan time.Time, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, status, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Admit(ctx context.Context, id string) (AdmitResult, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(AdmitResult), args.Error(1)
}

func (m *MockGuard) Release(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockQueue) Dequeue(ctx context.Context) (Job, error) {
	args := m.Called(ctx)
	return args.Get(0).(Job), args.Error(1)
}

func (m *MockQueue) Close() error {
	args := m.Called()
	return args.Error(0)
}

// recordingPublisher keeps every published event for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TransactionEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error {
	return nil
}

func (p *recordingPublisher) Events() []events.TransactionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.TransactionEvent(nil), p.events...)
}

var (
	_ IdempotencyGuard = (*MockGuard)(nil)
	_ WorkQueue        = (*MockQueue)(nil)
	_ events.Publisher = (*recordingPublisher)(nil)
)
