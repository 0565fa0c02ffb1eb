package services

import (
	"context"
	"testing"
	"time"

	"github.com/ruralpay/webhooks/internal/models"
	"github.com/ruralpay/webhooks/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedTransaction(t *testing.T, s store.TransactionStore, id string, createdAt time.Time) {
	t.Helper()
	tx := testTransaction(id)
	tx.CreatedAt = createdAt
	require.NoError(t, s.Insert(context.Background(), tx))
}

func TestReconciler_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("re-enqueues stale processing records", func(t *testing.T) {
		s := store.NewMemoryStore()
		q := NewChannelQueue(10, 10*time.Millisecond)

		seedTransaction(t, s, "stale_1", now.Add(-20*time.Minute))
		seedTransaction(t, s, "stale_2", now.Add(-10*time.Minute))
		seedTransaction(t, s, "fresh", now.Add(-time.Minute))
		seedTransaction(t, s, "done", now.Add(-30*time.Minute))
		require.NoError(t, s.Transition(ctx, "done", models.StatusProcessing, models.StatusProcessed, now, ""))

		r := NewReconciler(s, q, zap.NewNop().Sugar(), time.Minute, 5*time.Minute, 100)
		r.now = func() time.Time { return now }

		count, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		first, _ := q.Dequeue(ctx)
		second, _ := q.Dequeue(ctx)
		assert.Equal(t, "stale_1", first.TransactionID)
		assert.Equal(t, "stale_2", second.TransactionID)
		assert.Equal(t, 1, first.Attempt)
		assert.Equal(t, now, first.EnqueuedAt)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("full queue stops the batch", func(t *testing.T) {
		s := store.NewMemoryStore()
		q := NewChannelQueue(1, 5*time.Millisecond)

		seedTransaction(t, s, "stale_1", now.Add(-20*time.Minute))
		seedTransaction(t, s, "stale_2", now.Add(-10*time.Minute))

		r := NewReconciler(s, q, zap.NewNop().Sugar(), time.Minute, 5*time.Minute, 100)
		r.now = func() time.Time { return now }

		count, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("job still waiting in the queue is not requeued", func(t *testing.T) {
		s := store.NewMemoryStore()
		q := NewChannelQueue(10, 10*time.Millisecond)

		seedTransaction(t, s, "backlogged", now.Add(-6*time.Minute))
		seedTransaction(t, s, "lost", now.Add(-6*time.Minute))
		require.NoError(t, q.Enqueue(ctx, Job{TransactionID: "backlogged", EnqueuedAt: now.Add(-6 * time.Minute)}))

		r := NewReconciler(s, q, zap.NewNop().Sugar(), time.Minute, 5*time.Minute, 100)
		r.now = func() time.Time { return now }

		count, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, 2, q.Len())

		first, _ := q.Dequeue(ctx)
		second, _ := q.Dequeue(ctx)
		assert.Equal(t, "backlogged", first.TransactionID)
		assert.Equal(t, "lost", second.TransactionID)

		// once a worker has taken it, a later sweep may requeue it again
		assert.False(t, q.Pending("backlogged"))
	})

	t.Run("recently claimed record is not requeued", func(t *testing.T) {
		s := store.NewMemoryStore()
		q := NewChannelQueue(10, 10*time.Millisecond)

		seedTransaction(t, s, "in_flight", now.Add(-20*time.Minute))
		require.NoError(t, s.Claim(ctx, "in_flight", now.Add(-time.Minute), now.Add(-6*time.Minute)))

		r := NewReconciler(s, q, zap.NewNop().Sugar(), time.Minute, 5*time.Minute, 100)
		r.now = func() time.Time { return now }

		count, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Zero(t, q.Len())
	})

	t.Run("store error", func(t *testing.T) {
		s := new(MockStore)
		s.On("ListStale", mock.Anything, models.StatusProcessing, now.Add(-5*time.Minute), 50).
			Return(nil, store.ErrUnavailable)

		r := NewReconciler(s, NewChannelQueue(1, time.Millisecond), zap.NewNop().Sugar(), time.Minute, 5*time.Minute, 50)
		r.now = func() time.Time { return now }

		_, err := r.RunOnce(ctx)
		assert.ErrorIs(t, err, store.ErrUnavailable)
		s.AssertExpectations(t)
	})
}

func TestReconciler_RunStopsWithContext(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewReconciler(s, NewChannelQueue(1, time.Millisecond), zap.NewNop().Sugar(), 10*time.Millisecond, time.Minute, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
