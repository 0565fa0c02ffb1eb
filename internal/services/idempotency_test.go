package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_Admit(t *testing.T) {
	ctx := context.Background()

	t.Run("second admission is a duplicate", func(t *testing.T) {
		g := NewMemoryGuard(time.Minute, 10)

		res, err := g.Admit(ctx, "txn_1")
		require.NoError(t, err)
		assert.Equal(t, Admitted, res)

		res, err = g.Admit(ctx, "txn_1")
		require.NoError(t, err)
		assert.Equal(t, Duplicate, res)
	})

	t.Run("entries expire after ttl", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		g := NewMemoryGuard(time.Minute, 10)
		g.now = func() time.Time { return now }

		res, _ := g.Admit(ctx, "txn_1")
		assert.Equal(t, Admitted, res)

		now = now.Add(61 * time.Second)
		res, _ = g.Admit(ctx, "txn_1")
		assert.Equal(t, Admitted, res)
	})

	t.Run("release allows readmission", func(t *testing.T) {
		g := NewMemoryGuard(time.Minute, 10)
		g.Admit(ctx, "txn_1")
		require.NoError(t, g.Release(ctx, "txn_1"))

		res, _ := g.Admit(ctx, "txn_1")
		assert.Equal(t, Admitted, res)
	})

	t.Run("bounded size evicts oldest", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		g := NewMemoryGuard(time.Hour, 3)
		g.now = func() time.Time { return now }

		for _, id := range []string{"a", "b", "c", "d"} {
			res, _ := g.Admit(ctx, id)
			assert.Equal(t, Admitted, res)
			now = now.Add(time.Second)
		}

		assert.Equal(t, 3, g.Len())
		res, _ := g.Admit(ctx, "d")
		assert.Equal(t, Duplicate, res)
		res, _ = g.Admit(ctx, "a")
		assert.Equal(t, Admitted, res)
	})

	t.Run("concurrent admissions admit exactly one", func(t *testing.T) {
		g := NewMemoryGuard(time.Minute, 100)
		var admitted int32
		var wg sync.WaitGroup

		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if res, _ := g.Admit(ctx, "txn_burst"); res == Admitted {
					atomic.AddInt32(&admitted, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), admitted)
	})
}

func TestRedisGuard(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	g := NewRedisGuard(client, 5*time.Minute)

	t.Run("admitted", func(t *testing.T) {
		mock.ExpectSetNX("webhooks:inflight:txn_1", "1", 5*time.Minute).SetVal(true)

		res, err := g.Admit(ctx, "txn_1")
		require.NoError(t, err)
		assert.Equal(t, Admitted, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		mock.ExpectSetNX("webhooks:inflight:txn_1", "1", 5*time.Minute).SetVal(false)

		res, err := g.Admit(ctx, "txn_1")
		require.NoError(t, err)
		assert.Equal(t, Duplicate, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error", func(t *testing.T) {
		mock.ExpectSetNX("webhooks:inflight:txn_2", "1", 5*time.Minute).SetErr(errors.New("connection refused"))

		_, err := g.Admit(ctx, "txn_2")
		assert.ErrorContains(t, err, "connection refused")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("release", func(t *testing.T) {
		mock.ExpectDel("webhooks:inflight:txn_1").SetVal(1)

		assert.NoError(t, g.Release(ctx, "txn_1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
