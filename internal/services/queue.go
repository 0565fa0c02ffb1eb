package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrQueueFull   = errors.New("work queue is full")
	ErrQueueClosed = errors.New("work queue is closed")
)

// Job references an admitted transaction waiting to be processed
type Job struct {
	TransactionID string    `json:"transaction_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempt       int       `json:"attempt"`
}

// WorkQueue carries jobs from ingestion and the reconciler to the worker pool.
// Delivery is at-least-once; consumers must tolerate duplicates.
type WorkQueue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx ends, or the queue is closed
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

// ChannelQueue is a bounded in-memory queue. Enqueue waits at most
// enqueueTimeout for room before returning ErrQueueFull.
type ChannelQueue struct {
	jobs           chan Job
	enqueueTimeout time.Duration
	closed         chan struct{}
	closeOnce      sync.Once

	mu      sync.Mutex
	pending map[string]int // queued jobs per transaction id
}

func NewChannelQueue(buffer int, enqueueTimeout time.Duration) *ChannelQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = 100 * time.Millisecond
	}
	return &ChannelQueue{
		jobs:           make(chan Job, buffer),
		enqueueTimeout: enqueueTimeout,
		closed:         make(chan struct{}),
		pending:        make(map[string]int),
	}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	timer := time.NewTimer(q.enqueueTimeout)
	defer timer.Stop()

	// counted before the send so a fast dequeue never sees a missing entry
	q.track(job.TransactionID, 1)
	select {
	case q.jobs <- job:
		return nil
	case <-q.closed:
		q.track(job.TransactionID, -1)
		return ErrQueueClosed
	case <-ctx.Done():
		q.track(job.TransactionID, -1)
		return ctx.Err()
	case <-timer.C:
		q.track(job.TransactionID, -1)
		return ErrQueueFull
	}
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-q.closed:
		return Job{}, ErrQueueClosed
	default:
	}

	select {
	case job := <-q.jobs:
		q.track(job.TransactionID, -1)
		return job, nil
	case <-q.closed:
		return Job{}, ErrQueueClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close stops intake. Jobs still buffered are abandoned; their records stay
// PROCESSING and are picked up again by the reconciler.
func (q *ChannelQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

func (q *ChannelQueue) Len() int {
	return len(q.jobs)
}

// Pending reports whether a job for id is buffered and not yet taken by a
// worker.
func (q *ChannelQueue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[id] > 0
}

func (q *ChannelQueue) track(id string, delta int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := q.pending[id] + delta; n > 0 {
		q.pending[id] = n
	} else {
		delete(q.pending, id)
	}
}

// RedisQueue keeps jobs in a Redis list so queued work survives a restart
type RedisQueue struct {
	redis       *redis.Client
	key         string
	pollTimeout time.Duration
	closed      chan struct{}
	closeOnce   sync.Once
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "webhooks:transaction_queue"
	}
	return &RedisQueue{
		redis:       client,
		key:         key,
		pollTimeout: time.Second,
		closed:      make(chan struct{}),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", job.TransactionID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		select {
		case <-q.closed:
			return Job{}, ErrQueueClosed
		case <-ctx.Done():
			return Job{}, ctx.Err()
		default:
		}

		result, err := q.redis.BLPop(ctx, q.pollTimeout, q.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("failed to dequeue: %w", err)
		}

		// result is [key, value]
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return Job{}, fmt.Errorf("malformed job payload: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

// pendingTracker is implemented by queues that can tell whether a job for a
// transaction is still waiting to be dequeued.
type pendingTracker interface {
	Pending(id string) bool
}

var (
	_ WorkQueue      = (*ChannelQueue)(nil)
	_ WorkQueue      = (*RedisQueue)(nil)
	_ pendingTracker = (*ChannelQueue)(nil)
)
