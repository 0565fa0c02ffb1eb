package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type AdmitResult int

const (
	Admitted AdmitResult = iota
	Duplicate
)

func (r AdmitResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "admitted"
}

// IdempotencyGuard rejects a transaction id that is already being admitted.
// It is the fast path only; the store's atomic insert remains authoritative.
type IdempotencyGuard interface {
	Admit(ctx context.Context, id string) (AdmitResult, error)
	// Release forgets id so a retry after a failed admission is not treated as a duplicate
	Release(ctx context.Context, id string) error
}

// MemoryGuard is a process-local in-flight set with per-entry expiry
type MemoryGuard struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryGuard(ttl time.Duration, maxEntries int) *MemoryGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	return &MemoryGuard{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]time.Time),
	}
}

func (g *MemoryGuard) Admit(ctx context.Context, id string) (AdmitResult, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiresAt, ok := g.entries[id]; ok && now.Before(expiresAt) {
		return Duplicate, nil
	}

	if len(g.entries) >= g.maxEntries {
		g.evict(now)
	}
	g.entries[id] = now.Add(g.ttl)
	return Admitted, nil
}

func (g *MemoryGuard) Release(ctx context.Context, id string) error {
	g.mu.Lock()
	delete(g.entries, id)
	g.mu.Unlock()
	return nil
}

func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// evict drops expired entries, then the entries closest to expiry until
// there is room for one more. Caller holds g.mu.
func (g *MemoryGuard) evict(now time.Time) {
	for id, expiresAt := range g.entries {
		if !now.Before(expiresAt) {
			delete(g.entries, id)
		}
	}

	for len(g.entries) >= g.maxEntries {
		var oldestID string
		var oldest time.Time
		for id, expiresAt := range g.entries {
			if oldestID == "" || expiresAt.Before(oldest) {
				oldestID, oldest = id, expiresAt
			}
		}
		delete(g.entries, oldestID)
	}
}

// RedisGuard shares the in-flight set through Redis SETNX so restarts and
// sibling processes see the same admissions.
type RedisGuard struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGuard{
		redis:  client,
		ttl:    ttl,
		prefix: "webhooks:inflight:",
	}
}

func (g *RedisGuard) Admit(ctx context.Context, id string) (AdmitResult, error) {
	ok, err := g.redis.SetNX(ctx, g.key(id), "1", g.ttl).Result()
	if err != nil {
		return Admitted, fmt.Errorf("idempotency guard: %w", err)
	}
	if !ok {
		return Duplicate, nil
	}
	return Admitted, nil
}

func (g *RedisGuard) Release(ctx context.Context, id string) error {
	if err := g.redis.Del(ctx, g.key(id)).Err(); err != nil {
		return fmt.Errorf("idempotency guard: %w", err)
	}
	return nil
}

func (g *RedisGuard) key(id string) string {
	return g.prefix + id
}

var (
	_ IdempotencyGuard = (*MemoryGuard)(nil)
	_ IdempotencyGuard = (*RedisGuard)(nil)
)
