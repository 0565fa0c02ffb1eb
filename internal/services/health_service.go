package services

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/webhooks/internal/models"
	"github.com/ruralpay/webhooks/internal/store"
	"go.uber.org/zap"
)

const (
	StatusHealthy   = "HEALTHY"
	StatusUnhealthy = "UNHEALTHY"
)

type HealthService struct {
	store  store.TransactionStore
	redis  *redis.Client
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewHealthService builds the health endpoints. redisClient may be nil when
// Redis is disabled.
func NewHealthService(txStore store.TransactionStore, redisClient *redis.Client, logger *zap.SugaredLogger) *HealthService {
	return &HealthService{
		store:  txStore,
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// HealthCheck reports liveness only
func (hs *HealthService) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, hs.response(StatusHealthy))
}

// Ready also checks the dependencies needed to accept webhooks
func (hs *HealthService) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := hs.store.Ping(ctx); err != nil {
		hs.logger.Warnw("[HEALTH] store not ready", "error", err)
		sendJSON(w, http.StatusServiceUnavailable, hs.response(StatusUnhealthy))
		return
	}
	if hs.redis != nil {
		if err := hs.redis.Ping(ctx).Err(); err != nil {
			hs.logger.Warnw("[HEALTH] redis not ready", "error", err)
			sendJSON(w, http.StatusServiceUnavailable, hs.response(StatusUnhealthy))
			return
		}
	}

	sendJSON(w, http.StatusOK, hs.response(StatusHealthy))
}

func (hs *HealthService) response(status string) models.HealthCheckResponse {
	return models.HealthCheckResponse{
		Status:      status,
		CurrentTime: hs.now().UTC().Format(time.RFC3339),
	}
}
