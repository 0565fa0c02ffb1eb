package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mW "github.com/ruralpay/webhooks/internal/middleware"
	"github.com/ruralpay/webhooks/internal/services"
	"go.uber.org/zap"
)

// NewRouter wires the public HTTP surface of the webhook service
func NewRouter(webhooks *services.WebhookService, health *services.HealthService, logger *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         86400,
	}))

	// Health check
	r.Get("/", health.HealthCheck)
	r.Get("/health", health.HealthCheck)
	r.Get("/health/ready", health.Ready)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/transactions", webhooks.ReceiveWebhook)
		r.Get("/transactions/{transactionId}", webhooks.GetTransaction)
	})

	return r
}
