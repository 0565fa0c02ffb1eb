package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/ruralpay/webhooks/internal/audit"
	"github.com/ruralpay/webhooks/internal/config"
	"github.com/ruralpay/webhooks/internal/database"
	"github.com/ruralpay/webhooks/internal/events"
	"github.com/ruralpay/webhooks/internal/handlers"
	"github.com/ruralpay/webhooks/internal/services"
	"github.com/ruralpay/webhooks/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Debugw("[SERVER] no .env file loaded, using environment", "error", envErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("[SERVER] exited with error", "error", err)
	}
	logger.Info("[SERVER] stopped")
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	txStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = database.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Infow("[SERVER] redis connected", "addr", cfg.Redis.Addr())
	}

	var guard services.IdempotencyGuard = services.NewMemoryGuard(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries)
	if cfg.Idempotency.Backend == "redis" {
		guard = services.NewRedisGuard(redisClient, cfg.Idempotency.TTL)
	}

	var queue services.WorkQueue = services.NewChannelQueue(cfg.Queue.Buffer, cfg.Queue.EnqueueTimeout)
	if cfg.Queue.Backend == "redis" {
		queue = services.NewRedisQueue(redisClient, cfg.Queue.RedisKey)
	}

	var processor services.Processor = services.NewDelayProcessor(cfg.Processing.Delay)
	if cfg.Processing.Mode == "iso20022" {
		processor = services.NewSettlementProcessor(services.NewLogSettler(logger))
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Infow("[SERVER] publishing events to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	auditLogger := audit.NewAuditLogger(logger)

	pool := services.NewWorkerPool(cfg.Workers.Size, cfg.Processing.Timeout, cfg.Reconcile.StaleAfter, queue, txStore, processor, publisher, auditLogger, logger)
	reconciler := services.NewReconciler(txStore, queue, logger, cfg.Reconcile.Interval, cfg.Reconcile.StaleAfter, cfg.Reconcile.BatchSize)

	webhookService := services.NewWebhookService(txStore, guard, queue, auditLogger, logger)
	healthService := services.NewHealthService(txStore, redisClient, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.NewRouter(webhookService, healthService, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// the pool and reconciler outlive the signal context so shutdown can
	// stop them in order
	pool.Start(context.Background())
	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	defer stopReconcile()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infow("[SERVER] starting", "port", cfg.Port, "workers", cfg.Workers.Size, "processing_mode", cfg.Processing.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return reconciler.Run(reconcileCtx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("[SERVER] shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		stopReconcile()
		queue.Close()
		if perr := pool.Stop(shutdownCtx); perr != nil {
			logger.Warnw("[SERVER] in-flight jobs left for reconciliation", "error", perr)
		}
		return err
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (store.TransactionStore, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("[SERVER] using in-memory store, transactions will not survive a restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := database.InitDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	pgStore := store.NewPostgresStore(db)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Infow("[SERVER] database connected", "host", cfg.Database.Host, "name", cfg.Database.Name)

	return pgStore, func() { db.Close() }, nil
}
