package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/thaian1234/sync-service/internal/alert"
	"github.com/thaian1234/sync-service/internal/api"
	"github.com/thaian1234/sync-service/internal/cache"
	"github.com/thaian1234/sync-service/internal/config"
	"github.com/thaian1234/sync-service/internal/consumer"
	"github.com/thaian1234/sync-service/internal/engine"
	"github.com/thaian1234/sync-service/internal/scheduler"
	"github.com/thaian1234/sync-service/internal/store"
	syncer "github.com/thaian1234/sync-service/internal/sync"
	ws "github.com/thaian1234/sync-service/internal/websocket"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, cfg.Postgres.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis for the idempotency fast path
	redisStore, err := store.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	idempotency := cache.NewIdempotencyCache(redisStore.Client(), logger)
	breakers := engine.NewBreakerRegistry(logger)

	// WebSocket hub for live dashboard activity
	hub := ws.NewHub(logger)
	go hub.Run()

	// Alert channels: the dashboard feed is always on, log and webhook per
	// config. The webhook additionally needs a URL.
	channels := []alert.Channel{hub}
	if cfg.Alerts.LogEnabled {
		channels = append(channels, alert.NewLogChannel(logger))
	}
	if cfg.Alerts.WebhookEnabled && cfg.Alerts.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookSecret, breakers, logger))
	}
	dispatcher := alert.NewDispatcher(pgStore, alert.Config{
		PendingThreshold: cfg.Alerts.PendingThreshold,
		FailedThreshold:  cfg.Alerts.FailedThreshold,
		Interval:         cfg.Alerts.Interval,
	}, logger, channels...)

	// Processing pipeline
	applier := syncer.NewApplier(pgStore, idempotency, logger)
	processor := syncer.NewProcessor(applier, pgStore, hub, logger)

	sched := scheduler.NewRetryScheduler(
		pgStore, applier, idempotency, dispatcher, hub,
		cfg.Scheduler.Interval, cfg.Scheduler.BatchSize, logger,
	)

	runner := consumer.NewRunner(consumer.Config{
		Brokers:     cfg.Kafka.Brokers,
		Topics:      cfg.Kafka.Topics,
		GroupID:     cfg.Kafka.GroupID,
		Concurrency: cfg.Kafka.Concurrency,
	}, processor, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			logger.Error("consumer exited", "error", err)
		}
	}()

	// Admin HTTP surface
	router := api.NewRouter(pgStore, redisStore, idempotency, sched, dispatcher, breakers, hub)
	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("server stopped")
}
