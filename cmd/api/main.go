package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/conversation-relay/internal/api/router"
	"github.com/wolfman30/conversation-relay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/conversation-relay/internal/config"
	"github.com/wolfman30/conversation-relay/internal/messages"
	"github.com/wolfman30/conversation-relay/internal/queue"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

func main() {
	if strings.EqualFold(os.Getenv("ENV"), "development") || os.Getenv("ENV") == "" {
		_ = godotenv.Load()
	}
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting conversation-relay API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	lanes, err := bootstrap.BuildQueueLanes(cfg, sqs.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to build queue lanes", "error", err)
		os.Exit(1)
	}

	metricsHandler, registry := setupMetrics()

	svc, store, err := bootstrap.BuildMessageService(ctx, bootstrap.MessageDeps{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Lanes:      lanes,
		S3:         bootstrap.NewS3Client(awsCfg, cfg),
		Registerer: registry,
	})
	if err != nil {
		logger.Error("failed to build message service", "error", err)
		os.Exit(1)
	}

	// With in-process queues nothing else can consume the lanes, so the
	// outbox poller and webhook worker run inside the API.
	if cfg.UseMemoryQueue {
		startInProcessDelivery(ctx, cfg, pool, lanes, buildDynamoClient(awsCfg, cfg), registry, logger)
	}

	r := router.New(&router.Config{
		Logger: logger,
		Messages: messages.NewHandler(messages.HandlerConfig{
			Service:        svc,
			Conversations:  store,
			Logger:         logger,
			MaxUploadBytes: int64(cfg.MaxUploadBytes),
		}),
		MetricsHandler: metricsHandler,
		HealthCheck:    pool.Ping,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func buildDynamoClient(awsCfg aws.Config, cfg *appconfig.Config) *dynamodb.Client {
	if strings.TrimSpace(cfg.WebhookAttemptsTable) == "" {
		return nil
	}
	return dynamodb.NewFromConfig(awsCfg)
}

func startInProcessDelivery(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, lanes queue.Lanes, dynamo *dynamodb.Client, registry prometheus.Registerer, logger *logging.Logger) {
	deliverer, err := bootstrap.BuildOutboxDeliverer(cfg, pool, lanes, logger)
	if err != nil {
		logger.Error("in-process outbox delivery disabled", "error", err)
		return
	}
	deps := bootstrap.WebhookDeps{
		Config:     cfg,
		Logger:     logger,
		Lanes:      lanes,
		Dynamo:     dynamo,
		Registerer: registry,
	}
	if client := bootstrap.BuildRedisClient(ctx, cfg, logger, true); client != nil {
		deps.Redis = redis.UniversalClient(client)
	}
	worker, err := bootstrap.BuildWebhookWorker(deps)
	if err != nil {
		logger.Error("in-process webhook worker disabled", "error", err)
		return
	}
	go deliverer.Start(ctx)
	worker.Start(ctx)
	logger.Info("in-process webhook delivery started")
}
