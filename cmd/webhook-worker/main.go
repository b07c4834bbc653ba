package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/conversation-relay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/conversation-relay/internal/config"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// webhook-worker drains the outbox into the webhook lane and delivers
// queued webhook tasks.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMemoryQueue {
		logger.Error("webhook worker needs SQS lanes; in-memory queues run inside the API")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsConfig, err := bootstrap.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	lanes, err := bootstrap.BuildQueueLanes(cfg, sqs.NewFromConfig(awsConfig))
	if err != nil {
		logger.Error("failed to build queue lanes", "error", err)
		os.Exit(1)
	}

	deliverer, err := bootstrap.BuildOutboxDeliverer(cfg, pool, lanes, logger)
	if err != nil {
		logger.Error("failed to build outbox deliverer", "error", err)
		os.Exit(1)
	}

	deps := bootstrap.WebhookDeps{
		Config:     cfg,
		Logger:     logger,
		Lanes:      lanes,
		Registerer: prometheus.DefaultRegisterer,
	}
	if client := bootstrap.BuildRedisClient(ctx, cfg, logger, true); client != nil {
		defer client.Close()
		deps.Redis = redis.UniversalClient(client)
	}
	if strings.TrimSpace(cfg.WebhookAttemptsTable) != "" {
		deps.Dynamo = dynamodb.NewFromConfig(awsConfig)
	}

	worker, err := bootstrap.BuildWebhookWorker(deps)
	if err != nil {
		logger.Error("failed to build webhook worker", "error", err)
		os.Exit(1)
	}

	delivererDone := make(chan struct{})
	go func() {
		deliverer.Start(ctx)
		close(delivererDone)
	}()
	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down webhook worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		<-delivererDone
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("webhook worker stopped")
	case <-doneCtx.Done():
		logger.Error("webhook worker shutdown timed out", "error", doneCtx.Err())
	}
}
