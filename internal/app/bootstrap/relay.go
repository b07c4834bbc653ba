package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/conversation-relay/internal/config"
	"github.com/wolfman30/conversation-relay/internal/enrichment"
	"github.com/wolfman30/conversation-relay/internal/events"
	"github.com/wolfman30/conversation-relay/internal/messages"
	"github.com/wolfman30/conversation-relay/internal/observability/metrics"
	"github.com/wolfman30/conversation-relay/internal/queue"
	"github.com/wolfman30/conversation-relay/internal/staging"
	"github.com/wolfman30/conversation-relay/internal/transcription"
	"github.com/wolfman30/conversation-relay/internal/translation"
	"github.com/wolfman30/conversation-relay/internal/webhooks"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// MessageDeps are the shared clients the message API is built from.
type MessageDeps struct {
	Config     *appconfig.Config
	Logger     *logging.Logger
	Pool       *pgxpool.Pool
	Lanes      queue.Lanes
	S3         *s3.Client
	Registerer prometheus.Registerer
}

// BuildMessageService wires storage, enrichment, translation and the outbox
// into a messages.Service. The returned Store doubles as the conversation
// lookup for the HTTP handler.
func BuildMessageService(ctx context.Context, deps MessageDeps) (*messages.Service, *messages.Store, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, nil, errors.New("bootstrap: config required")
	}
	if deps.Pool == nil {
		return nil, nil, errors.New("bootstrap: database pool required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	enrichMetrics := metrics.NewEnrichmentMetrics(deps.Registerer)

	stagingCfg := staging.Config{
		Bucket:  cfg.StagingBucket,
		Prefix:  cfg.StagingPrefix,
		URLTTL:  cfg.StagingURLTTL,
		Logger:  logger,
		Metrics: enrichMetrics,
	}
	if deps.S3 != nil {
		stagingCfg.Client = deps.S3
		stagingCfg.Presigner = s3.NewPresignClient(deps.S3)
	}
	store := staging.NewS3Store(stagingCfg)
	if !store.Enabled() {
		logger.Warn("attachment storage disabled: STAGING_BUCKET not set")
	}

	transcriber := transcription.New(transcription.Config{
		APIKey:        cfg.OpenAIAPIKey,
		BaseURL:       cfg.OpenAIBaseURL,
		FrontendURL:   cfg.FrontendURL,
		Timeout:       cfg.TranscriptionTimeout,
		MaxAudioBytes: int64(cfg.TranscriptionMaxBytes),
		Logger:        logger,
		Metrics:       enrichMetrics,
	})
	pipeline := enrichment.NewPipeline(store, transcriber, logger,
		enrichment.WithConcurrency(cfg.EnrichmentConcurrency))

	translator, err := translation.NewGoogleTranslator(ctx, translation.Config{
		APIKey: cfg.GoogleTranslateAPIKey,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: translator: %w", err)
	}

	repo := messages.NewStore(deps.Pool)
	svc := messages.NewService(messages.ServiceConfig{
		Repo:              repo,
		Enricher:          pipeline,
		Translator:        translator,
		Blobs:             store,
		Replies:           messages.NewReplyPublisher(deps.Lanes, logger),
		Outbox:            events.NewOutboxStore(deps.Pool),
		AttachmentsPrefix: cfg.AttachmentsPrefix,
		DeletedText:       cfg.DeletedMessageText,
		Logger:            logger,
	})
	return svc, repo, nil
}

// WebhookDeps are the shared clients the delivery worker is built from.
type WebhookDeps struct {
	Config     *appconfig.Config
	Logger     *logging.Logger
	Lanes      queue.Lanes
	Redis      redis.UniversalClient
	Dynamo     *dynamodb.Client
	HTTPClient *http.Client
	Registerer prometheus.Registerer
}

// BuildWebhookWorker wires the medium-lane consumer. Redis and DynamoDB are
// optional: without them the worker runs unguarded and without a ledger.
func BuildWebhookWorker(deps WebhookDeps) (*webhooks.Worker, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	lane, err := deps.Lanes.Get(queue.LaneMedium)
	if err != nil {
		return nil, err
	}

	policy := webhooks.DefaultRetryPolicy()
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	opts := []webhooks.WorkerOption{
		webhooks.WithWorkerCount(cfg.WorkerCount),
		webhooks.WithPolicy(policy),
		webhooks.WithMetrics(metrics.NewWebhookMetrics(deps.Registerer)),
	}
	if cfg.UseMemoryQueue {
		opts = append(opts, webhooks.WithReceiveWaitSeconds(1))
	} else {
		opts = append(opts, webhooks.WithReceiveWaitSeconds(20))
	}
	if deps.Redis != nil {
		opts = append(opts, webhooks.WithGuard(webhooks.NewInflightGuard(deps.Redis, 2*policy.Timeout, 0)))
	} else {
		logger.Warn("webhook in-flight guard disabled: redis not configured")
	}
	if deps.Dynamo != nil && cfg.WebhookAttemptsTable != "" {
		opts = append(opts, webhooks.WithLedger(webhooks.NewAttemptLedger(deps.Dynamo, cfg.WebhookAttemptsTable, logger)))
	}

	trigger := webhooks.NewHTTPTrigger(httpClient, cfg.WebhookSigningSecret)
	return webhooks.NewWorker(lane, trigger, logger, opts...), nil
}

// BuildOutboxDeliverer polls the outbox and fans entries out to webhook
// subscriptions through the medium lane.
func BuildOutboxDeliverer(cfg *appconfig.Config, pool *pgxpool.Pool, lanes queue.Lanes, logger *logging.Logger) (*events.Deliverer, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if pool == nil {
		return nil, errors.New("bootstrap: database pool required")
	}
	if _, err := lanes.Get(queue.LaneMedium); err != nil {
		return nil, err
	}
	emitter := webhooks.NewEmitter(
		webhooks.NewSubscriptionStore(pool),
		webhooks.NewDispatcher(lanes, logger),
		logger,
		webhooks.WithFanoutStore(webhooks.NewFanoutStore(pool)),
	)
	return events.NewDeliverer(events.NewOutboxStore(pool), emitter, logger).
		WithInterval(cfg.OutboxPollInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts), nil
}
