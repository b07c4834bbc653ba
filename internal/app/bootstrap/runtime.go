package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/conversation-relay/internal/config"
	"github.com/wolfman30/conversation-relay/internal/queue"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildQueueLanes maps the configured queues to priority lanes. With
// USE_MEMORY_QUEUE every lane is an in-process queue, so producers and the
// webhook worker must share the returned Lanes.
func BuildQueueLanes(cfg *appconfig.Config, sqsClient queue.SQSAPI) (queue.Lanes, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if cfg.UseMemoryQueue {
		return queue.Lanes{
			queue.LaneHigh:   queue.NewMemoryQueue(),
			queue.LaneMedium: queue.NewMemoryQueue(),
			queue.LaneLow:    queue.NewMemoryQueue(),
		}, nil
	}
	if sqsClient == nil {
		return nil, errors.New("bootstrap: sqs client required when memory queue is disabled")
	}
	lanes := queue.Lanes{}
	if url := strings.TrimSpace(cfg.ReplyQueueURL); url != "" {
		lanes[queue.LaneHigh] = queue.NewSQSQueue(sqsClient, url)
	}
	if url := strings.TrimSpace(cfg.WebhookQueueURL); url != "" {
		lanes[queue.LaneMedium] = queue.NewSQSQueue(sqsClient, url)
	}
	return lanes, nil
}
