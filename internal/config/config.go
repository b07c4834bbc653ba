package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port                string
	Env                 string
	LogLevel            string
	DatabaseURL         string
	UseMemoryQueue      bool
	WorkerCount         int
	OutboxPollInterval  time.Duration
	OutboxMaxAttempts   int
	MaxUploadBytes      int
	DeletedMessageText  string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool

	// Resource staging and attachment storage
	StagingBucket     string
	StagingPrefix     string
	StagingURLTTL     time.Duration
	AttachmentsPrefix string

	// Audio transcription
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	FrontendURL           string
	TranscriptionTimeout  time.Duration
	TranscriptionMaxBytes int
	EnrichmentConcurrency int

	// Translation
	GoogleTranslateAPIKey string

	// Outbound delivery
	WebhookQueueURL      string
	ReplyQueueURL        string
	WebhookSigningSecret string
	WebhookAttemptsTable string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 2),
		OutboxPollInterval:  getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxMaxAttempts:   getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),
		MaxUploadBytes:      getEnvAsInt("MAX_UPLOAD_BYTES", 32<<20),
		DeletedMessageText:  getEnv("DELETED_MESSAGE_TEXT", "This message was deleted"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		RedisAddr:           getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),

		StagingBucket:     getEnv("STAGING_BUCKET", ""),
		StagingPrefix:     strings.Trim(getEnv("STAGING_PREFIX", "staging"), "/"),
		StagingURLTTL:     getEnvAsDuration("STAGING_URL_TTL", 15*time.Minute),
		AttachmentsPrefix: strings.Trim(getEnv("ATTACHMENTS_PREFIX", "attachments"), "/"),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		FrontendURL:           strings.TrimRight(getEnv("FRONTEND_URL", ""), "/"),
		TranscriptionTimeout:  getEnvAsDuration("TRANSCRIPTION_TIMEOUT", 60*time.Second),
		TranscriptionMaxBytes: getEnvAsInt("TRANSCRIPTION_MAX_BYTES", 25<<20),
		EnrichmentConcurrency: getEnvAsInt("ENRICHMENT_CONCURRENCY", 1),

		GoogleTranslateAPIKey: getEnv("GOOGLE_TRANSLATE_API_KEY", ""),

		WebhookQueueURL:      getEnv("WEBHOOK_QUEUE_URL", ""),
		ReplyQueueURL:        getEnv("REPLY_QUEUE_URL", ""),
		WebhookSigningSecret: getEnv("WEBHOOK_SIGNING_SECRET", ""),
		WebhookAttemptsTable: getEnv("WEBHOOK_ATTEMPTS_TABLE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
