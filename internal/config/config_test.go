package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("STAGING_PREFIX", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "")
	t.Setenv("MAX_UPLOAD_BYTES", "")
	t.Setenv("TRANSCRIPTION_MAX_BYTES", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected transcription key to be absent by default")
	}
	if cfg.OpenAIBaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected transcription base url %s", cfg.OpenAIBaseURL)
	}
	if cfg.StagingPrefix != "staging" {
		t.Fatalf("expected default staging prefix, got %s", cfg.StagingPrefix)
	}
	if cfg.StagingURLTTL != 15*time.Minute {
		t.Fatalf("expected default staging ttl, got %s", cfg.StagingURLTTL)
	}
	if cfg.EnrichmentConcurrency != 1 {
		t.Fatalf("expected sequential enrichment by default, got %d", cfg.EnrichmentConcurrency)
	}
	if cfg.OutboxMaxAttempts != 8 {
		t.Fatalf("expected default outbox attempts, got %d", cfg.OutboxMaxAttempts)
	}
	if cfg.MaxUploadBytes != 32<<20 || cfg.TranscriptionMaxBytes != 25<<20 {
		t.Fatalf("unexpected size limits %d %d", cfg.MaxUploadBytes, cfg.TranscriptionMaxBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("FRONTEND_URL", "https://app.example.com/")
	t.Setenv("STAGING_PREFIX", "/tmp-audio/")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("ENRICHMENT_CONCURRENCY", "4")
	t.Setenv("WEBHOOK_QUEUE_URL", "https://sqs.local/medium")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.FrontendURL != "https://app.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.FrontendURL)
	}
	if cfg.StagingPrefix != "tmp-audio" {
		t.Fatalf("expected prefix slashes trimmed, got %s", cfg.StagingPrefix)
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue enabled")
	}
	if cfg.OutboxPollInterval != 500*time.Millisecond {
		t.Fatalf("expected poll interval override, got %s", cfg.OutboxPollInterval)
	}
	if cfg.EnrichmentConcurrency != 4 {
		t.Fatalf("expected concurrency override, got %d", cfg.EnrichmentConcurrency)
	}
	if cfg.WebhookQueueURL != "https://sqs.local/medium" {
		t.Fatalf("expected webhook queue override, got %s", cfg.WebhookQueueURL)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("STAGING_URL_TTL", "soon")
	cfg := Load()
	if cfg.WorkerCount != 2 {
		t.Fatalf("expected default worker count, got %d", cfg.WorkerCount)
	}
	if cfg.StagingURLTTL != 15*time.Minute {
		t.Fatalf("expected default ttl, got %s", cfg.StagingURLTTL)
	}
}
