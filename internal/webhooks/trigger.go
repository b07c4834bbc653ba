package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Trigger performs one delivery attempt. It must honour ctx cancellation.
type Trigger interface {
	Execute(ctx context.Context, task Task) error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, task Task) error

func (f TriggerFunc) Execute(ctx context.Context, task Task) error { return f(ctx, task) }

// StatusError is returned for non-2xx webhook responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhooks: endpoint returned %d: %s", e.StatusCode, e.Body)
}

// HTTPTrigger POSTs the task payload as JSON.
type HTTPTrigger struct {
	client    *http.Client
	secret    []byte
	userAgent string
	tracer    trace.Tracer
}

// NewHTTPTrigger builds a trigger. When secret is set every request carries
// an X-Webhook-Signature header.
func NewHTTPTrigger(client *http.Client, secret string) *HTTPTrigger {
	if client == nil {
		client = &http.Client{}
	}
	t := &HTTPTrigger{
		client:    client,
		userAgent: "conversation-relay-webhooks/1.0",
		tracer:    otel.Tracer("relay.internal.webhooks"),
	}
	if s := strings.TrimSpace(secret); s != "" {
		t.secret = []byte(s)
	}
	return t
}

// WithTracer swaps the tracer used for delivery spans.
func (t *HTTPTrigger) WithTracer(tracer trace.Tracer) *HTTPTrigger {
	if tracer != nil {
		t.tracer = tracer
	}
	return t
}

func (t *HTTPTrigger) Execute(ctx context.Context, task Task) error {
	ctx, span := t.tracer.Start(ctx, "webhooks.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("relay.webhook.type", string(task.WebhookType)),
		attribute.String("relay.webhook.task_id", task.ID),
		attribute.Int("relay.webhook.attempt", task.Attempt),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.URL, bytes.NewReader(task.Payload))
	if err != nil {
		span.SetStatus(codes.Error, "build request")
		return fmt.Errorf("webhooks: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("X-Webhook-Type", string(task.WebhookType))
	req.Header.Set("X-Webhook-Delivery", task.ID)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(task.Attempt))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if len(t.secret) > 0 {
		req.Header.Set("X-Webhook-Signature", Sign(t.secret, task.Payload))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("webhooks: deliver: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		span.SetStatus(codes.Error, "non-2xx")
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign returns the sha256 HMAC of body in "sha256=<hex>" form.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a header produced by Sign.
func VerifySignature(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(header)))
}
