package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type labels a webhook for its destination. It never changes delivery policy.
type Type string

const (
	TypeAccount  Type = "account_webhook"
	TypeInbox    Type = "inbox_webhook"
	TypeAgentBot Type = "agent_bot_webhook"
)

// Valid reports whether t is a known webhook type.
func (t Type) Valid() bool {
	switch t {
	case TypeAccount, TypeInbox, TypeAgentBot:
		return true
	}
	return false
}

// Task is one queued delivery attempt of a webhook event.
type Task struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Payload     json.RawMessage `json:"payload"`
	WebhookType Type            `json:"webhook_type"`
	Attempt     int             `json:"attempt"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

func (t Task) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("webhooks: task id required")
	}
	if strings.TrimSpace(t.URL) == "" {
		return errors.New("webhooks: task url required")
	}
	if !t.WebhookType.Valid() {
		return fmt.Errorf("webhooks: unknown webhook type %q", t.WebhookType)
	}
	return nil
}

func encodeTask(t Task) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("webhooks: marshal task: %w", err)
	}
	return string(body), nil
}

func decodeTask(body string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return Task{}, fmt.Errorf("webhooks: decode task: %w", err)
	}
	if err := t.validate(); err != nil {
		return Task{}, err
	}
	if t.Attempt < 1 {
		t.Attempt = 1
	}
	return t, nil
}
