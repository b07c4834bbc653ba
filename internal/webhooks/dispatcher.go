package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/conversation-relay/internal/queue"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// Dispatcher enqueues webhook deliveries on the medium priority lane.
type Dispatcher struct {
	lanes  queue.Lanes
	logger *logging.Logger
	now    func() time.Time
}

func NewDispatcher(lanes queue.Lanes, logger *logging.Logger) *Dispatcher {
	if lanes == nil {
		panic("webhooks: queue lanes cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{lanes: lanes, logger: logger, now: time.Now}
}

// ErrInvalidDelivery marks a delivery that can never be enqueued as given,
// such as a malformed URL or payload. Retrying it cannot succeed.
var ErrInvalidDelivery = errors.New("webhooks: invalid delivery")

// Dispatch schedules delivery of payload to target and returns without
// waiting for it. payload may be raw JSON bytes or any JSON-marshalable value.
func (d *Dispatcher) Dispatch(ctx context.Context, target string, payload any, webhookType Type) error {
	return d.DispatchWithID(ctx, uuid.NewString(), target, payload, webhookType)
}

// DispatchWithID is Dispatch with a caller-chosen task ID. The ID becomes the
// X-Webhook-Delivery header, so dispatching the same logical delivery twice
// with the same ID lets the worker guard and receivers drop the repeat.
func (d *Dispatcher) DispatchWithID(ctx context.Context, id, target string, payload any, webhookType Type) error {
	target = strings.TrimSpace(target)
	if err := validateTarget(target); err != nil {
		return err
	}
	raw, err := rawPayload(payload)
	if err != nil {
		return err
	}
	task := Task{
		ID:          strings.TrimSpace(id),
		URL:         target,
		Payload:     raw,
		WebhookType: webhookType,
		Attempt:     1,
		EnqueuedAt:  d.now().UTC(),
	}
	if err := task.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDelivery, err)
	}
	body, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := d.lanes.Send(ctx, queue.LaneMedium, body, 0); err != nil {
		return fmt.Errorf("webhooks: failed to enqueue delivery: %w", err)
	}
	d.logger.Debug("webhook delivery enqueued", "task_id", task.ID, "webhook_type", webhookType)
	return nil
}

func validateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("%w: url required", ErrInvalidDelivery)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", ErrInvalidDelivery, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute http(s): %q", ErrInvalidDelivery, target)
	}
	return nil
}

func rawPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: payload is not valid json", ErrInvalidDelivery)
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: payload is not valid json", ErrInvalidDelivery)
		}
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal payload: %v", ErrInvalidDelivery, err)
		}
		return data, nil
	}
}
