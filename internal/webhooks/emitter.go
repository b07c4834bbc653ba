package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/conversation-relay/internal/events"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

type subscriptionLister interface {
	ListForEvent(ctx context.Context, accountID, inboxID uuid.UUID, eventType string) ([]Subscription, error)
}

type dispatcher interface {
	DispatchWithID(ctx context.Context, id, url string, payload any, webhookType Type) error
}

type fanoutRecorder interface {
	Dispatched(ctx context.Context, outboxID uuid.UUID) (map[uuid.UUID]bool, error)
	MarkDispatched(ctx context.Context, outboxID, subscriptionID uuid.UUID, taskID string) error
}

// EmitterOption customises an Emitter.
type EmitterOption func(*Emitter)

// WithFanoutStore skips subscriptions that already received an entry when
// the outbox hands it over again.
func WithFanoutStore(store fanoutRecorder) EmitterOption {
	return func(e *Emitter) {
		e.fanout = store
	}
}

// Emitter turns outbox entries into webhook deliveries, one per matching
// subscription.
type Emitter struct {
	subs     subscriptionLister
	dispatch dispatcher
	fanout   fanoutRecorder
	logger   *logging.Logger
}

var _ events.DeliveryHandler = (*Emitter)(nil)

func NewEmitter(subs subscriptionLister, d dispatcher, logger *logging.Logger, opts ...EmitterOption) *Emitter {
	if subs == nil || d == nil {
		panic("webhooks: emitter requires subscriptions and dispatcher")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Emitter{subs: subs, dispatch: d, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle fans entry out. Unusable subscriptions are logged and skipped. An
// enqueue failure fails the entry so the outbox hands it over again; only
// subscriptions not yet recorded are dispatched then, each under the same
// delivery ID as before.
func (e *Emitter) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if !emittable(entry.Type) {
		return nil
	}

	data := map[string]any{}
	if len(entry.Payload) > 0 {
		if err := json.Unmarshal(entry.Payload, &data); err != nil {
			return fmt.Errorf("webhooks: decode outbox payload %s: %w", entry.ID, err)
		}
	}
	if private, _ := data["private"].(bool); private {
		return nil
	}

	inboxID := uuid.Nil
	if raw, ok := data["inbox_id"].(string); ok {
		if parsed, err := uuid.Parse(raw); err == nil {
			inboxID = parsed
		}
	}

	subs, err := e.subs.ListForEvent(ctx, entry.AccountID, inboxID, entry.Type)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	data["event"] = entry.Type
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("webhooks: encode webhook body: %w", err)
	}

	done := map[uuid.UUID]bool{}
	if e.fanout != nil {
		if done, err = e.fanout.Dispatched(ctx, entry.ID); err != nil {
			return err
		}
	}

	var errs []error
	for _, sub := range subs {
		if done[sub.ID] {
			continue
		}
		taskID := deliveryID(entry.ID, sub.ID)
		err := e.dispatch.DispatchWithID(ctx, taskID, sub.URL, json.RawMessage(body), sub.Type)
		if errors.Is(err, ErrInvalidDelivery) {
			e.logger.Warn("skipping unusable webhook subscription", "error", err, "subscription_id", sub.ID, "event", entry.Type)
			continue
		}
		if err != nil {
			e.logger.Error("failed to dispatch webhook", "error", err, "subscription_id", sub.ID, "event", entry.Type)
			errs = append(errs, err)
			continue
		}
		if e.fanout != nil {
			if err := e.fanout.MarkDispatched(ctx, entry.ID, sub.ID, taskID); err != nil {
				e.logger.Warn("failed to record webhook fanout", "error", err, "subscription_id", sub.ID, "event_id", entry.ID)
			}
		}
	}
	return errors.Join(errs...)
}

func emittable(eventType string) bool {
	switch eventType {
	case events.TypeMessageCreated, events.TypeMessageUpdated:
		return true
	}
	return events.IsConversationEvent(eventType)
}
