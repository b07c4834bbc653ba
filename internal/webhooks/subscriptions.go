package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Subscription is a destination registered for an account's events. An
// empty Events list subscribes to every event. A nil InboxID covers all inboxes.
type Subscription struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	InboxID   *uuid.UUID
	URL       string
	Type      Type
	Events    []string
	CreatedAt time.Time
}

type subscriptionQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SubscriptionStore reads webhook_subscriptions.
type SubscriptionStore struct {
	db subscriptionQuerier
}

func NewSubscriptionStore(db subscriptionQuerier) *SubscriptionStore {
	if db == nil {
		panic("webhooks: subscription db cannot be nil")
	}
	return &SubscriptionStore{db: db}
}

// ListForEvent returns active subscriptions of accountID that want eventType
// for inboxID. inboxID may be uuid.Nil when the event has no inbox.
func (s *SubscriptionStore) ListForEvent(ctx context.Context, accountID, inboxID uuid.UUID, eventType string) ([]Subscription, error) {
	query := `
		SELECT id, account_id, inbox_id, url, webhook_type, events, created_at
		FROM webhook_subscriptions
		WHERE account_id = $1
		  AND active
		  AND (inbox_id IS NULL OR inbox_id = $2)
		  AND (cardinality(events) = 0 OR $3 = ANY(events))
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query, accountID, inboxID, eventType)
	if err != nil {
		return nil, fmt.Errorf("webhooks: list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var (
			sub     Subscription
			typ     string
			inboxID *uuid.UUID
		)
		if err := rows.Scan(&sub.ID, &sub.AccountID, &inboxID, &sub.URL, &typ, &sub.Events, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("webhooks: scan subscription: %w", err)
		}
		sub.InboxID = inboxID
		sub.Type = Type(typ)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("webhooks: list subscriptions: %w", err)
	}
	return subs, nil
}
