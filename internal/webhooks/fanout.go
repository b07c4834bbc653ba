package webhooks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// deliveryNamespace seeds deterministic delivery IDs.
var deliveryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("conversation-relay/webhook-delivery"))

// deliveryID is stable for an (outbox entry, subscription) pair, so fanning
// the same entry out again reuses the task ID of the first dispatch.
func deliveryID(outboxID, subscriptionID uuid.UUID) string {
	return uuid.NewSHA1(deliveryNamespace, []byte(outboxID.String()+"/"+subscriptionID.String())).String()
}

type fanoutDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// FanoutStore records which subscriptions already have an outbox entry
// enqueued for delivery.
type FanoutStore struct {
	db fanoutDB
}

func NewFanoutStore(db fanoutDB) *FanoutStore {
	if db == nil {
		panic("webhooks: fanout db cannot be nil")
	}
	return &FanoutStore{db: db}
}

// Dispatched returns the subscription IDs already enqueued for outboxID.
func (s *FanoutStore) Dispatched(ctx context.Context, outboxID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT subscription_id FROM webhook_fanout WHERE outbox_id = $1`, outboxID)
	if err != nil {
		return nil, fmt.Errorf("webhooks: list fanout: %w", err)
	}
	defer rows.Close()

	done := map[uuid.UUID]bool{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("webhooks: scan fanout: %w", err)
		}
		done[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("webhooks: list fanout: %w", err)
	}
	return done, nil
}

// MarkDispatched records that taskID carries outboxID to subscriptionID.
func (s *FanoutStore) MarkDispatched(ctx context.Context, outboxID, subscriptionID uuid.UUID, taskID string) error {
	query := `
		INSERT INTO webhook_fanout (outbox_id, subscription_id, task_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (outbox_id, subscription_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, outboxID, subscriptionID, taskID); err != nil {
		return fmt.Errorf("webhooks: record fanout: %w", err)
	}
	return nil
}
