package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Aggregate string
	Type      string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// DeliveryHandlerFunc adapts a function to DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f DeliveryHandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

// Execer is satisfied by pgx pools, connections and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type querier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxStore persists events for reliable delivery.
type OutboxStore struct {
	pool querier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func newOutboxStoreWithExec(q querier) *OutboxStore {
	if q == nil {
		panic("events: exec required")
	}
	return &OutboxStore{pool: q}
}

// Insert writes an event through exec, which is normally the caller's
// transaction so the event commits with the state change. A nil exec uses
// the store's pool.
func (s *OutboxStore) Insert(ctx context.Context, exec Execer, accountID uuid.UUID, aggregate, eventType string, payload any) (uuid.UUID, error) {
	if exec == nil {
		exec = s.pool
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO outbox (id, account_id, aggregate, type, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := exec.Exec(ctx, query, id, accountID, aggregate, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// Append writes a typed event; the event type comes from the event itself.
func (s *OutboxStore) Append(ctx context.Context, exec Execer, accountID uuid.UUID, aggregate string, evt Event) (uuid.UUID, error) {
	if evt == nil {
		return uuid.Nil, errNilEvent
	}
	return s.Insert(ctx, exec, accountID, aggregate, evt.EventType(), evt)
}

// FetchPending claims up to limit undelivered entries that still have
// attempts left. Claimed rows stay invisible to other pollers for lease, so
// concurrent deliverers never hand out the same entry at the same time.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32, maxAttempts int, lease time.Duration) ([]OutboxEntry, error) {
	query := `
		UPDATE outbox
		SET claimed_until = now() + make_interval(secs => $3)
		WHERE id IN (
			SELECT id
			FROM outbox
			WHERE delivered_at IS NULL
			  AND dead_at IS NULL
			  AND attempts < $2
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, account_id, aggregate, type, payload, attempts, created_at
	`
	rows, err := s.pool.Query(ctx, query, limit, maxAttempts, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Aggregate, &entry.Type, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	// RETURNING does not keep the subquery order.
	slices.SortStableFunc(entries, func(a, b OutboxEntry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return entries, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now(), claimed_until = NULL
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed hand-off. The entry becomes claimable again
// after retryAfter; once attempts reaches maxAttempts it is marked dead and
// never fetched again. It reports whether the entry is now dead.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error, maxAttempts int, retryAfter time.Duration) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    claimed_until = now() + make_interval(secs => $4),
		    dead_at = CASE WHEN attempts + 1 >= $3 THEN now() END
		WHERE id = $1 AND delivered_at IS NULL
		RETURNING dead_at IS NOT NULL
	`
	var dead bool
	if err := s.pool.QueryRow(ctx, query, id, msg, maxAttempts, retryAfter.Seconds()).Scan(&dead); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: mark failed: %w", err)
	}
	return dead, nil
}

const (
	defaultMaxAttempts = 8
	defaultClaimLease  = time.Minute
	maxRetryDelay      = 10 * time.Minute
)

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store       *OutboxStore
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	maxAttempts int
	lease       time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		interval:    2 * time.Second,
		maxAttempts: defaultMaxAttempts,
		lease:       defaultClaimLease,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithMaxAttempts bounds how many times an entry is handed to the handler
// before it is marked dead.
func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// WithClaimLease sets how long a fetched entry stays reserved for this
// deliverer.
func (d *Deliverer) WithClaimLease(lease time.Duration) *Deliverer {
	if lease > 0 {
		d.lease = lease
	}
	return d
}

// Start polls until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain hands one batch to the handler. Failed entries come back after a
// growing delay until they run out of attempts.
func (d *Deliverer) drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts, d.lease)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type, "attempt", entry.Attempts+1)
			dead, markErr := d.store.MarkFailed(ctx, entry.ID, err, d.maxAttempts, d.retryDelay(entry.Attempts+1))
			if markErr != nil {
				d.logger.Warn("failed to record outbox failure", "error", markErr, "event_id", entry.ID)
			} else if dead {
				d.logger.Error("outbox entry exhausted, giving up", "event_id", entry.ID, "type", entry.Type, "attempts", entry.Attempts+1)
			}
			continue
		}
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			delivered++
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered
}

// retryDelay doubles the poll interval per failed attempt.
func (d *Deliverer) retryDelay(attempts int) time.Duration {
	delay := d.interval
	for i := 1; i < attempts && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}
