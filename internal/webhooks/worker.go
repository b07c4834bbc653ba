package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/conversation-relay/internal/observability/metrics"
	"github.com/wolfman30/conversation-relay/internal/queue"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Worker consumes webhook tasks from a queue lane and delivers them.
type Worker struct {
	queue   queue.Client
	trigger Trigger
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	policy           RetryPolicy
	guard            Guard
	ledger           Ledger
	metrics          *metrics.WebhookMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func WithPolicy(policy RetryPolicy) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.policy = policy.normalized()
	}
}

// WithGuard wires an in-flight guard shared by every worker process.
func WithGuard(guard Guard) WorkerOption {
	return func(cfg *workerConfig) {
		if guard != nil {
			cfg.guard = guard
		}
	}
}

func WithLedger(ledger Ledger) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.ledger = ledger
	}
}

func WithMetrics(m *metrics.WebhookMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker builds a consumer for the lane q. Retries are re-enqueued on q.
func NewWorker(q queue.Client, trigger Trigger, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if q == nil {
		panic("webhooks: queue cannot be nil")
	}
	if trigger == nil {
		panic("webhooks: trigger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		policy:           DefaultRetryPolicy(),
		guard:            noopGuard{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: q, trigger: trigger, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("webhook worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("webhook worker stopping", "worker_id", workerID)
			return
		default:
		}

		if _, err := w.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive webhook tasks", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

// poll receives one batch and handles it, returning how many messages it saw.
func (w *Worker) poll(ctx context.Context) (int, error) {
	messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
	if err != nil {
		return 0, err
	}
	for _, msg := range messages {
		w.handleMessage(ctx, msg)
	}
	return len(messages), nil
}

func (w *Worker) handleMessage(ctx context.Context, msg queue.Message) {
	task, err := decodeTask(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode webhook task", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	state, token, err := w.cfg.guard.Acquire(ctx, task)
	if err != nil {
		w.logger.Warn("webhook guard unavailable, delivering unguarded", "error", err, "task_id", task.ID)
		state, token = GuardAcquired, ""
	}
	switch state {
	case GuardDone:
		w.logger.Debug("dropping duplicate webhook task", "task_id", task.ID, "attempt", task.Attempt)
		w.deleteMessage(msg.ReceiptHandle)
		return
	case GuardInFlight:
		w.logger.Debug("webhook task already in flight", "task_id", task.ID, "attempt", task.Attempt)
		return
	}

	attemptErr := w.attempt(ctx, task)
	if attemptErr == nil {
		w.logger.Info("webhook delivered", "task_id", task.ID, "webhook_type", task.WebhookType, "attempt", task.Attempt)
		w.record(ctx, task, OutcomeDelivered, nil)
		w.complete(ctx, task, token)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	if w.cfg.policy.Exhausted(task.Attempt) {
		w.logger.Error("webhook delivery exhausted",
			"error", attemptErr,
			"task_id", task.ID,
			"webhook_type", task.WebhookType,
			"url", task.URL,
			"attempts", task.Attempt,
		)
		w.cfg.metrics.ObserveExhausted(string(task.WebhookType))
		w.record(ctx, task, OutcomeExhausted, attemptErr)
		w.complete(ctx, task, token)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	next := task
	next.Attempt = task.Attempt + 1
	next.LastError = attemptErr.Error()
	delay := w.cfg.policy.Backoff(task.Attempt)
	if err := w.requeue(ctx, next, delay); err != nil {
		// the received message becomes visible again and carries the retry instead
		w.logger.Error("failed to schedule webhook retry", "error", err, "task_id", task.ID, "attempt", task.Attempt)
		if relErr := w.cfg.guard.Release(context.WithoutCancel(ctx), task, token); relErr != nil {
			w.logger.Warn("failed to release webhook guard", "error", relErr, "task_id", task.ID)
		}
		return
	}
	w.logger.Warn("webhook attempt failed, retry scheduled",
		"error", attemptErr,
		"task_id", task.ID,
		"webhook_type", task.WebhookType,
		"attempt", task.Attempt,
		"retry_in", delay.String(),
	)
	w.record(ctx, task, OutcomeRetrying, attemptErr)
	w.complete(ctx, task, token)
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) attempt(ctx context.Context, task Task) error {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.policy.Timeout)
	defer cancel()

	start := time.Now()
	err := w.trigger.Execute(attemptCtx, task)
	if err == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("webhooks: attempt exceeded %s: %w", w.cfg.policy.Timeout, context.DeadlineExceeded)
	}
	w.cfg.metrics.ObserveAttempt(string(task.WebhookType), err, time.Since(start).Seconds())
	return err
}

func (w *Worker) requeue(ctx context.Context, task Task, delay time.Duration) error {
	body, err := encodeTask(task)
	if err != nil {
		return err
	}
	return w.queue.Send(context.WithoutCancel(ctx), body, delay)
}

func (w *Worker) record(ctx context.Context, task Task, outcome Outcome, cause error) {
	if w.cfg.ledger == nil {
		return
	}
	if err := w.cfg.ledger.Record(context.WithoutCancel(ctx), task, outcome, cause); err != nil {
		w.logger.Warn("failed to record webhook attempt", "error", err, "task_id", task.ID, "outcome", outcome)
	}
}

func (w *Worker) complete(ctx context.Context, task Task, token string) {
	if err := w.cfg.guard.Complete(context.WithoutCancel(ctx), task, token); err != nil {
		w.logger.Warn("failed to mark webhook attempt done", "error", err, "task_id", task.ID)
	}
}

func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete webhook task", "error", err)
	}
}
