package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Client backed by process memory. Delayed messages become
// visible once the queue clock passes their scheduled time, so tests can
// drive retries by moving the clock instead of sleeping.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []*memoryEntry
	inflight map[string]*memoryEntry
	now      func() time.Time
	notify   chan struct{}
}

type memoryEntry struct {
	id        string
	body      string
	visibleAt time.Time
}

// Scheduled describes a message waiting in a MemoryQueue.
type Scheduled struct {
	Body      string
	VisibleAt time.Time
}

// MemoryOption customizes a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithClock overrides the clock used to decide message visibility.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		inflight: make(map[string]*memoryEntry),
		now:      time.Now,
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send schedules body to become visible after delay.
func (q *MemoryQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	q.pending = append(q.pending, &memoryEntry{
		id:        uuid.NewString(),
		body:      body,
		visibleAt: q.now().Add(delay),
	})
	sort.SliceStable(q.pending, func(i, j int) bool {
		return q.pending[i].visibleAt.Before(q.pending[j].visibleAt)
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns visible messages. With waitSeconds == 0 it never blocks.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		messages, nextVisible := q.collect(maxMessages)
		if len(messages) > 0 || waitSeconds <= 0 {
			return messages, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if !nextVisible.IsZero() {
			if d := nextVisible.Sub(q.now()); d > 0 && d < wait {
				wait = d
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Delete acknowledges a received message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	delete(q.inflight, receiptHandle)
	q.mu.Unlock()
	return nil
}

// Release makes a received, unacknowledged message visible again.
func (q *MemoryQueue) Release(receiptHandle string) {
	q.mu.Lock()
	entry, ok := q.inflight[receiptHandle]
	if ok {
		delete(q.inflight, receiptHandle)
		entry.visibleAt = q.now()
		q.pending = append([]*memoryEntry{entry}, q.pending...)
	}
	q.mu.Unlock()
}

// Pending lists messages that have not been received yet, soonest first.
func (q *MemoryQueue) Pending() []Scheduled {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Scheduled, 0, len(q.pending))
	for _, entry := range q.pending {
		out = append(out, Scheduled{Body: entry.body, VisibleAt: entry.visibleAt})
	}
	return out
}

// Len counts pending and in-flight messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

func (q *MemoryQueue) collect(max int) ([]Message, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var messages []Message
	remaining := q.pending[:0]
	var nextVisible time.Time
	for _, entry := range q.pending {
		if len(messages) < max && !entry.visibleAt.After(now) {
			handle := uuid.NewString()
			q.inflight[handle] = entry
			messages = append(messages, Message{ID: entry.id, Body: entry.body, ReceiptHandle: handle})
			continue
		}
		if nextVisible.IsZero() || entry.visibleAt.Before(nextVisible) {
			nextVisible = entry.visibleAt
		}
		remaining = append(remaining, entry)
	}
	q.pending = remaining
	return messages, nextVisible
}
