package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client is a durable, at-least-once task queue.
type Client interface {
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is a received queue entry. It stays invisible to other consumers
// until deleted or until its visibility lapses.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Lane names a priority lane of the task queue.
type Lane string

const (
	LaneHigh   Lane = "high"
	LaneMedium Lane = "medium"
	LaneLow    Lane = "low"
)

// ErrLaneNotConfigured is returned when no queue backs the requested lane.
var ErrLaneNotConfigured = errors.New("queue: lane not configured")

// Lanes maps lane names to their backing queues.
type Lanes map[Lane]Client

// Get returns the queue for lane.
func (l Lanes) Get(lane Lane) (Client, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrLaneNotConfigured, lane)
	}
	client, ok := l[lane]
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %s", ErrLaneNotConfigured, lane)
	}
	return client, nil
}

// Send enqueues body on lane.
func (l Lanes) Send(ctx context.Context, lane Lane, body string, delay time.Duration) error {
	client, err := l.Get(lane)
	if err != nil {
		return err
	}
	return client.Send(ctx, body, delay)
}
