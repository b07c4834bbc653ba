package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryQueueDelayedVisibility(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "later", 10*time.Second))
	require.NoError(t, q.Send(ctx, "now", 0))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "now", msgs[0].Body)

	msgs, err = q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	clock.Advance(10 * time.Second)
	msgs, err = q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "later", msgs[0].Body)
}

func TestMemoryQueueDeleteAndRelease(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "a", 0))

	msgs, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, q.Len(), "received message stays in flight")

	q.Release(msgs[0].ReceiptHandle)
	again, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, msgs[0].ID, again[0].ID)

	require.NoError(t, q.Delete(ctx, again[0].ReceiptHandle))
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueReceiveRespectsMax(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	for _, body := range []string{"1", "2", "3"} {
		require.NoError(t, q.Send(ctx, body, 0))
	}
	msgs, err := q.Receive(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Len(t, q.Pending(), 1)
}

func TestMemoryQueueReceiveWakesOnSend(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Send(context.Background(), "wake", 0)
	}()

	msgs, err := q.Receive(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "wake", msgs[0].Body)
}

func TestMemoryQueueReceiveCancelled(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx, 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLanesGet(t *testing.T) {
	medium := NewMemoryQueue()
	lanes := Lanes{LaneMedium: medium}

	client, err := lanes.Get(LaneMedium)
	require.NoError(t, err)
	assert.Same(t, medium, client)

	_, err = lanes.Get(LaneHigh)
	assert.ErrorIs(t, err, ErrLaneNotConfigured)

	require.NoError(t, lanes.Send(context.Background(), LaneMedium, "x", 0))
	assert.Equal(t, 1, medium.Len())
}
