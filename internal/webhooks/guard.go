package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	guardKeyPrefix = "relay:webhook:attempt:"
	guardDoneValue = "done"
	defaultLockTTL = time.Minute
	defaultDoneTTL = 24 * time.Hour
)

// GuardState is the outcome of trying to claim a task attempt.
type GuardState int

const (
	GuardAcquired GuardState = iota
	GuardInFlight
	GuardDone
)

func (s GuardState) String() string {
	switch s {
	case GuardAcquired:
		return "acquired"
	case GuardInFlight:
		return "in_flight"
	case GuardDone:
		return "done"
	}
	return "unknown"
}

// Guard claims task attempts so a redelivered queue message is not executed
// twice at the same time.
type Guard interface {
	Acquire(ctx context.Context, task Task) (GuardState, string, error)
	Complete(ctx context.Context, task Task, token string) error
	Release(ctx context.Context, task Task, token string) error
}

var (
	completeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// InflightGuard implements Guard on Redis. An attempt key holds the owner's
// token while it runs and "done" once it finished.
type InflightGuard struct {
	redis   redis.UniversalClient
	lockTTL time.Duration
	doneTTL time.Duration
}

// NewInflightGuard builds a guard. lockTTL should exceed the attempt timeout.
func NewInflightGuard(client redis.UniversalClient, lockTTL, doneTTL time.Duration) *InflightGuard {
	if client == nil {
		panic("webhooks: redis client cannot be nil")
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	if doneTTL <= 0 {
		doneTTL = defaultDoneTTL
	}
	return &InflightGuard{redis: client, lockTTL: lockTTL, doneTTL: doneTTL}
}

func guardKey(task Task) string {
	return guardKeyPrefix + task.ID + ":" + strconv.Itoa(task.Attempt)
}

func (g *InflightGuard) Acquire(ctx context.Context, task Task) (GuardState, string, error) {
	key := guardKey(task)
	token := uuid.NewString()
	ok, err := g.redis.SetNX(ctx, key, token, g.lockTTL).Result()
	if err != nil {
		return GuardInFlight, "", fmt.Errorf("webhooks: acquire guard: %w", err)
	}
	if ok {
		return GuardAcquired, token, nil
	}

	current, err := g.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = g.redis.SetNX(ctx, key, token, g.lockTTL).Result()
		if err != nil {
			return GuardInFlight, "", fmt.Errorf("webhooks: acquire guard: %w", err)
		}
		if ok {
			return GuardAcquired, token, nil
		}
		return GuardInFlight, "", nil
	}
	if err != nil {
		return GuardInFlight, "", fmt.Errorf("webhooks: read guard: %w", err)
	}
	if current == guardDoneValue {
		return GuardDone, "", nil
	}
	return GuardInFlight, "", nil
}

func (g *InflightGuard) Complete(ctx context.Context, task Task, token string) error {
	if token == "" {
		return nil
	}
	err := completeScript.Run(ctx, g.redis, []string{guardKey(task)},
		token, guardDoneValue, g.doneTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("webhooks: complete guard: %w", err)
	}
	return nil
}

func (g *InflightGuard) Release(ctx context.Context, task Task, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, g.redis, []string{guardKey(task)}, token).Err(); err != nil {
		return fmt.Errorf("webhooks: release guard: %w", err)
	}
	return nil
}

type noopGuard struct{}

func (noopGuard) Acquire(context.Context, Task) (GuardState, string, error) {
	return GuardAcquired, "", nil
}
func (noopGuard) Complete(context.Context, Task, string) error { return nil }
func (noopGuard) Release(context.Context, Task, string) error  { return nil }
