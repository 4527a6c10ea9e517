package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

// Locker serializes claimants of the same slot across processes.
type Locker interface {
	WithSlotLock(ctx context.Context, slot string, fn func(ctx context.Context) error) error
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisSlotLocker creates a locker that uses a per slot Redis key. A held lock is
// retried until wait elapses; wait <= 0 means a single attempt.
func NewRedisSlotLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, slot string, fn func(ctx context.Context) error) error {
	key := "lock:slot:" + slot
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release must run even if the caller's context is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisSlotLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire slot lock: %w", err)
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockNotAcquired
		}
		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// NopLocker runs fn directly. For single-process deployments where the store alone serializes.
type NopLocker struct{}

func (NopLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
