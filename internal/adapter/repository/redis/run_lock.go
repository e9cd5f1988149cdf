package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

// Only the holder's token may extend or delete the key.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RunLock implements domain.RunLock with a Redis key that expires after ttl
// unless refreshed, so a crashed run cannot block the store forever.
type RunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
	logger *slog.Logger
}

// NewRunLock creates a lock on key. Each instance carries its own owner token.
func NewRunLock(client *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *RunLock {
	token := uuid.NewString()
	return &RunLock{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  token,
		logger: logger.With("component", "redis_run_lock", "key", key, "token", token),
	}
}

// Acquire takes the lock or returns domain.ErrRunInProgress.
func (l *RunLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		holder, err := l.client.Get(ctx, l.key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("could not read run lock holder", "error", err)
		}
		return fmt.Errorf("%w: lock %q held by %q", domain.ErrRunInProgress, l.key, holder)
	}
	l.logger.Debug("run lock acquired", "ttl", l.ttl)
	return nil
}

// Release deletes the key if this instance still owns it.
func (l *RunLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	if n == 0 {
		l.logger.Warn("run lock was no longer held at release")
		return nil
	}
	l.logger.Debug("run lock released")
	return nil
}

// KeepAlive extends the lock every interval until ctx is done. Run it in its
// own goroutine for the duration of a run.
func (l *RunLock) KeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("failed to refresh run lock", "error", err)
				continue
			}
			if n == 0 {
				l.logger.Error("run lock lost before the run finished")
				return
			}
		}
	}
}
