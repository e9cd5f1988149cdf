package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

// setupTestClient connects to the Redis named by REDIS_ADDR or skips.
func setupTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis run lock tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRunLock(t *testing.T) {
	client := setupTestClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("Second Holder Is Rejected", func(t *testing.T) {
		key := "auditd_ingest_test:" + uuid.NewString()
		first := NewRunLock(client, key, time.Minute, logger)
		second := NewRunLock(client, key, time.Minute, logger)

		if err := first.Acquire(ctx); err != nil {
			t.Fatalf("expected first acquire to succeed, got %v", err)
		}
		defer first.Release(ctx)

		if err := second.Acquire(ctx); !errors.Is(err, domain.ErrRunInProgress) {
			t.Fatalf("expected ErrRunInProgress, got %v", err)
		}
	})

	t.Run("Release Frees The Key", func(t *testing.T) {
		key := "auditd_ingest_test:" + uuid.NewString()
		first := NewRunLock(client, key, time.Minute, logger)
		second := NewRunLock(client, key, time.Minute, logger)

		if err := first.Acquire(ctx); err != nil {
			t.Fatalf("expected acquire to succeed, got %v", err)
		}
		if err := first.Release(ctx); err != nil {
			t.Fatalf("expected release to succeed, got %v", err)
		}
		if err := second.Acquire(ctx); err != nil {
			t.Fatalf("expected lock to be free after release, got %v", err)
		}
		second.Release(ctx)
	})

	t.Run("Foreign Release Is Ignored", func(t *testing.T) {
		key := "auditd_ingest_test:" + uuid.NewString()
		owner := NewRunLock(client, key, time.Minute, logger)
		other := NewRunLock(client, key, time.Minute, logger)

		if err := owner.Acquire(ctx); err != nil {
			t.Fatalf("expected acquire to succeed, got %v", err)
		}
		defer owner.Release(ctx)

		if err := other.Release(ctx); err != nil {
			t.Fatalf("expected foreign release to be a no-op, got %v", err)
		}
		if exists, _ := client.Exists(ctx, key).Result(); exists != 1 {
			t.Error("expected lock key to survive a foreign release")
		}
	})
}
