package quarantine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

func setupTestQuarantine(t *testing.T, maxSegmentSize, maxTotalSize int64) *Repository {
	t.Helper()
	dir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q, err := NewRepository(dir, maxSegmentSize, maxTotalSize, logger)
	if err != nil {
		t.Fatalf("failed to create quarantine repository: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	return q
}

func testEvent(reason string) domain.QuarantinedEvent {
	return domain.QuarantinedEvent{
		File:          "/var/log/audit/audit.log",
		RunNumber:     3,
		Reason:        reason,
		Fields:        domain.RawEvent{"type": "PROCTITLE", "msg": "garbage"},
		QuarantinedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestQuarantine_WriteAndReplay(t *testing.T) {
	q := setupTestQuarantine(t, 1024, 10*1024)

	events := []domain.QuarantinedEvent{testEvent("first"), testEvent("second"), testEvent("third")}
	for _, event := range events {
		if err := q.Write(context.Background(), event); err != nil {
			t.Fatalf("failed to write event: %v", err)
		}
	}
	q.Close()

	// Re-open to simulate the next run.
	reopened, err := NewRepository(q.dir, 1024, 10*1024, q.logger)
	if err != nil {
		t.Fatalf("failed to re-open quarantine: %v", err)
	}
	defer reopened.Close()

	var replayed []domain.QuarantinedEvent
	err = reopened.Replay(context.Background(), func(event domain.QuarantinedEvent) error {
		replayed = append(replayed, event)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to replay events: %v", err)
	}

	if len(replayed) != len(events) {
		t.Fatalf("expected %d replayed events, got %d", len(events), len(replayed))
	}
	for i, event := range events {
		if replayed[i].Reason != event.Reason || replayed[i].Fields["msg"] != "garbage" {
			t.Errorf("replayed event mismatch at index %d: got %+v, want %+v", i, replayed[i], event)
		}
	}
}

func TestQuarantine_SegmentRotation(t *testing.T) {
	q := setupTestQuarantine(t, 100, 10*1024)

	event := testEvent("a reason long enough to cause rotation")
	eventBytes, _ := json.Marshal(event)
	numWrites := (100 / len(eventBytes)) + 2
	for i := 0; i < numWrites; i++ {
		if err := q.Write(context.Background(), event); err != nil {
			t.Fatalf("failed to write event: %v", err)
		}
	}

	segments, err := q.getSortedSegments()
	if err != nil {
		t.Fatalf("failed to get segments: %v", err)
	}
	if len(segments) < 2 {
		t.Errorf("expected at least 2 segments, got %d", len(segments))
	}

	count := 0
	if err := q.Replay(context.Background(), func(domain.QuarantinedEvent) error { count++; return nil }); err != nil {
		t.Fatalf("failed to replay: %v", err)
	}
	if count != numWrites {
		t.Errorf("expected %d events across segments, got %d", numWrites, count)
	}
}

func TestQuarantine_Truncate(t *testing.T) {
	q := setupTestQuarantine(t, 1024, 1024)

	if err := q.Write(context.Background(), testEvent("x")); err != nil {
		t.Fatalf("failed to write event: %v", err)
	}

	if err := q.Truncate(context.Background()); err != nil {
		t.Fatalf("failed to truncate quarantine: %v", err)
	}

	segments, _ := q.getSortedSegments()
	if len(segments) != 1 {
		t.Fatalf("expected 1 fresh segment after truncate, got %d", len(segments))
	}
	info, _ := os.Stat(segments[0])
	if info.Size() != 0 {
		t.Errorf("expected new segment to be empty, size is %d", info.Size())
	}
}

func TestQuarantine_MaxTotalSize(t *testing.T) {
	q := setupTestQuarantine(t, 100, 150)

	var err error
	for i := 0; i < 5; i++ {
		err = q.Write(context.Background(), testEvent("filling up the quarantine"))
		if err != nil {
			break
		}
	}

	if err == nil {
		t.Fatal("expected an error when writing beyond max total size, but got nil")
	}
}

func TestQuarantine_ReplaySkipsCorruptLines(t *testing.T) {
	q := setupTestQuarantine(t, 1024, 10*1024)

	if err := q.Write(context.Background(), testEvent("good")); err != nil {
		t.Fatalf("failed to write event: %v", err)
	}
	if _, err := q.currentSegment.WriteString("{not json\n"); err != nil {
		t.Fatalf("failed to corrupt segment: %v", err)
	}

	var reasons []string
	err := q.Replay(context.Background(), func(event domain.QuarantinedEvent) error {
		reasons = append(reasons, event.Reason)
		return nil
	})
	if err != nil {
		t.Fatalf("expected corrupt line to be skipped, got %v", err)
	}
	if len(reasons) != 1 || reasons[0] != "good" {
		t.Errorf("expected only the good event, got %v", reasons)
	}
}
