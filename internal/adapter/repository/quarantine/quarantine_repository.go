// Package quarantine keeps raw audit events that could not be ingested in a
// segmented JSON-lines journal.
package quarantine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

const (
	segmentPrefix = "quarantine-"
	segmentSuffix = ".jsonl"
	filePerm      = 0644

	// Raw audit lines can be long (execve arguments); give the scanner room.
	maxEntrySize = 1 << 20
)

// Repository implements domain.QuarantineRepository on local files.
type Repository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
}

// NewRepository opens (or creates) the quarantine journal in dir.
func NewRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory %s: %w", dir, err)
	}

	q := &Repository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "quarantine_repository"),
	}

	if err := q.openLatestSegment(); err != nil {
		return nil, err
	}

	return q, nil
}

// Write appends an event to the current segment.
func (q *Repository) Write(ctx context.Context, event domain.QuarantinedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantined event: %w", err)
	}
	data = append(data, '\n')
	if len(data) > maxEntrySize {
		return fmt.Errorf("quarantined event exceeds %d bytes", maxEntrySize)
	}

	if q.currentSegment == nil {
		if err := q.rotate(); err != nil {
			return err
		}
	}

	totalSize, err := q.calculateTotalSize()
	if err != nil {
		return fmt.Errorf("could not verify quarantine disk usage: %w", err)
	}
	if totalSize+int64(len(data)) > q.maxTotalSize {
		return fmt.Errorf("quarantine max total size exceeded (%d > %d)", totalSize+int64(len(data)), q.maxTotalSize)
	}

	n, err := q.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write quarantine segment: %w", err)
	}
	q.currentSize += int64(n)

	if q.currentSize >= q.maxSegmentSize {
		if err := q.rotate(); err != nil {
			q.logger.Error("failed to rotate quarantine segment", "error", err)
		}
	}

	return nil
}

// Replay reads every segment in order and calls handler for each event.
// Lines that cannot be decoded are logged and skipped.
func (q *Repository) Replay(ctx context.Context, handler func(event domain.QuarantinedEvent) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.currentSegment != nil {
		if err := q.currentSegment.Sync(); err != nil {
			q.logger.Warn("failed to sync quarantine segment before replay", "error", err)
		}
	}

	segments, err := q.getSortedSegments()
	if err != nil {
		return err
	}

	for _, segmentPath := range segments {
		if err := q.replaySegment(ctx, segmentPath, handler); err != nil {
			return err
		}
	}
	return nil
}

func (q *Repository) replaySegment(ctx context.Context, path string, handler func(event domain.QuarantinedEvent) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxEntrySize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var event domain.QuarantinedEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			q.logger.Warn("failed to decode quarantined event, skipping", "error", err, "segment", path)
			continue
		}
		if err := handler(event); err != nil {
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return nil
}

// Truncate removes all segments and starts a fresh one.
func (q *Repository) Truncate(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.currentSegment != nil {
		q.currentSegment.Close()
		q.currentSegment = nil
	}

	segments, err := q.getSortedSegments()
	if err != nil {
		return err
	}

	for _, segmentPath := range segments {
		if err := os.Remove(segmentPath); err != nil {
			q.logger.Error("failed to remove quarantine segment", "path", segmentPath, "error", err)
		}
	}

	q.logger.Info("quarantine truncated", "segments", len(segments))
	return q.rotate()
}

// Close closes the current segment.
func (q *Repository) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.currentSegment == nil {
		return nil
	}
	err := q.currentSegment.Close()
	q.currentSegment = nil
	return err
}

func (q *Repository) rotate() error {
	if q.currentSegment != nil {
		if err := q.currentSegment.Sync(); err != nil {
			q.logger.Error("failed to sync quarantine segment before rotating", "error", err)
		}
		if err := q.currentSegment.Close(); err != nil {
			q.logger.Error("failed to close quarantine segment before rotating", "error", err)
		}
		q.currentSegment = nil
	}

	// Zero-padded so lexical order is creation order.
	segmentName := fmt.Sprintf("%s%020d%s", segmentPrefix, time.Now().UnixNano(), segmentSuffix)
	path := filepath.Join(q.dir, segmentName)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create quarantine segment %s: %w", path, err)
	}

	q.currentSegment = f
	q.currentSize = 0
	q.logger.Debug("rotated to new quarantine segment", "path", path)
	return nil
}

func (q *Repository) openLatestSegment() error {
	segments, err := q.getSortedSegments()
	if err != nil {
		return err
	}

	if len(segments) == 0 {
		return q.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latest, err)
	}

	if stat.Size() >= q.maxSegmentSize {
		return q.rotate()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest, err)
	}

	q.currentSegment = f
	q.currentSize = stat.Size()
	return nil
}

func (q *Repository) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantine directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) && strings.HasSuffix(entry.Name(), segmentSuffix) {
			segments = append(segments, filepath.Join(q.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (q *Repository) calculateTotalSize() (int64, error) {
	segments, err := q.getSortedSegments()
	if err != nil {
		return 0, err
	}

	var totalSize int64
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		totalSize += info.Size()
	}
	return totalSize, nil
}
