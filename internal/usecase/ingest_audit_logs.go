package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/auditd-ingest/internal/adapter/auditlog"
	"github.com/V4T54L/auditd-ingest/internal/adapter/filesource"
	"github.com/V4T54L/auditd-ingest/internal/adapter/metrics"
	"github.com/V4T54L/auditd-ingest/internal/adapter/pii"
	"github.com/V4T54L/auditd-ingest/internal/domain"
)

// IngestOptions configures one ingestion run.
type IngestOptions struct {
	// SourcePath is a single audit log file or a directory of them.
	SourcePath string

	// CompareColumn is the stored time used for the file fast path and the
	// by-date event policy: processed_at (by last run) or event_timestamp
	// (by last event).
	CompareColumn domain.TimestampColumn

	SkipEvent domain.SkipEventPolicy
	Malformed domain.MalformedPolicy

	// Open opens a log file for reading. Defaults to os.Open.
	Open func(path string) (io.ReadCloser, error)

	// Redactor, when set, scrubs quarantined events before they are written.
	Redactor *pii.Redactor
}

// RunState is owned by a single run and threaded through its stages.
type RunState struct {
	RunID           string
	RunNumber       int
	ComparedTime    time.Time
	HasComparedTime bool
	Summary         RunSummary

	log *slog.Logger

	// Malformed events are held back until the run commits, and only events
	// not already in the quarantine are kept.
	pendingQuarantine []domain.QuarantinedEvent
	quarantined       map[string]struct{}
}

// RunSummary reports what a run did.
type RunSummary struct {
	RunNumber       int `json:"run_number"`
	FilesTotal      int `json:"files_total"`
	FilesParsed     int `json:"files_parsed"`
	FilesSkipped    int `json:"files_skipped"`
	FilesFailed     int `json:"files_failed"`
	RecordsAdded    int `json:"records_added"`
	EventsSkipped   int `json:"events_skipped"`
	EventsMalformed int `json:"events_malformed"`
}

// fatalError marks a failure that must abort the whole run.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// IngestAuditLogsUseCase ingests audit log files into the record store,
// at most once per event across repeated runs.
type IngestAuditLogsUseCase struct {
	repo       domain.RecordRepository
	lock       domain.RunLock
	quarantine domain.QuarantineRepository
	metrics    *metrics.IngestMetrics
	logger     *slog.Logger
	opts       IngestOptions
}

// NewIngestAuditLogsUseCase creates the use case. lock, quarantine and m may be nil.
func NewIngestAuditLogsUseCase(repo domain.RecordRepository, lock domain.RunLock, quarantine domain.QuarantineRepository, m *metrics.IngestMetrics, logger *slog.Logger, opts IngestOptions) *IngestAuditLogsUseCase {
	if opts.Open == nil {
		opts.Open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	if opts.CompareColumn == "" {
		opts.CompareColumn = domain.ColumnEventTimestamp
	}
	if opts.SkipEvent == "" {
		opts.SkipEvent = domain.SkipEventByExistence
	}
	if opts.Malformed == "" {
		opts.Malformed = domain.MalformedAbortFile
	}
	return &IngestAuditLogsUseCase{
		repo:       repo,
		lock:       lock,
		quarantine: quarantine,
		metrics:    m,
		logger:     logger.With("component", "ingest_audit_logs"),
		opts:       opts,
	}
}

// Run performs one ingestion run inside a single store transaction. A
// returned error is fatal and leaves the store as it was; per-file failures
// are logged and reflected in the summary only.
func (uc *IngestAuditLogsUseCase) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	uc.logger.Info("starting auditd log parser", "source", uc.opts.SourcePath, "skip_event", uc.opts.SkipEvent, "compare_column", uc.opts.CompareColumn)

	if uc.lock != nil {
		if err := uc.lock.Acquire(ctx); err != nil {
			return nil, err
		}
		defer func() {
			// The run context may already be cancelled; release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := uc.lock.Release(releaseCtx); err != nil {
				uc.logger.Error("failed to release run lock", "error", err)
			}
		}()
	}

	var state *RunState
	err := uc.repo.WithTx(ctx, func(store domain.RecordStore) error {
		var err error
		state, err = uc.newRunState(ctx, store)
		if err != nil {
			return err
		}
		state.quarantined = uc.loadQuarantined(ctx, state.log)

		files, err := filesource.Enumerate(uc.opts.SourcePath)
		if err != nil {
			return err
		}
		state.Summary.FilesTotal = len(files)

		for i, file := range files {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted before %s: %w", file.Path, err)
			}
			if err := uc.processFile(ctx, store, state, file, i+1, len(files)); err != nil {
				return err
			}
		}

		return nil
	})
	if uc.metrics != nil {
		uc.metrics.ObserveRun(start)
	}
	if err != nil {
		if state != nil && len(state.pendingQuarantine) > 0 {
			state.log.Warn("discarding quarantined events of failed run", "events", len(state.pendingQuarantine))
		}
		uc.logger.Error("auditd log parser failed, no records were committed", "error", err)
		return nil, err
	}
	uc.flushQuarantine(ctx, state)

	summary := state.Summary

	uc.logger.Info("finished auditd log parser",
		"run_number", summary.RunNumber,
		"files_total", summary.FilesTotal,
		"files_skipped", summary.FilesSkipped,
		"files_failed", summary.FilesFailed,
		"records_added", summary.RecordsAdded,
		"events_skipped", summary.EventsSkipped,
		"events_malformed", summary.EventsMalformed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &summary, nil
}

// newRunState derives the run number and comparison time from the store.
func (uc *IngestAuditLogsUseCase) newRunState(ctx context.Context, store domain.RecordStore) (*RunState, error) {
	prevRun, err := store.MaxRunNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine run number: %w", err)
	}

	compared, found, err := store.MaxTimestamp(ctx, uc.opts.CompareColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to determine comparison time: %w", err)
	}

	state := &RunState{
		RunID:           uuid.NewString(),
		RunNumber:       prevRun + 1,
		ComparedTime:    compared,
		HasComparedTime: found,
	}
	state.Summary.RunNumber = state.RunNumber
	state.log = uc.logger.With("run_number", state.RunNumber, "run_id", state.RunID)

	if found {
		state.log.Info("run state initialized", "compared_time", compared)
	} else {
		state.log.Info("run state initialized, store is empty")
	}
	if uc.metrics != nil {
		uc.metrics.RunNumber.Set(float64(state.RunNumber))
	}
	return state, nil
}

func (uc *IngestAuditLogsUseCase) processFile(ctx context.Context, store domain.RecordStore, state *RunState, file domain.SourceFile, index, total int) error {
	name := filepath.Base(file.Path)
	log := state.log.With("file", name)
	log.Info("parsing file", "index", index, "total", total)

	if skipFileByDate(state, file) {
		log.Info("no new events in file, skipping", "mod_time", file.ModTime, "compared_time", state.ComparedTime)
		state.Summary.FilesSkipped++
		uc.countFile("skipped")
		return nil
	}

	added, err := uc.ingestFile(ctx, store, state, file, log)
	if err != nil {
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return fmt.Errorf("failed ingesting %s: %w", file.Path, fatal.err)
		}
		log.Warn("failed parsing file", "path", file.Path, "error", err, "records_added", added)
		state.Summary.FilesFailed++
		uc.countFile("failed")
		return nil
	}

	log.Info("finished parsing file", "records_added", added)
	state.Summary.FilesParsed++
	uc.countFile("parsed")
	return nil
}

// ingestFile streams one file through the tokenizer and builder. Store
// failures come back as *fatalError; anything else only aborts this file.
func (uc *IngestAuditLogsUseCase) ingestFile(ctx context.Context, store domain.RecordStore, state *RunState, file domain.SourceFile, log *slog.Logger) (int, error) {
	f, err := uc.opts.Open(file.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	tokenizer := auditlog.NewTokenizer(f)
	added := 0
	for {
		event, ok, err := tokenizer.Next()
		if err != nil {
			return added, err
		}
		if !ok {
			return added, nil
		}

		record, err := auditlog.BuildRecord(event, state.RunNumber)
		if err != nil {
			uc.quarantineEvent(state, file, event, err, log)
			state.Summary.EventsMalformed++
			uc.countEvent("malformed")
			if uc.opts.Malformed == domain.MalformedSkipEvent {
				log.Warn("skipping malformed event", "error", err)
				continue
			}
			return added, err
		}

		skip, err := uc.skipEvent(ctx, store, state, record)
		if err != nil {
			return added, &fatalError{err: err}
		}
		if skip {
			log.Debug("event already ingested, skipping", "log_id", record.LogID)
			state.Summary.EventsSkipped++
			uc.countEvent("skipped")
			continue
		}

		if err := store.Insert(ctx, record); err != nil {
			return added, &fatalError{err: err}
		}
		state.ComparedTime = record.EventTimestamp
		state.HasComparedTime = true
		state.Summary.RecordsAdded++
		added++
		uc.countEvent("ingested")
		if uc.metrics != nil {
			uc.metrics.LastEventTimestamp.Set(float64(record.EventTimestamp.UnixMicro()) / 1e6)
		}
	}
}

// skipFileByDate is the fast path: a file last modified before the
// comparison time is assumed to hold nothing new and is never opened.
func skipFileByDate(state *RunState, file domain.SourceFile) bool {
	if !state.HasComparedTime {
		return false
	}
	return file.ModTime.Before(state.ComparedTime)
}

func (uc *IngestAuditLogsUseCase) skipEvent(ctx context.Context, store domain.RecordStore, state *RunState, record *domain.AuditRecord) (bool, error) {
	if uc.opts.SkipEvent == domain.SkipEventByDate {
		return skipEventByDate(state, record), nil
	}

	exists, err := store.Exists(ctx, record.LogID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func skipEventByDate(state *RunState, record *domain.AuditRecord) bool {
	if !state.HasComparedTime {
		return false
	}
	return !state.ComparedTime.Before(record.EventTimestamp)
}

// loadQuarantined collects the keys of events already in the quarantine. A
// replay failure only costs deduplication.
func (uc *IngestAuditLogsUseCase) loadQuarantined(ctx context.Context, log *slog.Logger) map[string]struct{} {
	seen := make(map[string]struct{})
	if uc.quarantine == nil {
		return seen
	}
	err := uc.quarantine.Replay(ctx, func(event domain.QuarantinedEvent) error {
		seen[event.QuarantineKey()] = struct{}{}
		return nil
	})
	if err != nil {
		log.Warn("failed to read quarantine, duplicates may be written", "error", err)
	}
	return seen
}

// quarantineEvent queues a malformed event for the quarantine unless the
// same event from the same file is already there.
func (uc *IngestAuditLogsUseCase) quarantineEvent(state *RunState, file domain.SourceFile, event domain.RawEvent, cause error, log *slog.Logger) {
	if uc.quarantine == nil {
		return
	}
	entry := domain.QuarantinedEvent{
		File:          file.Path,
		EventID:       quarantineEventID(event),
		RunNumber:     state.RunNumber,
		Reason:        cause.Error(),
		Fields:        event,
		QuarantinedAt: time.Now().UTC(),
	}
	key := entry.QuarantineKey()
	if _, ok := state.quarantined[key]; ok {
		log.Debug("malformed event already quarantined", "event_id", entry.EventID)
		return
	}
	state.quarantined[key] = struct{}{}

	if uc.opts.Redactor != nil {
		uc.opts.Redactor.Redact(&entry)
	}
	state.pendingQuarantine = append(state.pendingQuarantine, entry)
}

// flushQuarantine writes the events queued by a committed run.
func (uc *IngestAuditLogsUseCase) flushQuarantine(ctx context.Context, state *RunState) {
	if uc.quarantine == nil || len(state.pendingQuarantine) == 0 {
		return
	}
	written := 0
	for _, entry := range state.pendingQuarantine {
		if err := uc.quarantine.Write(ctx, entry); err != nil {
			state.log.Error("failed to quarantine malformed event", "file", entry.File, "event_id", entry.EventID, "error", err)
			continue
		}
		written++
	}
	state.pendingQuarantine = nil
	state.log.Info("quarantined malformed events", "events", written)
}

// quarantineEventID is the raw msg value, or a digest of all fields when
// msg is missing.
func quarantineEventID(event domain.RawEvent) string {
	if msg, ok := event["msg"]; ok {
		return msg
	}
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(event[k]))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)[:16])
}

func (uc *IngestAuditLogsUseCase) countFile(status string) {
	if uc.metrics != nil {
		uc.metrics.FilesTotal.WithLabelValues(status).Inc()
	}
}

func (uc *IngestAuditLogsUseCase) countEvent(status string) {
	if uc.metrics != nil {
		uc.metrics.EventsTotal.WithLabelValues(status).Inc()
	}
}
