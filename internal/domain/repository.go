package domain

import (
	"context"
	"time"
)

// TimestampColumn names a time-valued record attribute that can be aggregated.
type TimestampColumn string

const (
	ColumnProcessedAt    TimestampColumn = "processed_at"
	ColumnEventTimestamp TimestampColumn = "event_timestamp"
)

// RecordStore is the durable, log_id-keyed store of audit records.
type RecordStore interface {
	// Insert persists a record. It returns ErrDuplicateKey if the log_id is
	// already stored. A zero ProcessedAt is stamped with the store's clock.
	Insert(ctx context.Context, record *AuditRecord) error

	// MaxRunNumber returns the highest persisted run number, or 0 when empty.
	MaxRunNumber(ctx context.Context) (int, error)

	// MaxTimestamp returns the latest value of column across all records.
	// found is false when the store is empty.
	MaxTimestamp(ctx context.Context, column TimestampColumn) (t time.Time, found bool, err error)

	// Exists reports whether a record with logID is stored.
	Exists(ctx context.Context, logID string) (bool, error)
}

// RecordRepository is a RecordStore that can scope a unit of work to a
// single transaction.
type RecordRepository interface {
	RecordStore

	// WithTx runs fn against a transaction-bound store. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(store RecordStore) error) error
}

// RunLock guarantees a single ingestion run per store at a time.
type RunLock interface {
	// Acquire takes the lock or returns ErrRunInProgress.
	Acquire(ctx context.Context) error

	// Release gives the lock back. Releasing a lock held by someone else is a no-op.
	Release(ctx context.Context) error
}

// QuarantineRepository keeps raw events that failed record building.
type QuarantineRepository interface {
	// Write appends an event to the quarantine journal.
	Write(ctx context.Context, event QuarantinedEvent) error

	// Replay reads all quarantined events in write order.
	Replay(ctx context.Context, handler func(event QuarantinedEvent) error) error

	// Truncate removes every quarantined event.
	Truncate(ctx context.Context) error
}
