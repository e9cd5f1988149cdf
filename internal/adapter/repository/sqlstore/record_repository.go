// Package sqlstore persists audit records in PostgreSQL or SQLite through
// database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

const recordsTable = "audit_logs"

var recordColumns = []string{
	"log_id", "event_timestamp", "processed_at", "run_number",
	"arch", "syscall", "ppid", "pid", "auid", "uid", "gid",
	"euid", "suid", "fsuid", "egid", "sgid", "fsgid",
	"tty", "ses", "comm", "exe", "cwd", "mode", "key",
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RecordRepository implements domain.RecordRepository on a SQL database.
type RecordRepository struct {
	*recordStore
	db     *sql.DB
	logger *slog.Logger
}

// NewRecordRepository creates a repository over db using the given dialect.
func NewRecordRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{
		recordStore: newRecordStore(db, dialect, func() time.Time { return time.Now().UTC() }),
		db:          db,
		logger:      logger.With("component", "record_repository", "dialect", dialect.Name),
	}
}

// SetClock replaces the clock used to stamp processed_at.
func (r *RecordRepository) SetClock(now func() time.Time) {
	r.recordStore.now = now
}

// Migrate creates the records table and its indexes when missing.
func (r *RecordRepository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	r.logger.Debug("schema is up to date")
	return nil
}

// WithTx runs fn inside a single transaction.
func (r *RecordRepository) WithTx(ctx context.Context, fn func(store domain.RecordStore) error) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	if err := fn(newRecordStore(txn, r.dialect, r.now)); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type recordStore struct {
	q       querier
	dialect Dialect
	now     func() time.Time

	insertQuery string
	existsQuery string
}

func newRecordStore(q querier, dialect Dialect, now func() time.Time) *recordStore {
	return &recordStore{
		q:       q,
		dialect: dialect,
		now:     now,
		insertQuery: `INSERT INTO ` + recordsTable + ` (` + strings.Join(recordColumns, ", ") + `)
			VALUES (` + dialect.bindVars(len(recordColumns)) + `)
			ON CONFLICT (log_id) DO NOTHING`,
		existsQuery: `SELECT EXISTS(SELECT 1 FROM ` + recordsTable + ` WHERE log_id = ` + dialect.bindVar(1) + `)`,
	}
}

// Insert writes one record. Idempotency is enforced by the primary key.
func (s *recordStore) Insert(ctx context.Context, record *domain.AuditRecord) error {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = s.now()
	}

	res, err := s.q.ExecContext(ctx, s.insertQuery,
		record.LogID,
		s.dialect.encodeTime(record.EventTimestamp),
		s.dialect.encodeTime(record.ProcessedAt),
		record.RunNumber,
		nullString(record.Arch),
		nullInt(record.Syscall),
		nullInt(record.PPID),
		nullInt(record.PID),
		nullInt(record.AUID),
		nullInt(record.UID),
		nullInt(record.GID),
		nullInt(record.EUID),
		nullInt(record.SUID),
		nullInt(record.FSUID),
		nullInt(record.EGID),
		nullInt(record.SGID),
		nullInt(record.FSGID),
		nullString(record.TTY),
		nullInt(record.Session),
		nullString(record.Comm),
		nullString(record.Exe),
		nullString(record.Cwd),
		nullString(record.Mode),
		nullString(record.Key),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", record.LogID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", record.LogID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, record.LogID)
	}
	return nil
}

func (s *recordStore) MaxRunNumber(ctx context.Context) (int, error) {
	var maxRun int64
	err := s.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(run_number), 0) FROM `+recordsTable).Scan(&maxRun)
	if err != nil {
		return 0, fmt.Errorf("failed to query max run_number: %w", err)
	}
	return int(maxRun), nil
}

func (s *recordStore) MaxTimestamp(ctx context.Context, column domain.TimestampColumn) (time.Time, bool, error) {
	switch column {
	case domain.ColumnProcessedAt, domain.ColumnEventTimestamp:
	default:
		return time.Time{}, false, fmt.Errorf("column %q cannot be aggregated", column)
	}

	var v any
	err := s.q.QueryRowContext(ctx, `SELECT MAX(`+string(column)+`) FROM `+recordsTable).Scan(&v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query max %s: %w", column, err)
	}

	t, found, err := decodeTime(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to decode max %s: %w", column, err)
	}
	return t, found, nil
}

func (s *recordStore) Exists(ctx context.Context, logID string) (bool, error) {
	var exists bool
	if err := s.q.QueryRowContext(ctx, s.existsQuery, logID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", logID, err)
	}
	return exists, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
