package sqlstore

import (
	"fmt"
	"strings"
	"time"
)

// Dialect captures the differences between the supported SQL backends.
type Dialect struct {
	Name       string
	driverName string
	schema     []string
	bindVar    func(n int) string
	encodeTime func(t time.Time) any
}

var (
	// Postgres stores times as TIMESTAMPTZ.
	Postgres = Dialect{
		Name:       "postgres",
		driverName: "postgres",
		bindVar:    func(n int) string { return fmt.Sprintf("$%d", n) },
		encodeTime: func(t time.Time) any { return t.UTC() },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS ` + recordsTable + ` (
				log_id          TEXT PRIMARY KEY,
				event_timestamp TIMESTAMPTZ NOT NULL,
				processed_at    TIMESTAMPTZ NOT NULL,
				run_number      BIGINT NOT NULL,
				arch            TEXT,
				syscall         BIGINT,
				ppid            BIGINT,
				pid             BIGINT,
				auid            BIGINT,
				uid             BIGINT,
				gid             BIGINT,
				euid            BIGINT,
				suid            BIGINT,
				fsuid           BIGINT,
				egid            BIGINT,
				sgid            BIGINT,
				fsgid           BIGINT,
				tty             TEXT,
				ses             BIGINT,
				comm            TEXT,
				exe             TEXT,
				cwd             TEXT,
				mode            TEXT,
				key             TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS audit_logs_event_timestamp_idx ON ` + recordsTable + ` (event_timestamp)`,
			`CREATE INDEX IF NOT EXISTS audit_logs_processed_at_idx ON ` + recordsTable + ` (processed_at)`,
			`CREATE INDEX IF NOT EXISTS audit_logs_run_number_idx ON ` + recordsTable + ` (run_number)`,
		},
	}

	// SQLite stores times as integer microseconds since the epoch so that
	// MAX() aggregates compare numerically.
	SQLite = Dialect{
		Name:       "sqlite",
		driverName: "sqlite",
		bindVar:    func(int) string { return "?" },
		encodeTime: func(t time.Time) any { return t.UnixMicro() },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS ` + recordsTable + ` (
				log_id          TEXT PRIMARY KEY,
				event_timestamp INTEGER NOT NULL,
				processed_at    INTEGER NOT NULL,
				run_number      INTEGER NOT NULL,
				arch            TEXT,
				syscall         INTEGER,
				ppid            INTEGER,
				pid             INTEGER,
				auid            INTEGER,
				uid             INTEGER,
				gid             INTEGER,
				euid            INTEGER,
				suid            INTEGER,
				fsuid           INTEGER,
				egid            INTEGER,
				sgid            INTEGER,
				fsgid           INTEGER,
				tty             TEXT,
				ses             INTEGER,
				comm            TEXT,
				exe             TEXT,
				cwd             TEXT,
				mode            TEXT,
				key             TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS audit_logs_event_timestamp_idx ON ` + recordsTable + ` (event_timestamp)`,
			`CREATE INDEX IF NOT EXISTS audit_logs_processed_at_idx ON ` + recordsTable + ` (processed_at)`,
			`CREATE INDEX IF NOT EXISTS audit_logs_run_number_idx ON ` + recordsTable + ` (run_number)`,
		},
	}
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case Postgres.Name, "postgresql":
		return Postgres, nil
	case SQLite.Name, "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported store driver %q", name)
	}
}

func (d Dialect) bindVars(n int) string {
	vars := make([]string, n)
	for i := range vars {
		vars[i] = d.bindVar(i + 1)
	}
	return strings.Join(vars, ", ")
}

// decodeTime converts whatever the driver returned for a time column back
// into a UTC time. nil means SQL NULL.
func decodeTime(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return t.UTC(), true, nil
	case int64:
		return time.UnixMicro(t).UTC(), true, nil
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	default:
		return time.Time{}, false, fmt.Errorf("unexpected time value of type %T", v)
	}
}

func parseTimeString(s string) (time.Time, bool, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unparseable time value %q", s)
}
