package usecase

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/V4T54L/auditd-ingest/internal/adapter/repository/sqlstore"
	"github.com/V4T54L/auditd-ingest/internal/domain"
)

// openFlowStore returns a migrated, empty store for driver. Postgres runs
// only when INTEGRATION_POSTGRES_DSN is set.
func openFlowStore(t *testing.T, driver string) (*sqlstore.RecordRepository, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	dsn := filepath.Join(t.TempDir(), "audit.db")
	if driver == "postgres" {
		dsn = os.Getenv("INTEGRATION_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("INTEGRATION_POSTGRES_DSN not set")
		}
	}

	db, dialect, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		t.Fatalf("failed to open %s store: %v", driver, err)
	}
	t.Cleanup(func() { db.Close() })

	repo := sqlstore.NewRecordRepository(db, dialect, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if driver == "postgres" {
		if _, err := db.ExecContext(ctx, "TRUNCATE audit_logs"); err != nil {
			t.Fatalf("failed to clear audit_logs: %v", err)
		}
	}
	return repo, db
}

func countRecords(t *testing.T, db *sql.DB) int {
	t.Helper()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_logs").Scan(&count); err != nil {
		t.Fatalf("failed to query record count: %v", err)
	}
	return count
}

func TestIngestionFlow(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres"} {
		for _, policy := range []domain.SkipEventPolicy{domain.SkipEventByExistence, domain.SkipEventByDate} {
			t.Run(driver+"/"+string(policy), func(t *testing.T) {
				repo, db := openFlowStore(t, driver)
				ctx := context.Background()

				dir := t.TempDir()
				rotated := auditBlock("1700000000.250:11", `"exec"`) + auditBlock("1700000000.500:12", "(null)") + auditBlock("1700000001:13", `"net"`)
				writeLog(t, dir, "audit.log.1", rotated, testNow.Add(-time.Hour))
				writeLog(t, dir, "audit.log", auditBlock("1700000002:14", `"exec"`), testNow)

				uc := newTestUseCase(repo, nil, nil, nil, IngestOptions{SourcePath: dir, SkipEvent: policy})

				first, err := uc.Run(ctx)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if first.RecordsAdded != 3 {
					t.Fatalf("expected 3 records, got %+v", first)
				}

				var logID string
				var runNumber int
				row := db.QueryRow("SELECT log_id, run_number FROM audit_logs ORDER BY log_id LIMIT 1")
				if err := row.Scan(&logID, &runNumber); err != nil {
					t.Fatalf("failed to read record: %v", err)
				}
				if logID != "1700000000.250:11" || runNumber != 1 {
					t.Errorf("unexpected first record %s in run %d", logID, runNumber)
				}

				// Auditd appends to the live file between runs.
				f, err := os.OpenFile(filepath.Join(dir, "audit.log"), os.O_APPEND|os.O_WRONLY, 0644)
				if err != nil {
					t.Fatalf("failed to reopen audit.log: %v", err)
				}
				if _, err := f.WriteString(auditBlock("1700000003:15", `"exec"`)); err != nil {
					t.Fatalf("failed to append: %v", err)
				}
				f.Close()

				second, err := uc.Run(ctx)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if second.RecordsAdded != 1 || second.RunNumber != 2 {
					t.Errorf("expected one new record in run 2, got %+v", second)
				}

				third, err := uc.Run(ctx)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if third.RecordsAdded != 0 {
					t.Errorf("expected no new records, got %+v", third)
				}
				if got := countRecords(t, db); got != 4 {
					t.Errorf("expected 4 stored records, got %d", got)
				}
			})
		}
	}
}
