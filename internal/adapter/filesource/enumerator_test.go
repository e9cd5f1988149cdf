package filesource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

func writeFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("type=DAEMON_START\n"), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime on %s: %v", path, err)
	}
}

func TestEnumerate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Directory Sorted By Modification Time", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "audit.log"), base.Add(3*time.Hour))
		writeFile(t, filepath.Join(dir, "audit.log.1"), base.Add(2*time.Hour))
		writeFile(t, filepath.Join(dir, "audit.log.2"), base.Add(1*time.Hour))

		files, err := Enumerate(dir)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		want := []string{"audit.log.2", "audit.log.1", "audit.log"}
		if len(files) != len(want) {
			t.Fatalf("expected %d files, got %d", len(want), len(files))
		}
		for i, name := range want {
			if filepath.Base(files[i].Path) != name {
				t.Errorf("position %d: got %s, want %s", i, filepath.Base(files[i].Path), name)
			}
		}
	})

	t.Run("Equal Times Keep Listing Order", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"c.log", "a.log", "b.log"} {
			writeFile(t, filepath.Join(dir, name), base)
		}

		files, err := Enumerate(dir)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := []string{"a.log", "b.log", "c.log"}
		for i, name := range want {
			if filepath.Base(files[i].Path) != name {
				t.Errorf("position %d: got %s, want %s", i, filepath.Base(files[i].Path), name)
			}
		}
	})

	t.Run("Skips Hidden Files And Subdirectories", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "audit.log"), base)
		writeFile(t, filepath.Join(dir, ".audit.log.swp"), base)
		if err := os.Mkdir(filepath.Join(dir, "archive"), 0755); err != nil {
			t.Fatalf("failed to create subdirectory: %v", err)
		}

		files, err := Enumerate(dir)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(files) != 1 || filepath.Base(files[0].Path) != "audit.log" {
			t.Fatalf("expected only audit.log, got %+v", files)
		}
	})

	t.Run("Single File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		writeFile(t, path, base)

		files, err := Enumerate(path)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(files) != 1 || files[0].Path != path {
			t.Fatalf("expected exactly %s, got %+v", path, files)
		}
		if !files[0].ModTime.Equal(base) {
			t.Errorf("expected mod time %v, got %v", base, files[0].ModTime)
		}
	})

	t.Run("Empty Directory", func(t *testing.T) {
		files, err := Enumerate(t.TempDir())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(files) != 0 {
			t.Fatalf("expected no files, got %d", len(files))
		}
	})

	t.Run("Missing Path", func(t *testing.T) {
		_, err := Enumerate(filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, domain.ErrPathNotFound) {
			t.Fatalf("expected ErrPathNotFound, got %v", err)
		}
	})
}
