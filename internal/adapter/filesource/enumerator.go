// Package filesource resolves the configured audit log path into the ordered
// list of files to ingest.
package filesource

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

// Enumerate lists the candidate files under path, oldest modification first.
//
// A directory yields its immediate regular entries (hidden files and
// subdirectories are not candidates); a file yields itself. Files with equal
// modification times keep their directory listing order.
func Enumerate(path string) ([]domain.SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", domain.ErrPathNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat audit log path %q: %w", path, err)
	}

	var files []domain.SourceFile
	switch {
	case info.IsDir():
		files, err = listDir(path)
		if err != nil {
			return nil, err
		}
	case info.Mode().IsRegular():
		files = []domain.SourceFile{{Path: path, ModTime: info.ModTime()}}
	default:
		return nil, fmt.Errorf("%w: %q is neither a file nor a directory", domain.ErrPathNotFound, path)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

func listDir(dir string) ([]domain.SourceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log directory %q: %w", dir, err)
	}

	files := make([]domain.SourceFile, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		// Resolve symlinks so a linked log is treated like the file it points at.
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %q: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, domain.SourceFile{Path: path, ModTime: info.ModTime()})
	}
	return files, nil
}
