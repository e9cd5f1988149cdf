package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound indicates the configured source path is neither a file nor a directory.
	ErrPathNotFound = errors.New("audit log path not found")

	// ErrDuplicateKey indicates a record with the same log_id is already stored.
	ErrDuplicateKey = errors.New("duplicate log_id")

	// ErrRunInProgress indicates another ingestion run holds the run lock.
	ErrRunInProgress = errors.New("another ingestion run is in progress")
)

// MalformedEventError is returned when a raw event lacks a usable id field.
type MalformedEventError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("malformed audit event: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed audit event: field %q=%q: %s", e.Field, e.Value, e.Reason)
}
