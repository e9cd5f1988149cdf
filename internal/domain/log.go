package domain

import "time"

// RawEvent is the field mapping accumulated while scanning the lines of one
// audit event. Later occurrences of a key overwrite earlier ones.
type RawEvent map[string]string

// AuditRecord is the typed, persisted form of one audit event.
// Optional attributes are nil when the raw event did not carry them.
type AuditRecord struct {
	LogID          string    `json:"log_id"`
	EventTimestamp time.Time `json:"event_timestamp"`
	ProcessedAt    time.Time `json:"processed_at"`
	RunNumber      int       `json:"run_number"`

	Arch    *string `json:"arch,omitempty"`
	Syscall *int64  `json:"syscall,omitempty"`
	PPID    *int64  `json:"ppid,omitempty"`
	PID     *int64  `json:"pid,omitempty"`
	AUID    *int64  `json:"auid,omitempty"`
	UID     *int64  `json:"uid,omitempty"`
	GID     *int64  `json:"gid,omitempty"`
	EUID    *int64  `json:"euid,omitempty"`
	SUID    *int64  `json:"suid,omitempty"`
	FSUID   *int64  `json:"fsuid,omitempty"`
	EGID    *int64  `json:"egid,omitempty"`
	SGID    *int64  `json:"sgid,omitempty"`
	FSGID   *int64  `json:"fsgid,omitempty"`
	TTY     *string `json:"tty,omitempty"`
	Session *int64  `json:"ses,omitempty"`
	Comm    *string `json:"comm,omitempty"`
	Exe     *string `json:"exe,omitempty"`
	Cwd     *string `json:"cwd,omitempty"`
	Mode    *string `json:"mode,omitempty"`
	Key     *string `json:"key,omitempty"`
}

// SourceFile is a candidate audit log file together with the modification
// time observed when the source path was listed.
type SourceFile struct {
	Path    string
	ModTime time.Time
}

// QuarantinedEvent is a raw event that could not be turned into a record.
type QuarantinedEvent struct {
	File          string    `json:"file"`
	EventID       string    `json:"event_id"`
	RunNumber     int       `json:"run_number"`
	Reason        string    `json:"reason"`
	Fields        RawEvent  `json:"fields"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	Redacted      bool      `json:"redacted,omitempty"`
}

// QuarantineKey identifies a quarantined event across runs: the same raw
// event read again from the same file yields the same key.
func (e QuarantinedEvent) QuarantineKey() string {
	return e.File + "\x00" + e.EventID
}
