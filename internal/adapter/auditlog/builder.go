package auditlog

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

const (
	idField  = "msg"
	idPrefix = "audit("
	idSuffix = "):"
)

// Recognized raw fields and where they land on the record. Anything else in
// the raw event is ignored.
var (
	stringFields = map[string]func(r *domain.AuditRecord, v *string){
		"arch": func(r *domain.AuditRecord, v *string) { r.Arch = v },
		"tty":  func(r *domain.AuditRecord, v *string) { r.TTY = v },
		"comm": func(r *domain.AuditRecord, v *string) { r.Comm = v },
		"exe":  func(r *domain.AuditRecord, v *string) { r.Exe = v },
		"cwd":  func(r *domain.AuditRecord, v *string) { r.Cwd = v },
		"mode": func(r *domain.AuditRecord, v *string) { r.Mode = v },
		"key":  func(r *domain.AuditRecord, v *string) { r.Key = v },
	}

	intFields = map[string]func(r *domain.AuditRecord, v *int64){
		"syscall": func(r *domain.AuditRecord, v *int64) { r.Syscall = v },
		"ppid":    func(r *domain.AuditRecord, v *int64) { r.PPID = v },
		"pid":     func(r *domain.AuditRecord, v *int64) { r.PID = v },
		"auid":    func(r *domain.AuditRecord, v *int64) { r.AUID = v },
		"uid":     func(r *domain.AuditRecord, v *int64) { r.UID = v },
		"gid":     func(r *domain.AuditRecord, v *int64) { r.GID = v },
		"euid":    func(r *domain.AuditRecord, v *int64) { r.EUID = v },
		"suid":    func(r *domain.AuditRecord, v *int64) { r.SUID = v },
		"fsuid":   func(r *domain.AuditRecord, v *int64) { r.FSUID = v },
		"egid":    func(r *domain.AuditRecord, v *int64) { r.EGID = v },
		"sgid":    func(r *domain.AuditRecord, v *int64) { r.SGID = v },
		"fsgid":   func(r *domain.AuditRecord, v *int64) { r.FSGID = v },
		"ses":     func(r *domain.AuditRecord, v *int64) { r.Session = v },
	}
)

// BuildRecord converts a raw event into a record stamped with runNumber.
// It returns a *domain.MalformedEventError when the msg field is missing or
// is not of the form audit(<epoch>:<seq>):.
func BuildRecord(event domain.RawEvent, runNumber int) (*domain.AuditRecord, error) {
	logID, ts, err := ParseLogID(event)
	if err != nil {
		return nil, err
	}

	record := &domain.AuditRecord{
		LogID:          logID,
		EventTimestamp: ts,
		RunNumber:      runNumber,
	}

	for name, set := range stringFields {
		if v, ok := event[name]; ok {
			set(record, &v)
		}
	}
	for name, set := range intFields {
		v, ok := event[name]
		if !ok {
			continue
		}
		// Non-numeric values are left unset rather than guessed.
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		set(record, &n)
	}

	return record, nil
}

// ParseLogID extracts the "<epoch>:<seq>" id and the event time from the
// msg field of a raw event.
func ParseLogID(event domain.RawEvent) (string, time.Time, error) {
	raw, ok := event[idField]
	if !ok {
		return "", time.Time{}, &domain.MalformedEventError{Field: idField, Reason: "field is missing"}
	}
	if len(raw) < len(idPrefix)+len(idSuffix) || !strings.HasPrefix(raw, idPrefix) || !strings.HasSuffix(raw, idSuffix) {
		return "", time.Time{}, &domain.MalformedEventError{Field: idField, Value: raw, Reason: "expected audit(<epoch>:<seq>):"}
	}

	logID := raw[len(idPrefix) : len(raw)-len(idSuffix)]
	epoch, seq, found := strings.Cut(logID, ":")
	if !found || epoch == "" || seq == "" {
		return "", time.Time{}, &domain.MalformedEventError{Field: idField, Value: raw, Reason: "expected <epoch>:<seq> pair"}
	}

	seconds, err := strconv.ParseFloat(epoch, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "", time.Time{}, &domain.MalformedEventError{Field: idField, Value: raw, Reason: "epoch is not a number"}
	}

	return logID, epochToTime(seconds), nil
}

// epochToTime keeps microsecond precision, the resolution auditd writes.
func epochToTime(seconds float64) time.Time {
	return time.UnixMicro(int64(math.Round(seconds * 1e6))).UTC()
}
