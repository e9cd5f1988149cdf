package pii

import (
	"log/slog"
	"strings"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor blanks configured fields of quarantined events before they are
// written to disk.
type Redactor struct {
	fieldsToRedact map[string]struct{}
	logger         *slog.Logger
}

// NewRedactor creates a Redactor for the given field names. Blank names are ignored.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		fieldSet[field] = struct{}{}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger.With("component", "pii_redactor"),
	}
}

// Redact replaces the configured fields of event with RedactedPlaceholder.
// The raw event map is copied, so the caller's map is left untouched.
func (r *Redactor) Redact(event *domain.QuarantinedEvent) {
	if len(r.fieldsToRedact) == 0 || len(event.Fields) == 0 {
		return
	}

	var fields domain.RawEvent
	for name := range r.fieldsToRedact {
		if _, ok := event.Fields[name]; !ok {
			continue
		}
		if fields == nil {
			fields = make(domain.RawEvent, len(event.Fields))
			for k, v := range event.Fields {
				fields[k] = v
			}
		}
		fields[name] = RedactedPlaceholder
	}

	if fields != nil {
		event.Fields = fields
		event.Redacted = true
		r.logger.Debug("redacted quarantined event", "file", event.File)
	}
}
