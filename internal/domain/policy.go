package domain

// SkipEventPolicy decides how already ingested events are recognized.
type SkipEventPolicy string

const (
	// SkipEventByDate skips events not newer than the comparison time.
	SkipEventByDate SkipEventPolicy = "by_date"
	// SkipEventByExistence skips events whose log_id is already stored.
	SkipEventByExistence SkipEventPolicy = "by_existence"
)

// MalformedPolicy decides what a malformed event does to its file.
type MalformedPolicy string

const (
	// MalformedAbortFile stops reading the file at the first malformed event.
	MalformedAbortFile MalformedPolicy = "abort_file"
	// MalformedSkipEvent drops the malformed event and keeps reading the file.
	MalformedSkipEvent MalformedPolicy = "skip_event"
)
