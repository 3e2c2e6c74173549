package domain

import "time"

// SourceStatus represents the operational state of an external data source.
type SourceStatus string

// Source statuses.
const (
	SourceStatusActive SourceStatus = "active"
	SourceStatusPaused SourceStatus = "paused"
	SourceStatusError  SourceStatus = "error"
)

// ValidSourceStatus reports whether s is a known source status.
func ValidSourceStatus(s SourceStatus) bool {
	switch s {
	case SourceStatusActive, SourceStatusPaused, SourceStatusError:
		return true
	}
	return false
}

// Source is the registry entry for one external data source. IngestSeq is a
// per-source counter incremented once per accepted record; discovery stamps
// it onto field sightings so drift detection can reason about recency
// without timestamps.
type Source struct {
	ID        string
	Name      string
	Type      string  // e.g. "scrape", "webhook", "csv-feed"
	Origin    string  // locator of the upstream (URL, bucket, feed name)
	Cadence   *string // optional cron expression for scheduled materialization
	Status    SourceStatus
	IngestSeq int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
