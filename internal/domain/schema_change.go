package domain

import "time"

// ChangeType classifies a detected schema drift.
type ChangeType string

// Schema change types.
const (
	ChangeFieldAdded   ChangeType = "field_added"
	ChangeFieldRemoved ChangeType = "field_removed"
	ChangeTypeChanged  ChangeType = "type_changed"
)

// ReviewStatus is the operator disposition of a schema change event.
type ReviewStatus string

// Review statuses.
const (
	ReviewPending      ReviewStatus = "pending"
	ReviewAcknowledged ReviewStatus = "acknowledged"
	ReviewDismissed    ReviewStatus = "dismissed"
)

// SchemaChangeEvent records one detected drift for operator review. Only the
// drift detector creates these, and nothing mutates them afterwards except
// the review status. Drift is surfaced, never auto-applied.
type SchemaChangeEvent struct {
	ID         string
	SourceID   string
	ChangeType ChangeType
	FieldPath  string
	OldValue   *string
	NewValue   *string
	DetectedAt time.Time
	Review     ReviewStatus
	ReviewedAt *time.Time
}

// SnapshotField is one confirmed (path, type) entry of a source's
// last-confirmed schema snapshot. The snapshot only changes when an operator
// acknowledges a change event.
type SnapshotField struct {
	SourceID    string
	FieldPath   string
	Type        TypeTag
	ConfirmedAt time.Time
}
