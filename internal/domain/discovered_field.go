package domain

import "time"

// MappingStatus is the rule-authoring state of a discovered field.
type MappingStatus string

// Mapping statuses.
const (
	MappingUnmapped MappingStatus = "unmapped"
	MappingMapped   MappingStatus = "mapped"
	MappingIgnored  MappingStatus = "ignored"
)

// DiscoveredField aggregates every sighting of one field path within one
// source. Unique on (SourceID, FieldPath). Occurrences is monotonic
// non-decreasing; ExampleValue is last-seen-wins.
type DiscoveredField struct {
	ID           string
	SourceID     string
	FieldPath    string
	InferredType TypeTag
	ExampleValue *string
	Occurrences  int64
	LastSeenSeq  int64 // source IngestSeq of the most recent sighting
	Mapping      MappingStatus
	TargetTable  *string
	TargetColumn *string
	FirstSeenAt  time.Time
	UpdatedAt    time.Time
}

// FieldObservation is one (path, type, example) tuple produced by walking a
// single payload.
type FieldObservation struct {
	FieldPath string
	Type      TypeTag
	Example   string
	HasValue  bool // false when the only sighting in this record was null
}
