package domain

import "time"

// ProcessingStatus is the lifecycle state of a raw record.
//
// State machine: pending → in_progress → processed | error. An error record
// returns to pending only via an explicit operator re-queue; there is no
// automatic retry.
type ProcessingStatus string

// Raw record processing statuses.
const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "in_progress"
	ProcessingProcessed  ProcessingStatus = "processed"
	ProcessingError      ProcessingStatus = "error"
)

// RawRecord is one ingested payload. The payload bytes are immutable after
// insert; corrections arrive as new records. Only the materializer updates
// ProcessingStatus, TargetTable, and RunID, and only under an optimistic
// claim.
type RawRecord struct {
	ID          string
	SourceID    string
	ExternalRef string
	Payload     []byte // original JSON document, stored verbatim
	Fingerprint string
	Status      ProcessingStatus
	ErrorReason *string
	TargetTable *string // canonical table written by materialization
	RunID       *string // materialization run that processed this record
	IngestSeq   int64   // source ingest counter value at intake
	Discovered  bool    // whether field discovery has run for this record
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// ShapeCount is a per-fingerprint record count for one source, answering
// "how many distinct shapes has this source produced".
type ShapeCount struct {
	Fingerprint string
	Records     int64
	LastSeenAt  time.Time
}
