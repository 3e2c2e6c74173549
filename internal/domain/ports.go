package domain

import (
	"context"
	"time"
)

// SourceRepository provides CRUD operations for the source registry.
type SourceRepository interface {
	Create(ctx context.Context, s *Source) (*Source, error)
	GetByID(ctx context.Context, id string) (*Source, error)
	GetByName(ctx context.Context, name string) (*Source, error)
	List(ctx context.Context, page PageRequest) ([]Source, int64, error)
	SetStatus(ctx context.Context, id string, status SourceStatus) error
	// NextIngestSeq atomically increments and returns the source's ingest
	// counter. Exactly one caller observes each value.
	NextIngestSeq(ctx context.Context, id string) (int64, error)
}

// RawRecordRepository provides append-only storage for ingested payloads
// plus the narrow status updates the materializer is allowed to make.
type RawRecordRepository interface {
	Create(ctx context.Context, r *RawRecord) (*RawRecord, error)
	GetByID(ctx context.Context, id string) (*RawRecord, error)
	ListPending(ctx context.Context, sourceID string, limit int) ([]RawRecord, error)
	ListPendingByIDs(ctx context.Context, sourceID string, ids []string) ([]RawRecord, error)
	// Claim flips pending→in_progress for one record. Exactly one concurrent
	// caller wins; the rest observe claimed=false and skip the record.
	Claim(ctx context.Context, id string) (claimed bool, err error)
	// Release returns a claimed record to pending (cancellation path).
	Release(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id, targetTable, runID string) error
	MarkError(ctx context.Context, id, reason string) error
	// Requeue flips error→pending. Operator-initiated only.
	Requeue(ctx context.Context, id string) error
	// MarkDiscovered records that field discovery completed for the record.
	MarkDiscovered(ctx context.Context, id string) error
	// ListUndiscovered returns records whose inline discovery never
	// completed, oldest first.
	ListUndiscovered(ctx context.Context, sourceID string, limit int) ([]RawRecord, error)
	CountPending(ctx context.Context, sourceID string) (int64, error)
	SourcesWithPending(ctx context.Context) ([]string, error)
	ShapeCounts(ctx context.Context, sourceID string) ([]ShapeCount, error)
}

// FieldObservationResult describes how a single observation landed.
type FieldObservationResult struct {
	Created      bool    // first sighting of this (source, path)
	PreviousType TypeTag // inferred type before this observation
}

// DiscoveredFieldRepository aggregates field sightings per source.
type DiscoveredFieldRepository interface {
	// Observe inserts or updates the (sourceID, path) aggregate: increments
	// the occurrence count, refreshes the example (last-seen wins), stamps
	// seq, and records the latest non-null type.
	Observe(ctx context.Context, sourceID string, obs FieldObservation, seq int64) (*FieldObservationResult, error)
	Get(ctx context.Context, sourceID, path string) (*DiscoveredField, error)
	ListBySource(ctx context.Context, sourceID string, mapping *MappingStatus, page PageRequest) ([]DiscoveredField, int64, error)
	CountBySource(ctx context.Context, sourceID string) (int64, error)
	SetMapping(ctx context.Context, sourceID, path string, mapping MappingStatus, targetTable, targetColumn *string) error
}

// SchemaChangeRepository stores drift events and the per-source confirmed
// schema snapshot.
type SchemaChangeRepository interface {
	Insert(ctx context.Context, e *SchemaChangeEvent) (*SchemaChangeEvent, error)
	GetByID(ctx context.Context, id string) (*SchemaChangeEvent, error)
	ListBySource(ctx context.Context, sourceID string, review *ReviewStatus, page PageRequest) ([]SchemaChangeEvent, int64, error)
	// HasEmitted reports whether a non-acknowledged event for the same
	// (source, type, path) already exists. Reconciliation consults it so a
	// signal fires once: pending events are not duplicated, and dismissed
	// ones are not re-raised. Acknowledged events update the snapshot, which
	// stops the signal at its cause.
	HasEmitted(ctx context.Context, sourceID string, ct ChangeType, path string) (bool, error)
	SetReview(ctx context.Context, id string, review ReviewStatus, at time.Time) error

	SnapshotGet(ctx context.Context, sourceID, path string) (*SnapshotField, error)
	SnapshotList(ctx context.Context, sourceID string) ([]SnapshotField, error)
	SnapshotUpsert(ctx context.Context, f *SnapshotField) error
	SnapshotDelete(ctx context.Context, sourceID, path string) error
}

// RuleRepository stores versioned transformation rules.
type RuleRepository interface {
	Create(ctx context.Context, r *TransformationRule) (*TransformationRule, error)
	// CreateVersion inserts the revision and disables its predecessor in one
	// transaction.
	CreateVersion(ctx context.Context, prevID string, r *TransformationRule) (*TransformationRule, error)
	GetByID(ctx context.Context, id string) (*TransformationRule, error)
	Disable(ctx context.Context, id string) error
	ListActiveBySource(ctx context.Context, sourceID string) ([]TransformationRule, error)
	ListBySource(ctx context.Context, sourceID string, page PageRequest) ([]TransformationRule, int64, error)
}

// TargetRepository stores canonical target declarations.
type TargetRepository interface {
	Create(ctx context.Context, t *CanonicalTarget) (*CanonicalTarget, error)
	GetByTable(ctx context.Context, table string) (*CanonicalTarget, error)
	List(ctx context.Context, page PageRequest) ([]CanonicalTarget, int64, error)
}

// RunRepository stores materialization run provenance.
type RunRepository interface {
	Create(ctx context.Context, r *MaterializationRun) (*MaterializationRun, error)
	Finish(ctx context.Context, id string, status RunStatus, resolved, partial, failed int64) error
	GetByID(ctx context.Context, id string) (*MaterializationRun, error)
	ListBySource(ctx context.Context, sourceID string, page PageRequest) ([]MaterializationRun, int64, error)
}

// CanonicalStore manages canonical tables: DDL on target registration and
// column-scoped upserts during the load phase. Upsert must never null out a
// column absent from cols: a narrower rule pass must not wipe previously
// imported data.
type CanonicalStore interface {
	EnsureTable(ctx context.Context, table, naturalKey string) error
	EnsureColumns(ctx context.Context, table string, columns []string) error
	Upsert(ctx context.Context, table, naturalKey, keyValue string, cols map[string]string) error
	GetRow(ctx context.Context, table, naturalKey, keyValue string) (map[string]*string, error)
	CountRows(ctx context.Context, table string) (int64, error)
}
