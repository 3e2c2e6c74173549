// Package drift compares a source's discovered schema against its
// last-confirmed snapshot and surfaces changes as reviewable events.
// Nothing here mutates mappings or canonical data: drift is reported,
// never auto-applied.
package drift

import (
	"context"
	"log/slog"
	"time"

	"schemaflow/internal/domain"
	"schemaflow/internal/service/discovery"
)

// Detector diffs discovered fields against confirmed schema snapshots.
type Detector struct {
	sources   domain.SourceRepository
	fields    domain.DiscoveredFieldRepository
	changes   domain.SchemaChangeRepository
	records   domain.RawRecordRepository
	discovery *discovery.Service

	// minOccurrence is how many sightings a field needs before it counts as
	// part of the schema; below it, early low-volume variants stay noise.
	minOccurrence int64
	// removalWindow is how many records may pass without a sighting before a
	// confirmed field is reported as removed.
	removalWindow int64

	logger *slog.Logger
}

// NewDetector creates a drift detector.
func NewDetector(
	sources domain.SourceRepository,
	fields domain.DiscoveredFieldRepository,
	changes domain.SchemaChangeRepository,
	records domain.RawRecordRepository,
	disc *discovery.Service,
	minOccurrence, removalWindow int64,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		sources:       sources,
		fields:        fields,
		changes:       changes,
		records:       records,
		discovery:     disc,
		minOccurrence: minOccurrence,
		removalWindow: removalWindow,
		logger:        logger,
	}
}

// CheckSource reconciles one source and returns how many events it emitted.
// Safe to run inline after intake or periodically; an already-raised signal
// is never duplicated.
func (d *Detector) CheckSource(ctx context.Context, sourceID string) (int, error) {
	src, err := d.sources.GetByID(ctx, sourceID)
	if err != nil {
		return 0, err
	}

	if err := d.catchUpDiscovery(ctx, sourceID); err != nil {
		return 0, err
	}

	snapshot, err := d.changes.SnapshotList(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	confirmed := make(map[string]domain.SnapshotField, len(snapshot))
	for _, f := range snapshot {
		confirmed[f.FieldPath] = f
	}

	emitted := 0
	observed := make(map[string]domain.DiscoveredField)

	page := domain.PageRequest{MaxResults: domain.MaxMaxResults}
	for {
		fields, total, err := d.fields.ListBySource(ctx, sourceID, nil, page)
		if err != nil {
			return emitted, err
		}
		for _, f := range fields {
			observed[f.FieldPath] = f

			snap, ok := confirmed[f.FieldPath]
			switch {
			case !ok && f.Occurrences >= d.minOccurrence:
				n, err := d.emit(ctx, sourceID, domain.ChangeFieldAdded, f.FieldPath,
					nil, strOf(string(f.InferredType)))
				if err != nil {
					return emitted, err
				}
				emitted += n
			case ok && f.InferredType != snap.Type &&
				f.InferredType != domain.TypeNull && f.Occurrences >= d.minOccurrence:
				n, err := d.emit(ctx, sourceID, domain.ChangeTypeChanged, f.FieldPath,
					strOf(string(snap.Type)), strOf(string(f.InferredType)))
				if err != nil {
					return emitted, err
				}
				emitted += n
			}
		}

		next := domain.NextPageToken(page.Offset(), page.Limit(), total)
		if next == "" {
			break
		}
		page.PageToken = next
	}

	// A confirmed field with no sighting across the recent window is a soft
	// removal signal, not a deletion.
	if src.IngestSeq >= d.removalWindow {
		horizon := src.IngestSeq - d.removalWindow
		for path, snap := range confirmed {
			lastSeen := int64(0)
			if f, ok := observed[path]; ok {
				lastSeen = f.LastSeenSeq
			}
			if lastSeen <= horizon {
				n, err := d.emit(ctx, sourceID, domain.ChangeFieldRemoved, path,
					strOf(string(snap.Type)), nil)
				if err != nil {
					return emitted, err
				}
				emitted += n
			}
		}
	}

	if emitted > 0 {
		d.logger.Info("schema drift detected", "source", sourceID, "events", emitted)
	}
	return emitted, nil
}

// catchUpDiscovery re-observes records whose inline discovery failed at
// intake, so reconciliation always diffs against a complete field set.
func (d *Detector) catchUpDiscovery(ctx context.Context, sourceID string) error {
	for {
		recs, err := d.records.ListUndiscovered(ctx, sourceID, domain.DefaultMaxResults)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}

		caught := 0
		for _, rec := range recs {
			payload, err := domain.ParsePayload(rec.Payload)
			if err != nil {
				// Intake validated the payload, so this record predates the
				// current parser or the row was tampered with. Mark it so
				// the sweep does not reload it forever.
				d.logger.Warn("undiscovered record no longer parses",
					"record", rec.ID, "source", sourceID, "error", err)
				if err := d.records.MarkDiscovered(ctx, rec.ID); err != nil {
					return err
				}
				continue
			}
			if err := d.discovery.ObserveRecord(ctx, sourceID, rec.IngestSeq, payload); err != nil {
				d.logger.Warn("discovery catch-up failed",
					"record", rec.ID, "source", sourceID, "error", err)
				continue
			}
			if err := d.records.MarkDiscovered(ctx, rec.ID); err != nil {
				return err
			}
			caught++
		}
		if caught > 0 {
			d.logger.Info("discovery caught up", "source", sourceID, "records", caught)
		}
		if caught < len(recs) {
			// The remainder kept failing; leave them for the next pass.
			return nil
		}
	}
}

// CheckAll reconciles every registered source.
func (d *Detector) CheckAll(ctx context.Context) (int, error) {
	emitted := 0
	page := domain.PageRequest{MaxResults: domain.MaxMaxResults}
	for {
		sources, total, err := d.sources.List(ctx, page)
		if err != nil {
			return emitted, err
		}
		for _, src := range sources {
			n, err := d.CheckSource(ctx, src.ID)
			if err != nil {
				return emitted, err
			}
			emitted += n
		}
		next := domain.NextPageToken(page.Offset(), page.Limit(), total)
		if next == "" {
			break
		}
		page.PageToken = next
	}
	return emitted, nil
}

// ListEvents returns a source's change events, optionally filtered by
// review status.
func (d *Detector) ListEvents(ctx context.Context, sourceID string, review *domain.ReviewStatus, page domain.PageRequest) ([]domain.SchemaChangeEvent, int64, error) {
	if _, err := d.sources.GetByID(ctx, sourceID); err != nil {
		return nil, 0, err
	}
	return d.changes.ListBySource(ctx, sourceID, review, page)
}

// Review records the operator disposition of a pending event. Acknowledging
// folds the change into the confirmed snapshot; dismissing leaves the
// snapshot untouched and suppresses re-emission of the same signal.
func (d *Detector) Review(ctx context.Context, eventID string, review domain.ReviewStatus) (*domain.SchemaChangeEvent, error) {
	if review != domain.ReviewAcknowledged && review != domain.ReviewDismissed {
		return nil, domain.ErrValidation("review must be %q or %q",
			domain.ReviewAcknowledged, domain.ReviewDismissed)
	}

	event, err := d.changes.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if err := d.changes.SetReview(ctx, eventID, review, time.Now().UTC()); err != nil {
		return nil, err
	}

	if review == domain.ReviewAcknowledged {
		if err := d.applyToSnapshot(ctx, event); err != nil {
			return nil, err
		}
	}

	return d.changes.GetByID(ctx, eventID)
}

func (d *Detector) applyToSnapshot(ctx context.Context, e *domain.SchemaChangeEvent) error {
	switch e.ChangeType {
	case domain.ChangeFieldAdded, domain.ChangeTypeChanged:
		t := domain.TypeMixed
		if e.NewValue != nil {
			t = domain.TypeTag(*e.NewValue)
		}
		return d.changes.SnapshotUpsert(ctx, &domain.SnapshotField{
			SourceID:  e.SourceID,
			FieldPath: e.FieldPath,
			Type:      t,
		})
	case domain.ChangeFieldRemoved:
		return d.changes.SnapshotDelete(ctx, e.SourceID, e.FieldPath)
	default:
		return domain.ErrValidation("unknown change type %q", e.ChangeType)
	}
}

func (d *Detector) emit(ctx context.Context, sourceID string, ct domain.ChangeType, path string, oldValue, newValue *string) (int, error) {
	already, err := d.changes.HasEmitted(ctx, sourceID, ct, path)
	if err != nil {
		return 0, err
	}
	if already {
		return 0, nil
	}

	_, err = d.changes.Insert(ctx, &domain.SchemaChangeEvent{
		SourceID:   sourceID,
		ChangeType: ct,
		FieldPath:  path,
		OldValue:   oldValue,
		NewValue:   newValue,
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func strOf(s string) *string { return &s }
