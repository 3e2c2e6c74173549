package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"schemaflow/internal/domain"
)

var _ domain.SchemaChangeRepository = (*SchemaChangeRepo)(nil)

// SchemaChangeRepo stores drift events and confirmed schema snapshots.
type SchemaChangeRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewSchemaChangeRepo creates a new SchemaChangeRepo.
func NewSchemaChangeRepo(write, read *sql.DB) *SchemaChangeRepo {
	return &SchemaChangeRepo{write: write, read: read}
}

const changeColumns = `id, source_id, change_type, field_path, old_value, new_value,
	detected_at, review_status, reviewed_at`

// Insert creates a new change event in pending review state.
func (r *SchemaChangeRepo) Insert(ctx context.Context, e *domain.SchemaChangeEvent) (*domain.SchemaChangeEvent, error) {
	if e == nil {
		return nil, domain.ErrValidation("change event is required")
	}
	if e.ID == "" {
		e.ID = domain.NewID()
	}

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO schema_change_events (id, source_id, change_type, field_path, old_value, new_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.SourceID, string(e.ChangeType), e.FieldPath, nullStr(e.OldValue), nullStr(e.NewValue))
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, e.ID)
}

// GetByID returns a change event by ID.
func (r *SchemaChangeRepo) GetByID(ctx context.Context, id string) (*domain.SchemaChangeEvent, error) {
	e, err := scanChange(r.read.QueryRowContext(ctx,
		`SELECT `+changeColumns+` FROM schema_change_events WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return e, nil
}

// ListBySource returns change events for a source, newest first, optionally
// filtered by review status.
func (r *SchemaChangeRepo) ListBySource(ctx context.Context, sourceID string, review *domain.ReviewStatus, page domain.PageRequest) ([]domain.SchemaChangeEvent, int64, error) {
	where := `WHERE source_id = ?`
	args := []interface{}{sourceID}
	if review != nil {
		where += ` AND review_status = ?`
		args = append(args, string(*review))
	}

	var total int64
	if err := r.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_change_events `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit(), page.Offset())
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+changeColumns+` FROM schema_change_events `+where+
			` ORDER BY detected_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []domain.SchemaChangeEvent
	for rows.Next() {
		e, err := scanChange(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *e)
	}
	return events, total, rows.Err()
}

// HasEmitted reports whether a pending or dismissed event with the same
// (source, type, path) exists. Acknowledged events fold into the snapshot,
// so they no longer count as an outstanding signal.
func (r *SchemaChangeRepo) HasEmitted(ctx context.Context, sourceID string, ct domain.ChangeType, path string) (bool, error) {
	var n int64
	err := r.read.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM schema_change_events
		WHERE source_id = ? AND change_type = ? AND field_path = ? AND review_status != 'acknowledged'
	`, sourceID, string(ct), path).Scan(&n)
	return n > 0, err
}

// SetReview records the operator disposition of a pending event.
func (r *SchemaChangeRepo) SetReview(ctx context.Context, id string, review domain.ReviewStatus, at time.Time) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE schema_change_events SET review_status = ?, reviewed_at = ?
		WHERE id = ? AND review_status = 'pending'
	`, string(review), at, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict("event %q is not pending review", id)
	}
	return nil
}

// SnapshotGet returns one confirmed snapshot field.
func (r *SchemaChangeRepo) SnapshotGet(ctx context.Context, sourceID, path string) (*domain.SnapshotField, error) {
	var (
		f         domain.SnapshotField
		fieldType string
	)
	err := r.read.QueryRowContext(ctx, `
		SELECT source_id, field_path, field_type, confirmed_at
		FROM schema_snapshot_fields WHERE source_id = ? AND field_path = ?
	`, sourceID, path).Scan(&f.SourceID, &f.FieldPath, &fieldType, &f.ConfirmedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	f.Type = domain.TypeTag(fieldType)
	return &f, nil
}

// SnapshotList returns the full confirmed snapshot for a source.
func (r *SchemaChangeRepo) SnapshotList(ctx context.Context, sourceID string) ([]domain.SnapshotField, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT source_id, field_path, field_type, confirmed_at
		FROM schema_snapshot_fields WHERE source_id = ? ORDER BY field_path
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []domain.SnapshotField
	for rows.Next() {
		var (
			f         domain.SnapshotField
			fieldType string
		)
		if err := rows.Scan(&f.SourceID, &f.FieldPath, &fieldType, &f.ConfirmedAt); err != nil {
			return nil, err
		}
		f.Type = domain.TypeTag(fieldType)
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// SnapshotUpsert confirms a (path, type) into the snapshot.
func (r *SchemaChangeRepo) SnapshotUpsert(ctx context.Context, f *domain.SnapshotField) error {
	_, err := r.write.ExecContext(ctx, `
		INSERT INTO schema_snapshot_fields (source_id, field_path, field_type)
		VALUES (?, ?, ?)
		ON CONFLICT (source_id, field_path) DO UPDATE SET
			field_type = excluded.field_type, confirmed_at = CURRENT_TIMESTAMP
	`, f.SourceID, f.FieldPath, string(f.Type))
	return mapDBError(err)
}

// SnapshotDelete removes a confirmed field from the snapshot.
func (r *SchemaChangeRepo) SnapshotDelete(ctx context.Context, sourceID, path string) error {
	_, err := r.write.ExecContext(ctx,
		`DELETE FROM schema_snapshot_fields WHERE source_id = ? AND field_path = ?`,
		sourceID, path)
	return mapDBError(err)
}

func scanChange(row rowScanner) (*domain.SchemaChangeEvent, error) {
	var (
		e          domain.SchemaChangeEvent
		changeType string
		oldValue   sql.NullString
		newValue   sql.NullString
		review     string
		reviewedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.SourceID, &changeType, &e.FieldPath, &oldValue, &newValue,
		&e.DetectedAt, &review, &reviewedAt); err != nil {
		return nil, err
	}
	e.ChangeType = domain.ChangeType(changeType)
	e.OldValue = strPtr(oldValue)
	e.NewValue = strPtr(newValue)
	e.Review = domain.ReviewStatus(review)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		e.ReviewedAt = &t
	}
	return &e, nil
}
