package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"schemaflow/internal/domain"
)

var _ domain.DiscoveredFieldRepository = (*DiscoveredFieldRepo)(nil)

// DiscoveredFieldRepo aggregates field sightings per source in SQLite.
type DiscoveredFieldRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewDiscoveredFieldRepo creates a new DiscoveredFieldRepo.
func NewDiscoveredFieldRepo(write, read *sql.DB) *DiscoveredFieldRepo {
	return &DiscoveredFieldRepo{write: write, read: read}
}

const fieldColumns = `id, source_id, field_path, inferred_type, example_value, occurrence_count,
	last_seen_seq, mapping_status, target_table, target_column, first_seen_at, updated_at`

// Observe records one sighting of (sourceID, path). First sightings insert
// an unmapped row; repeats increment the occurrence count in SQL so the
// count stays monotonic under concurrent intake. Null sightings never
// overwrite a known type or example.
func (r *DiscoveredFieldRepo) Observe(ctx context.Context, sourceID string, obs domain.FieldObservation, seq int64) (*domain.FieldObservationResult, error) {
	prev, err := r.Get(ctx, sourceID, obs.FieldPath)
	if err != nil {
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}

		_, err = r.write.ExecContext(ctx, `
			INSERT INTO discovered_fields
				(id, source_id, field_path, inferred_type, example_value, occurrence_count, last_seen_seq)
			VALUES (?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT (source_id, field_path) DO UPDATE SET
				occurrence_count = occurrence_count + 1,
				last_seen_seq = MAX(last_seen_seq, excluded.last_seen_seq),
				updated_at = CURRENT_TIMESTAMP
		`, domain.NewID(), sourceID, obs.FieldPath, string(obs.Type), exampleOf(obs), seq)
		if err != nil {
			return nil, mapDBError(err)
		}
		return &domain.FieldObservationResult{Created: true}, nil
	}

	newType := prev.InferredType
	if obs.Type != domain.TypeNull {
		newType = obs.Type
	}

	if obs.HasValue {
		_, err = r.write.ExecContext(ctx, `
			UPDATE discovered_fields
			SET occurrence_count = occurrence_count + 1, inferred_type = ?, example_value = ?,
			    last_seen_seq = MAX(last_seen_seq, ?), updated_at = CURRENT_TIMESTAMP
			WHERE source_id = ? AND field_path = ?
		`, string(newType), obs.Example, seq, sourceID, obs.FieldPath)
	} else {
		_, err = r.write.ExecContext(ctx, `
			UPDATE discovered_fields
			SET occurrence_count = occurrence_count + 1, last_seen_seq = MAX(last_seen_seq, ?),
			    updated_at = CURRENT_TIMESTAMP
			WHERE source_id = ? AND field_path = ?
		`, seq, sourceID, obs.FieldPath)
	}
	if err != nil {
		return nil, mapDBError(err)
	}

	return &domain.FieldObservationResult{PreviousType: prev.InferredType}, nil
}

// Get returns one (source, path) aggregate.
func (r *DiscoveredFieldRepo) Get(ctx context.Context, sourceID, path string) (*domain.DiscoveredField, error) {
	f, err := scanField(r.read.QueryRowContext(ctx,
		`SELECT `+fieldColumns+` FROM discovered_fields WHERE source_id = ? AND field_path = ?`,
		sourceID, path))
	if err != nil {
		return nil, mapDBError(err)
	}
	return f, nil
}

// ListBySource returns a source's discovered fields ordered by path,
// optionally filtered by mapping status.
func (r *DiscoveredFieldRepo) ListBySource(ctx context.Context, sourceID string, mapping *domain.MappingStatus, page domain.PageRequest) ([]domain.DiscoveredField, int64, error) {
	where := `WHERE source_id = ?`
	args := []interface{}{sourceID}
	if mapping != nil {
		where += ` AND mapping_status = ?`
		args = append(args, string(*mapping))
	}

	var total int64
	if err := r.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discovered_fields `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit(), page.Offset())
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+fieldColumns+` FROM discovered_fields `+where+` ORDER BY field_path LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var fields []domain.DiscoveredField
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, 0, err
		}
		fields = append(fields, *f)
	}
	return fields, total, rows.Err()
}

// CountBySource returns the number of distinct paths for a source.
func (r *DiscoveredFieldRepo) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	var n int64
	err := r.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discovered_fields WHERE source_id = ?`, sourceID).Scan(&n)
	return n, err
}

// SetMapping updates the mapping disposition of a discovered field.
func (r *DiscoveredFieldRepo) SetMapping(ctx context.Context, sourceID, path string, mapping domain.MappingStatus, targetTable, targetColumn *string) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE discovered_fields
		SET mapping_status = ?, target_table = ?, target_column = ?, updated_at = CURRENT_TIMESTAMP
		WHERE source_id = ? AND field_path = ?
	`, string(mapping), nullStr(targetTable), nullStr(targetColumn), sourceID, path)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("field %q not discovered for source %q", path, sourceID)
	}
	return nil
}

func exampleOf(obs domain.FieldObservation) sql.NullString {
	if !obs.HasValue {
		return sql.NullString{}
	}
	return sql.NullString{String: obs.Example, Valid: true}
}

func scanField(row rowScanner) (*domain.DiscoveredField, error) {
	var (
		f            domain.DiscoveredField
		inferredType string
		example      sql.NullString
		mapping      string
		targetTable  sql.NullString
		targetColumn sql.NullString
	)
	if err := row.Scan(&f.ID, &f.SourceID, &f.FieldPath, &inferredType, &example, &f.Occurrences,
		&f.LastSeenSeq, &mapping, &targetTable, &targetColumn, &f.FirstSeenAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.InferredType = domain.TypeTag(inferredType)
	f.ExampleValue = strPtr(example)
	f.Mapping = domain.MappingStatus(mapping)
	f.TargetTable = strPtr(targetTable)
	f.TargetColumn = strPtr(targetColumn)
	return &f, nil
}
