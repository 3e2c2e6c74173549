package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"schemaflow/internal/domain"
)

var _ domain.RawRecordRepository = (*RawRecordRepo)(nil)

// RawRecordRepo stores ingested payloads in SQLite. Payload bytes are never
// updated after insert; only the processing status columns change, and only
// through the claim/mark methods below.
type RawRecordRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewRawRecordRepo creates a new RawRecordRepo.
func NewRawRecordRepo(write, read *sql.DB) *RawRecordRepo {
	return &RawRecordRepo{write: write, read: read}
}

const rawRecordColumns = `id, source_id, external_ref, payload, fingerprint, processing_status,
	error_reason, mapped_target_table, run_id, ingest_seq, discovered, received_at, processed_at`

// Create appends a new raw record in pending state.
func (r *RawRecordRepo) Create(ctx context.Context, rec *domain.RawRecord) (*domain.RawRecord, error) {
	if rec == nil {
		return nil, domain.ErrValidation("raw record is required")
	}
	if rec.SourceID == "" {
		return nil, domain.ErrValidation("source_id is required")
	}
	if len(rec.Payload) == 0 {
		return nil, domain.ErrValidation("payload is required")
	}
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO raw_records
			(id, source_id, external_ref, payload, fingerprint, processing_status, ingest_seq, discovered)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, rec.ID, rec.SourceID, rec.ExternalRef, string(rec.Payload), rec.Fingerprint,
		string(domain.ProcessingPending), rec.IngestSeq)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, rec.ID)
}

// GetByID returns a raw record by ID.
func (r *RawRecordRepo) GetByID(ctx context.Context, id string) (*domain.RawRecord, error) {
	rec, err := scanRawRecord(r.read.QueryRowContext(ctx,
		`SELECT `+rawRecordColumns+` FROM raw_records WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return rec, nil
}

// ListPending returns up to limit pending records for a source, oldest first.
func (r *RawRecordRepo) ListPending(ctx context.Context, sourceID string, limit int) ([]domain.RawRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultMaxResults
	}
	rows, err := r.read.QueryContext(ctx, `
		SELECT `+rawRecordColumns+` FROM raw_records
		WHERE source_id = ? AND processing_status = 'pending'
		ORDER BY received_at, id LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	return collectRawRecords(rows)
}

// ListPendingByIDs returns the pending subset of the given record IDs,
// restricted to the source.
func (r *RawRecordRepo) ListPendingByIDs(ctx context.Context, sourceID string, ids []string) ([]domain.RawRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, sourceID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.read.QueryContext(ctx, `
		SELECT `+rawRecordColumns+` FROM raw_records
		WHERE source_id = ? AND processing_status = 'pending' AND id IN (`+placeholders+`)
		ORDER BY received_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	return collectRawRecords(rows)
}

// Claim flips pending→in_progress for one record. The guarded UPDATE makes
// the claim optimistic: exactly one concurrent caller sees RowsAffected==1.
func (r *RawRecordRepo) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.write.ExecContext(ctx, `
		UPDATE raw_records SET processing_status = 'in_progress'
		WHERE id = ? AND processing_status = 'pending'
	`, id)
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Release returns a claimed record to pending without touching anything
// else. Used when a run is canceled between claim and load.
func (r *RawRecordRepo) Release(ctx context.Context, id string) error {
	_, err := r.write.ExecContext(ctx, `
		UPDATE raw_records SET processing_status = 'pending'
		WHERE id = ? AND processing_status = 'in_progress'
	`, id)
	return mapDBError(err)
}

// MarkProcessed completes a claimed record, recording provenance.
func (r *RawRecordRepo) MarkProcessed(ctx context.Context, id, targetTable, runID string) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE raw_records
		SET processing_status = 'processed', error_reason = NULL,
		    mapped_target_table = ?, run_id = ?, processed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND processing_status = 'in_progress'
	`, targetTable, runID, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict("record %q is not claimed", id)
	}
	return nil
}

// MarkError fails a claimed record with a stored reason.
func (r *RawRecordRepo) MarkError(ctx context.Context, id, reason string) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE raw_records
		SET processing_status = 'error', error_reason = ?, processed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND processing_status = 'in_progress'
	`, reason, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict("record %q is not claimed", id)
	}
	return nil
}

// Requeue flips error→pending. This is the only path out of the error state
// and it is operator-initiated.
func (r *RawRecordRepo) Requeue(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE raw_records
		SET processing_status = 'pending', error_reason = NULL,
		    mapped_target_table = NULL, run_id = NULL, processed_at = NULL
		WHERE id = ? AND processing_status = 'error'
	`, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrValidation("record %q is not in error state", id)
	}
	return nil
}

// MarkDiscovered records that field discovery completed for the record.
func (r *RawRecordRepo) MarkDiscovered(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx,
		`UPDATE raw_records SET discovered = 1 WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("record %q not found", id)
	}
	return nil
}

// ListUndiscovered returns records whose inline discovery never completed,
// oldest first.
func (r *RawRecordRepo) ListUndiscovered(ctx context.Context, sourceID string, limit int) ([]domain.RawRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultMaxResults
	}
	rows, err := r.read.QueryContext(ctx, `
		SELECT `+rawRecordColumns+` FROM raw_records
		WHERE source_id = ? AND discovered = 0
		ORDER BY received_at, id LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	return collectRawRecords(rows)
}

// CountPending returns the number of pending records for a source.
func (r *RawRecordRepo) CountPending(ctx context.Context, sourceID string) (int64, error) {
	var n int64
	err := r.read.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_records WHERE source_id = ? AND processing_status = 'pending'
	`, sourceID).Scan(&n)
	return n, err
}

// SourcesWithPending returns the IDs of every source that has at least one
// pending record.
func (r *RawRecordRepo) SourcesWithPending(ctx context.Context) ([]string, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT DISTINCT source_id FROM raw_records WHERE processing_status = 'pending'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ShapeCounts returns per-fingerprint record counts for a source, most
// frequent first.
func (r *RawRecordRepo) ShapeCounts(ctx context.Context, sourceID string) ([]domain.ShapeCount, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT fingerprint, COUNT(*), MAX(received_at)
		FROM raw_records WHERE source_id = ?
		GROUP BY fingerprint ORDER BY COUNT(*) DESC, fingerprint
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.ShapeCount
	for rows.Next() {
		var (
			c        domain.ShapeCount
			lastSeen string
		)
		if err := rows.Scan(&c.Fingerprint, &c.Records, &lastSeen); err != nil {
			return nil, err
		}
		// MAX() strips the column's declared type, so the driver returns
		// the stored text instead of a time.Time.
		c.LastSeenAt = parseDBTime(lastSeen)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func collectRawRecords(rows *sql.Rows) ([]domain.RawRecord, error) {
	defer rows.Close()

	var records []domain.RawRecord
	for rows.Next() {
		rec, err := scanRawRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRawRecord(row rowScanner) (*domain.RawRecord, error) {
	var (
		rec         domain.RawRecord
		payload     string
		status      string
		errorReason sql.NullString
		targetTable sql.NullString
		runID       sql.NullString
		processedAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.SourceID, &rec.ExternalRef, &payload, &rec.Fingerprint,
		&status, &errorReason, &targetTable, &runID, &rec.IngestSeq, &rec.Discovered,
		&rec.ReceivedAt, &processedAt); err != nil {
		return nil, err
	}
	rec.Payload = []byte(payload)
	rec.Status = domain.ProcessingStatus(status)
	rec.ErrorReason = strPtr(errorReason)
	rec.TargetTable = strPtr(targetTable)
	rec.RunID = strPtr(runID)
	if processedAt.Valid {
		t := processedAt.Time
		rec.ProcessedAt = &t
	}
	return &rec, nil
}
