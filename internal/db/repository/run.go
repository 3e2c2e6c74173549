package repository

import (
	"context"
	"database/sql"
	"fmt"

	"schemaflow/internal/domain"
)

var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo stores materialization run provenance.
type RunRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(write, read *sql.DB) *RunRepo {
	return &RunRepo{write: write, read: read}
}

const runColumns = `id, source_id, rule_set_hash, status, resolved, partial, failed, started_at, finished_at`

// Create inserts a new running materialization run.
func (r *RunRepo) Create(ctx context.Context, run *domain.MaterializationRun) (*domain.MaterializationRun, error) {
	if run == nil {
		return nil, domain.ErrValidation("run is required")
	}
	if run.ID == "" {
		run.ID = domain.NewID()
	}

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO materialization_runs (id, source_id, rule_set_hash, status)
		VALUES (?, ?, ?, 'running')
	`, run.ID, run.SourceID, run.RuleSetHash)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, run.ID)
}

// Finish records the run outcome and counters.
func (r *RunRepo) Finish(ctx context.Context, id string, status domain.RunStatus, resolved, partial, failed int64) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE materialization_runs
		SET status = ?, resolved = ?, partial = ?, failed = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'running'
	`, string(status), resolved, partial, failed, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict("run %q is not running", id)
	}
	return nil
}

// GetByID returns a run by ID.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*domain.MaterializationRun, error) {
	run, err := scanRun(r.read.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM materialization_runs WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return run, nil
}

// ListBySource returns a source's runs, newest first.
func (r *RunRepo) ListBySource(ctx context.Context, sourceID string, page domain.PageRequest) ([]domain.MaterializationRun, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM materialization_runs WHERE source_id = ?`, sourceID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT `+runColumns+` FROM materialization_runs
		 WHERE source_id = ? ORDER BY started_at DESC, id LIMIT ? OFFSET ?`,
		sourceID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []domain.MaterializationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

func scanRun(row rowScanner) (*domain.MaterializationRun, error) {
	var (
		run        domain.MaterializationRun
		status     string
		finishedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.SourceID, &run.RuleSetHash, &status,
		&run.Resolved, &run.Partial, &run.Failed, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
