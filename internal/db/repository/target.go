package repository

import (
	"context"
	"database/sql"

	"schemaflow/internal/domain"
)

var _ domain.TargetRepository = (*TargetRepo)(nil)

// TargetRepo stores canonical target declarations.
type TargetRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewTargetRepo creates a new TargetRepo.
func NewTargetRepo(write, read *sql.DB) *TargetRepo {
	return &TargetRepo{write: write, read: read}
}

// Create declares a canonical target table and its natural key.
func (r *TargetRepo) Create(ctx context.Context, t *domain.CanonicalTarget) (*domain.CanonicalTarget, error) {
	if t == nil {
		return nil, domain.ErrValidation("target is required")
	}
	if t.ID == "" {
		t.ID = domain.NewID()
	}

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO canonical_targets (id, table_name, natural_key) VALUES (?, ?, ?)
	`, t.ID, t.Table, t.NaturalKey)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByTable(ctx, t.Table)
}

// GetByTable returns the target declared for a canonical table.
func (r *TargetRepo) GetByTable(ctx context.Context, table string) (*domain.CanonicalTarget, error) {
	var t domain.CanonicalTarget
	err := r.read.QueryRowContext(ctx, `
		SELECT id, table_name, natural_key, created_at FROM canonical_targets WHERE table_name = ?
	`, table).Scan(&t.ID, &t.Table, &t.NaturalKey, &t.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	return &t, nil
}

// List returns all declared targets ordered by table name.
func (r *TargetRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.CanonicalTarget, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_targets`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.read.QueryContext(ctx, `
		SELECT id, table_name, natural_key, created_at FROM canonical_targets
		ORDER BY table_name LIMIT ? OFFSET ?
	`, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var targets []domain.CanonicalTarget
	for rows.Next() {
		var t domain.CanonicalTarget
		if err := rows.Scan(&t.ID, &t.Table, &t.NaturalKey, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		targets = append(targets, t)
	}
	return targets, total, rows.Err()
}
