package repository

import (
	"context"
	"database/sql"
	"fmt"

	"schemaflow/internal/domain"
)

var _ domain.SourceRepository = (*SourceRepo)(nil)

// SourceRepo stores the external source registry in SQLite. Mutations go
// through the single-writer pool; lookups use the read pool.
type SourceRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewSourceRepo creates a new SourceRepo.
func NewSourceRepo(write, read *sql.DB) *SourceRepo {
	return &SourceRepo{write: write, read: read}
}

const sourceColumns = `id, name, type, origin, cadence, status, ingest_seq, created_at, updated_at`

// Create inserts a new source. Defaults status to active when unset.
func (r *SourceRepo) Create(ctx context.Context, s *domain.Source) (*domain.Source, error) {
	if s == nil {
		return nil, domain.ErrValidation("source is required")
	}
	if s.Name == "" {
		return nil, domain.ErrValidation("source name is required")
	}
	if s.ID == "" {
		s.ID = domain.NewID()
	}
	if s.Status == "" {
		s.Status = domain.SourceStatusActive
	}
	if !domain.ValidSourceStatus(s.Status) {
		return nil, domain.ErrValidation("invalid source status %q", s.Status)
	}

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO sources (id, name, type, origin, cadence, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Type, s.Origin, nullStr(s.Cadence), string(s.Status))
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, s.ID)
}

// GetByID returns a source by ID.
func (r *SourceRepo) GetByID(ctx context.Context, id string) (*domain.Source, error) {
	return r.getOne(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
}

// GetByName returns a source by its unique name.
func (r *SourceRepo) GetByName(ctx context.Context, name string) (*domain.Source, error) {
	return r.getOne(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
}

// List returns sources ordered by name.
func (r *SourceRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.Source, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY name LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, 0, err
		}
		sources = append(sources, *s)
	}
	return sources, total, rows.Err()
}

// SetStatus updates the source status.
func (r *SourceRepo) SetStatus(ctx context.Context, id string, status domain.SourceStatus) error {
	if !domain.ValidSourceStatus(status) {
		return domain.ErrValidation("invalid source status %q", status)
	}
	res, err := r.write.ExecContext(ctx, `
		UPDATE sources SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("source %q not found", id)
	}
	return nil
}

// NextIngestSeq increments and returns the per-source ingest counter. The
// write pool serializes writers, so the increment-then-read pair observes
// its own value.
func (r *SourceRepo) NextIngestSeq(ctx context.Context, id string) (int64, error) {
	var seq int64
	err := r.write.QueryRowContext(ctx, `
		UPDATE sources SET ingest_seq = ingest_seq + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING ingest_seq
	`, id).Scan(&seq)
	if err != nil {
		return 0, mapDBError(err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *SourceRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.Source, error) {
	s, err := scanSource(r.read.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, mapDBError(err)
	}
	return s, nil
}

func scanSource(row rowScanner) (*domain.Source, error) {
	var (
		s       domain.Source
		cadence sql.NullString
		status  string
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Type, &s.Origin, &cadence, &status,
		&s.IngestSeq, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Cadence = strPtr(cadence)
	s.Status = domain.SourceStatus(status)
	return &s, nil
}
