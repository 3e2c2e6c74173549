// Package registry manages the source registry and the canonical target
// declarations, including the DDL side effect of declaring a target.
package registry

import (
	"context"
	"log/slog"

	"schemaflow/internal/db/repository"
	"schemaflow/internal/domain"
)

// Service wraps source and target registration.
type Service struct {
	sources domain.SourceRepository
	targets domain.TargetRepository
	fields  domain.DiscoveredFieldRepository
	records domain.RawRecordRepository
	store   domain.CanonicalStore
	logger  *slog.Logger
}

// NewService creates a registry service.
func NewService(
	sources domain.SourceRepository,
	targets domain.TargetRepository,
	fields domain.DiscoveredFieldRepository,
	records domain.RawRecordRepository,
	store domain.CanonicalStore,
	logger *slog.Logger,
) *Service {
	return &Service{
		sources: sources,
		targets: targets,
		fields:  fields,
		records: records,
		store:   store,
		logger:  logger,
	}
}

// CreateSource registers a source. New sources start active unless a status
// is given.
func (s *Service) CreateSource(ctx context.Context, src *domain.Source) (*domain.Source, error) {
	if src.Status == "" {
		src.Status = domain.SourceStatusActive
	}
	created, err := s.sources.Create(ctx, src)
	if err != nil {
		return nil, err
	}
	s.logger.Info("source registered", "source", created.ID, "name", created.Name)
	return created, nil
}

// GetSource returns one source by ID.
func (s *Service) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	return s.sources.GetByID(ctx, id)
}

// ListSources pages through the registry.
func (s *Service) ListSources(ctx context.Context, page domain.PageRequest) ([]domain.Source, int64, error) {
	return s.sources.List(ctx, page)
}

// SetSourceStatus transitions a source between active, paused, and error.
func (s *Service) SetSourceStatus(ctx context.Context, id string, status domain.SourceStatus) (*domain.Source, error) {
	if !domain.ValidSourceStatus(status) {
		return nil, domain.ErrValidation("invalid source status %q", status)
	}
	if err := s.sources.SetStatus(ctx, id, status); err != nil {
		return nil, err
	}
	return s.sources.GetByID(ctx, id)
}

// ListFields returns a source's discovered fields, optionally filtered by
// mapping status.
func (s *Service) ListFields(ctx context.Context, sourceID string, mapping *domain.MappingStatus, page domain.PageRequest) ([]domain.DiscoveredField, int64, error) {
	if _, err := s.sources.GetByID(ctx, sourceID); err != nil {
		return nil, 0, err
	}
	return s.fields.ListBySource(ctx, sourceID, mapping, page)
}

// ShapeCounts returns per-fingerprint record counts for a source.
func (s *Service) ShapeCounts(ctx context.Context, sourceID string) ([]domain.ShapeCount, error) {
	if _, err := s.sources.GetByID(ctx, sourceID); err != nil {
		return nil, err
	}
	return s.records.ShapeCounts(ctx, sourceID)
}

// CreateTarget declares a canonical target and creates its table with the
// natural key column and a unique index on it.
func (s *Service) CreateTarget(ctx context.Context, t *domain.CanonicalTarget) (*domain.CanonicalTarget, error) {
	if !repository.ValidIdent(t.Table) {
		return nil, domain.ErrValidation("invalid table name %q", t.Table)
	}
	if !repository.ValidIdent(t.NaturalKey) {
		return nil, domain.ErrValidation("invalid natural key column %q", t.NaturalKey)
	}

	created, err := s.targets.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	if err := s.store.EnsureTable(ctx, created.Table, created.NaturalKey); err != nil {
		return nil, err
	}

	s.logger.Info("target declared", "table", created.Table, "natural_key", created.NaturalKey)
	return created, nil
}

// ListTargets pages through declared targets.
func (s *Service) ListTargets(ctx context.Context, page domain.PageRequest) ([]domain.CanonicalTarget, int64, error) {
	return s.targets.List(ctx, page)
}
