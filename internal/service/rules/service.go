// Package rules manages versioned transformation rules: authoring,
// revision, dry-run evaluation, and the shared resolver used by
// materialization.
package rules

import (
	"context"
	"errors"
	"log/slog"

	"schemaflow/internal/db/repository"
	"schemaflow/internal/domain"
)

// Service is the transformation rule store.
type Service struct {
	sources   domain.SourceRepository
	rules     domain.RuleRepository
	fields    domain.DiscoveredFieldRepository
	targets   domain.TargetRepository
	records   domain.RawRecordRepository
	canonical domain.CanonicalStore

	dryRunSample int
	logger       *slog.Logger
}

// NewService creates a rule service. dryRunSample bounds how many pending
// records a dry run inspects.
func NewService(
	sources domain.SourceRepository,
	rulesRepo domain.RuleRepository,
	fields domain.DiscoveredFieldRepository,
	targets domain.TargetRepository,
	records domain.RawRecordRepository,
	canonical domain.CanonicalStore,
	dryRunSample int,
	logger *slog.Logger,
) *Service {
	return &Service{
		sources:      sources,
		rules:        rulesRepo,
		fields:       fields,
		targets:      targets,
		records:      records,
		canonical:    canonical,
		dryRunSample: dryRunSample,
		logger:       logger,
	}
}

// Create validates a rule spec and stores it as version 1. The canonical
// column is added to the target table if missing, and every candidate field
// already discovered is marked mapped.
func (s *Service) Create(ctx context.Context, spec domain.RuleSpec) (*domain.TransformationRule, error) {
	if err := s.validateSpec(ctx, spec); err != nil {
		return nil, err
	}

	rule, err := s.rules.Create(ctx, ruleFromSpec(spec))
	if err != nil {
		return nil, err
	}

	if err := s.wireRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("rule created", "rule", rule.ID,
		"target", rule.TargetTable+"."+rule.TargetColumn, "source", rule.SourceID)
	return rule, nil
}

// Revise creates version n+1 of an active rule and disables version n.
// Materialization runs already in flight keep the snapshot they started
// with; the revision applies to runs started afterwards.
func (s *Service) Revise(ctx context.Context, prevID string, spec domain.RuleSpec) (*domain.TransformationRule, error) {
	if err := s.validateSpec(ctx, spec); err != nil {
		return nil, err
	}

	rule, err := s.rules.CreateVersion(ctx, prevID, ruleFromSpec(spec))
	if err != nil {
		return nil, err
	}

	if err := s.wireRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("rule revised", "rule", rule.ID, "version", rule.Version, "supersedes", prevID)
	return rule, nil
}

// Disable deactivates a rule version without deleting it.
func (s *Service) Disable(ctx context.Context, id string) (*domain.TransformationRule, error) {
	if err := s.rules.Disable(ctx, id); err != nil {
		return nil, err
	}
	return s.rules.GetByID(ctx, id)
}

// Get returns one rule version.
func (s *Service) Get(ctx context.Context, id string) (*domain.TransformationRule, error) {
	return s.rules.GetByID(ctx, id)
}

// List returns all rule versions for a source.
func (s *Service) List(ctx context.Context, sourceID string, page domain.PageRequest) ([]domain.TransformationRule, int64, error) {
	return s.rules.ListBySource(ctx, sourceID, page)
}

// ListActive returns a source's currently active rule set.
func (s *Service) ListActive(ctx context.Context, sourceID string) ([]domain.TransformationRule, error) {
	return s.rules.ListActiveBySource(ctx, sourceID)
}

// DryRun evaluates a proposed rule against a sample of the source's pending
// records and reports how many would resolve, without writing anything.
func (s *Service) DryRun(ctx context.Context, spec domain.RuleSpec, sampleSize int) (*domain.DryRunColumn, error) {
	if err := s.validateSpec(ctx, spec); err != nil {
		return nil, err
	}
	if sampleSize <= 0 || sampleSize > s.dryRunSample {
		sampleSize = s.dryRunSample
	}

	pending, err := s.records.ListPending(ctx, spec.SourceID, sampleSize)
	if err != nil {
		return nil, err
	}

	rule := *ruleFromSpec(spec)
	report := &domain.DryRunColumn{Column: spec.TargetColumn, Sampled: len(pending)}
	for _, rec := range pending {
		payload, err := domain.ParsePayload(rec.Payload)
		if err != nil {
			continue
		}
		_, ok, verr := Resolve(rule, payload)
		switch {
		case verr != nil:
			report.Invalid++
		case ok:
			report.Resolvable++
		}
	}
	return report, nil
}

func (s *Service) validateSpec(ctx context.Context, spec domain.RuleSpec) error {
	if spec.SourceID == "" {
		return domain.ErrValidation("source_id is required")
	}
	if _, err := s.sources.GetByID(ctx, spec.SourceID); err != nil {
		return err
	}
	if len(spec.Candidates) == 0 && spec.Constant == nil {
		return domain.ErrValidation("rule needs candidate fields or a constant value")
	}
	if !repository.ValidIdent(spec.TargetColumn) {
		return domain.ErrValidation("invalid target column %q", spec.TargetColumn)
	}
	if _, err := s.targets.GetByTable(ctx, spec.TargetTable); err != nil {
		return err
	}
	if !KnownTransform(spec.Transform) {
		return domain.ErrValidation("unknown transform %q", spec.Transform)
	}
	if !KnownFormat(spec.Validation.Format) {
		return domain.ErrValidation("unknown validation format %q", spec.Validation.Format)
	}
	return nil
}

// wireRule makes the rule usable: the target column exists and the
// candidate fields carry their mapping disposition.
func (s *Service) wireRule(ctx context.Context, rule *domain.TransformationRule) error {
	if err := s.canonical.EnsureColumns(ctx, rule.TargetTable, []string{rule.TargetColumn}); err != nil {
		return err
	}

	for _, path := range rule.Candidates {
		err := s.fields.SetMapping(ctx, rule.SourceID, path, domain.MappingMapped,
			&rule.TargetTable, &rule.TargetColumn)
		if err != nil {
			// A candidate may be authored ahead of its first sighting.
			var notFound *domain.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return err
		}
	}
	return nil
}

func ruleFromSpec(spec domain.RuleSpec) *domain.TransformationRule {
	return &domain.TransformationRule{
		SourceID:     spec.SourceID,
		Candidates:   spec.Candidates,
		TargetTable:  spec.TargetTable,
		TargetColumn: spec.TargetColumn,
		Transform:    spec.Transform,
		Validation:   spec.Validation,
		Constant:     spec.Constant,
	}
}
