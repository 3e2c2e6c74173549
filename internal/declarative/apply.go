package declarative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"schemaflow/internal/domain"
	"schemaflow/internal/service/registry"
	"schemaflow/internal/service/rules"
)

// Load parses one manifest document. Unknown fields are rejected so typos
// surface at apply time instead of silently declaring nothing.
func Load(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.APIVersion != SupportedAPIVersion {
		return nil, fmt.Errorf("unsupported apiVersion %q (expected %q)", m.APIVersion, SupportedAPIVersion)
	}
	return &m, nil
}

// LoadFile reads and parses a manifest file.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Load(data)
}

// Applier reconciles a manifest against the engine.
type Applier struct {
	sources  domain.SourceRepository
	registry *registry.Service
	rules    *rules.Service
	logger   *slog.Logger
}

// NewApplier creates an applier.
func NewApplier(sources domain.SourceRepository, reg *registry.Service, ruleSvc *rules.Service, logger *slog.Logger) *Applier {
	return &Applier{sources: sources, registry: reg, rules: ruleSvc, logger: logger}
}

// Apply reconciles the manifest in declaration order: sources, then targets,
// then rules. It is idempotent: re-applying an unchanged manifest creates
// nothing and revises nothing.
func (a *Applier) Apply(ctx context.Context, m *Manifest) (*ApplyResult, error) {
	res := &ApplyResult{}

	for _, spec := range m.Sources {
		if err := a.applySource(ctx, spec, res); err != nil {
			return nil, err
		}
	}
	for _, spec := range m.Targets {
		if err := a.applyTarget(ctx, spec, res); err != nil {
			return nil, err
		}
	}
	for _, entry := range m.Rules {
		if err := a.applyRule(ctx, entry, res); err != nil {
			return nil, err
		}
	}

	a.logger.Info("manifest applied",
		"sources_created", res.SourcesCreated,
		"targets_created", res.TargetsCreated,
		"rules_created", res.RulesCreated,
		"rules_revised", res.RulesRevised,
		"unchanged", res.Unchanged)
	return res, nil
}

func (a *Applier) applySource(ctx context.Context, spec SourceSpec, res *ApplyResult) error {
	_, err := a.sources.GetByName(ctx, spec.Name)
	if err == nil {
		res.Unchanged++
		return nil
	}
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		return err
	}

	_, err = a.registry.CreateSource(ctx, &domain.Source{
		Name:    spec.Name,
		Type:    spec.Type,
		Origin:  spec.Origin,
		Cadence: spec.Cadence,
	})
	if err != nil {
		return err
	}
	res.SourcesCreated++
	return nil
}

func (a *Applier) applyTarget(ctx context.Context, spec TargetSpec, res *ApplyResult) error {
	_, err := a.registry.CreateTarget(ctx, &domain.CanonicalTarget{
		Table:      spec.Table,
		NaturalKey: spec.NaturalKey,
	})
	if err == nil {
		res.TargetsCreated++
		return nil
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		res.Unchanged++
		return nil
	}
	return err
}

func (a *Applier) applyRule(ctx context.Context, entry RuleEntry, res *ApplyResult) error {
	src, err := a.sources.GetByName(ctx, entry.Source)
	if err != nil {
		return fmt.Errorf("rule for %s.%s: %w", entry.TargetTable, entry.TargetColumn, err)
	}

	spec := domain.RuleSpec{
		SourceID:     src.ID,
		Candidates:   entry.Candidates,
		TargetTable:  entry.TargetTable,
		TargetColumn: entry.TargetColumn,
		Transform:    entry.Transform,
		Validation:   entry.Validation,
		Constant:     entry.Constant,
	}

	existing, err := a.findActive(ctx, src.ID, entry.TargetTable, entry.TargetColumn)
	if err != nil {
		return err
	}
	if existing == nil {
		if _, err := a.rules.Create(ctx, spec); err != nil {
			return err
		}
		res.RulesCreated++
		return nil
	}
	if sameRule(existing, spec) {
		res.Unchanged++
		return nil
	}
	if _, err := a.rules.Revise(ctx, existing.ID, spec); err != nil {
		return err
	}
	res.RulesRevised++
	return nil
}

// findActive locates the active rule already feeding a column, if any. A
// column is fed by at most one active rule per source.
func (a *Applier) findActive(ctx context.Context, sourceID, table, column string) (*domain.TransformationRule, error) {
	active, err := a.rules.ListActive(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].TargetTable == table && active[i].TargetColumn == column {
			return &active[i], nil
		}
	}
	return nil, nil
}

func sameRule(r *domain.TransformationRule, spec domain.RuleSpec) bool {
	if !slices.Equal(r.Candidates, spec.Candidates) {
		return false
	}
	if r.Transform != spec.Transform || r.Validation != spec.Validation {
		return false
	}
	return equalPtr(r.Constant, spec.Constant)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
