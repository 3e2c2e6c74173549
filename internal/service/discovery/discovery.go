// Package discovery extracts and aggregates field observations from raw
// payloads, one record at a time.
package discovery

import (
	"context"
	"log/slog"
	"sort"

	"schemaflow/internal/domain"
)

// maxExampleLen caps stored example values so a single oversized scalar
// cannot bloat the discovered_fields table.
const maxExampleLen = 200

// Service walks ingested payloads and maintains the per-source
// DiscoveredField aggregates.
type Service struct {
	fields   domain.DiscoveredFieldRepository
	maxPaths int
	logger   *slog.Logger
}

// NewService creates a discovery service. maxPaths is the distinct-path
// ceiling per source; past it, novel paths collapse into a synthetic
// dynamic-map path under their parent subtree.
func NewService(fields domain.DiscoveredFieldRepository, maxPaths int, logger *slog.Logger) *Service {
	return &Service{fields: fields, maxPaths: maxPaths, logger: logger}
}

// ObserveRecord walks one payload and records every field sighting. seq is
// the source ingest counter value stamped on the record; drift detection
// uses it for recency. Must run before any record containing still-unmapped
// fields is materialized.
func (s *Service) ObserveRecord(ctx context.Context, sourceID string, seq int64, payload domain.Value) error {
	observations := Walk(payload)

	pathCount, err := s.fields.CountBySource(ctx, sourceID)
	if err != nil {
		return err
	}

	// Several novel leaves can fold into the same bucket; one sighting per
	// record per bucket.
	seenFolded := make(map[string]bool)

	for _, obs := range observations {
		if pathCount >= int64(s.maxPaths) {
			if known, err := s.isKnown(ctx, sourceID, obs.FieldPath); err != nil {
				return err
			} else if !known {
				// Path-cardinality ceiling: fold the novel leaf into its
				// parent's dynamic-map bucket instead of growing the table.
				folded := domain.ChildPath(domain.ParentPath(obs.FieldPath), domain.DynamicMapKey)
				s.logger.Debug("path ceiling reached, collapsing",
					"source", sourceID, "path", obs.FieldPath, "folded", folded)
				if seenFolded[folded] {
					continue
				}
				seenFolded[folded] = true
				obs.FieldPath = folded
			}
		}

		res, err := s.fields.Observe(ctx, sourceID, obs, seq)
		if err != nil {
			return err
		}
		if res.Created {
			pathCount++
			continue
		}
		if res.PreviousType != "" && res.PreviousType != domain.TypeNull &&
			obs.Type != domain.TypeNull && obs.Type != res.PreviousType {
			// Type widening: the drift detector picks this up by comparing
			// the refreshed inferred type against the confirmed snapshot.
			s.logger.Debug("field type widened",
				"source", sourceID, "path", obs.FieldPath,
				"old", res.PreviousType, "new", obs.Type)
		}
	}
	return nil
}

func (s *Service) isKnown(ctx context.Context, sourceID, path string) (bool, error) {
	if _, err := s.fields.Get(ctx, sourceID, path); err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Walk produces one observation per distinct field path in the payload.
// Array elements share one wildcard path; repeated sightings within a
// single record are deduplicated so occurrence counts measure records, not
// values. The first non-null sighting decides the type for this record.
func Walk(payload domain.Value) []domain.FieldObservation {
	acc := make(map[string]*domain.FieldObservation)
	walk(payload, domain.PathRoot, acc)

	out := make([]domain.FieldObservation, 0, len(acc))
	for _, obs := range acc {
		out = append(out, *obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldPath < out[j].FieldPath })
	return out
}

func walk(v domain.Value, path string, acc map[string]*domain.FieldObservation) {
	switch v.Kind {
	case domain.TypeObject:
		if len(v.Fields) == 0 && path != domain.PathRoot {
			record(acc, path, domain.TypeObject, "", false)
			return
		}
		for key, child := range v.Fields {
			walk(child, domain.ChildPath(path, key), acc)
		}
	case domain.TypeArray:
		if len(v.Items) == 0 {
			record(acc, path, domain.TypeArray, "", false)
			return
		}
		for _, item := range v.Items {
			walk(item, domain.ElementPath(path), acc)
		}
	case domain.TypeNull:
		record(acc, path, domain.TypeNull, "", false)
	default:
		example, _ := v.Scalar()
		if len(example) > maxExampleLen {
			example = example[:maxExampleLen]
		}
		record(acc, path, v.Kind, example, true)
	}
}

func record(acc map[string]*domain.FieldObservation, path string, t domain.TypeTag, example string, hasValue bool) {
	if existing, ok := acc[path]; ok {
		// Within one record, a non-null sighting beats a null one.
		if !existing.HasValue && hasValue {
			existing.Type = t
			existing.Example = example
			existing.HasValue = true
		}
		return
	}
	acc[path] = &domain.FieldObservation{FieldPath: path, Type: t, Example: example, HasValue: hasValue}
}
