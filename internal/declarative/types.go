// Package declarative loads a YAML manifest declaring sources, canonical
// targets, and transformation rules, and applies it idempotently against
// the running engine.
package declarative

import "schemaflow/internal/domain"

// SupportedAPIVersion is the manifest version this build understands.
const SupportedAPIVersion = "schemaflow/v1"

// Manifest is the desired state parsed from one YAML document.
type Manifest struct {
	APIVersion string       `yaml:"apiVersion"`
	Sources    []SourceSpec `yaml:"sources,omitempty"`
	Targets    []TargetSpec `yaml:"targets,omitempty"`
	Rules      []RuleEntry  `yaml:"rules,omitempty"`
}

// SourceSpec declares one external source.
type SourceSpec struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"`
	Origin  string  `yaml:"origin,omitempty"`
	Cadence *string `yaml:"cadence,omitempty"`
}

// TargetSpec declares one canonical table and its natural key.
type TargetSpec struct {
	Table      string `yaml:"table"`
	NaturalKey string `yaml:"natural_key"`
}

// RuleEntry declares one transformation rule. Source is the source name;
// apply resolves it to an ID. The embedded spec's SourceID is ignored in
// YAML form.
type RuleEntry struct {
	Source       string            `yaml:"source"`
	Candidates   []string          `yaml:"candidates,omitempty"`
	TargetTable  string            `yaml:"target_table"`
	TargetColumn string            `yaml:"target_column"`
	Transform    string            `yaml:"transform,omitempty"`
	Validation   domain.Validation `yaml:"validation,omitempty"`
	Constant     *string           `yaml:"constant,omitempty"`
}

// ApplyResult summarizes what an apply changed.
type ApplyResult struct {
	SourcesCreated int `json:"sources_created"`
	TargetsCreated int `json:"targets_created"`
	RulesCreated   int `json:"rules_created"`
	RulesRevised   int `json:"rules_revised"`
	Unchanged      int `json:"unchanged"`
}
