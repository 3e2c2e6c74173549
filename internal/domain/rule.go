package domain

import "time"

// RuleStatus is the activation state of a transformation rule version.
type RuleStatus string

// Rule statuses.
const (
	RuleActive   RuleStatus = "active"
	RuleDisabled RuleStatus = "disabled"
)

// Validation is the declarative constraint set applied to a resolved value
// before it is written to a canonical column. A failed constraint leaves
// only that column unset for the record; it never fails the whole record.
type Validation struct {
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Format   string `json:"format,omitempty" yaml:"format,omitempty"` // "", "email", "phone", "date", "number"
	MinLen   int    `json:"min_len,omitempty" yaml:"min_len,omitempty"`
	MaxLen   int    `json:"max_len,omitempty" yaml:"max_len,omitempty"`
}

// TransformationRule maps an ordered list of candidate field paths onto one
// canonical column with coalesce semantics: the first present, non-null
// candidate wins. Rules are versioned and never destructively rewritten;
// an edit inserts version n+1 and disables version n. Constant, when set,
// supplies the value whenever no candidate resolves, which unblocks a
// canonical column before any real source mapping exists.
type TransformationRule struct {
	ID           string
	SourceID     string
	Candidates   []string // field paths, coalesce order
	TargetTable  string
	TargetColumn string
	Transform    string // named pure transform, "" for identity
	Validation   Validation
	Constant     *string
	Status       RuleStatus
	Version      int
	SupersedesID *string // previous version of this rule, if any
	CreatedAt    time.Time
}

// RuleSpec is the caller-supplied definition used to create or revise a
// rule. The store assigns identity, version, and status.
type RuleSpec struct {
	SourceID     string     `json:"source_id" yaml:"source_id"`
	Candidates   []string   `json:"candidates" yaml:"candidates"`
	TargetTable  string     `json:"target_table" yaml:"target_table"`
	TargetColumn string     `json:"target_column" yaml:"target_column"`
	Transform    string     `json:"transform,omitempty" yaml:"transform,omitempty"`
	Validation   Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
	Constant     *string    `json:"constant,omitempty" yaml:"constant,omitempty"`
}
