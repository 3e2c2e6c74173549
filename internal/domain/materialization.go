package domain

import "time"

// RunStatus is the lifecycle state of a materialization run.
type RunStatus string

// Run statuses.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCanceled  RunStatus = "canceled"
)

// MaterializationRun is the durable log entry for one materialization pass
// over a source. RuleSetHash fingerprints the active rule versions the run
// was started with, so any canonical value is traceable to the exact rule
// set that produced it.
type MaterializationRun struct {
	ID          string
	SourceID    string
	RuleSetHash string
	Status      RunStatus
	Resolved    int64
	Partial     int64
	Failed      int64
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// ValidationFailure reports one column left unset for one record because a
// resolved value failed its declared constraint.
type ValidationFailure struct {
	RecordID string `json:"record_id"`
	Column   string `json:"column"`
	Reason   string `json:"reason"`
}

// MaterializationSummary is the caller-visible outcome of a materialization
// trigger.
type MaterializationSummary struct {
	RunID             string              `json:"run_id"`
	Resolved          int                 `json:"resolved"`
	PartiallyResolved int                 `json:"partially_resolved"`
	Failed            int                 `json:"failed"`
	Skipped           int                 `json:"skipped"` // claimed by another worker
	Failures          []ValidationFailure `json:"validation_failures,omitempty"`
}

// DryRunColumn reports, for one target column, how many sampled pending
// records a proposed rule would resolve.
type DryRunColumn struct {
	Column     string `json:"column"`
	Sampled    int    `json:"sampled"`
	Resolvable int    `json:"resolvable"`
	Invalid    int    `json:"invalid"` // resolved but failed validation
}
