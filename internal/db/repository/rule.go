package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"schemaflow/internal/domain"
)

var _ domain.RuleRepository = (*RuleRepo)(nil)

// RuleRepo stores versioned transformation rules. Rule rows are never
// destructively rewritten: a revision inserts version n+1 and disables
// version n in the same transaction.
type RuleRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewRuleRepo creates a new RuleRepo.
func NewRuleRepo(write, read *sql.DB) *RuleRepo {
	return &RuleRepo{write: write, read: read}
}

const ruleColumns = `id, source_id, candidates, target_table, target_column, transform,
	validation, constant_value, status, version, supersedes_id, created_at`

// Create inserts a new rule at version 1, active.
func (r *RuleRepo) Create(ctx context.Context, rule *domain.TransformationRule) (*domain.TransformationRule, error) {
	if rule == nil {
		return nil, domain.ErrValidation("rule is required")
	}
	if rule.ID == "" {
		rule.ID = domain.NewID()
	}
	rule.Version = 1
	rule.Status = domain.RuleActive

	candidates, validation, err := encodeRule(rule)
	if err != nil {
		return nil, err
	}

	_, err = r.write.ExecContext(ctx, `
		INSERT INTO transformation_rules
			(id, source_id, candidates, target_table, target_column, transform, validation,
			 constant_value, status, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', 1)
	`, rule.ID, rule.SourceID, candidates, rule.TargetTable, rule.TargetColumn,
		rule.Transform, validation, nullStr(rule.Constant))
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, rule.ID)
}

// CreateVersion inserts a revision of prevID and disables the predecessor
// atomically. The revision carries version prev+1 and points back at prev.
func (r *RuleRepo) CreateVersion(ctx context.Context, prevID string, rule *domain.TransformationRule) (*domain.TransformationRule, error) {
	prev, err := r.GetByID(ctx, prevID)
	if err != nil {
		return nil, err
	}
	if prev.Status != domain.RuleActive {
		return nil, domain.ErrConflict("rule %q is not active; revise the active version", prevID)
	}

	if rule.ID == "" {
		rule.ID = domain.NewID()
	}
	rule.Version = prev.Version + 1
	rule.Status = domain.RuleActive
	rule.SupersedesID = &prev.ID

	candidates, validation, err := encodeRule(rule)
	if err != nil {
		return nil, err
	}

	tx, err := r.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE transformation_rules SET status = 'disabled' WHERE id = ?`, prev.ID); err != nil {
		return nil, mapDBError(err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transformation_rules
			(id, source_id, candidates, target_table, target_column, transform, validation,
			 constant_value, status, version, supersedes_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?)
	`, rule.ID, rule.SourceID, candidates, rule.TargetTable, rule.TargetColumn,
		rule.Transform, validation, nullStr(rule.Constant), rule.Version, prev.ID); err != nil {
		return nil, mapDBError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, rule.ID)
}

// GetByID returns a rule by ID.
func (r *RuleRepo) GetByID(ctx context.Context, id string) (*domain.TransformationRule, error) {
	rule, err := scanRule(r.read.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM transformation_rules WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return rule, nil
}

// Disable deactivates a rule version without deleting it.
func (r *RuleRepo) Disable(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx,
		`UPDATE transformation_rules SET status = 'disabled' WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("rule %q not found", id)
	}
	return nil
}

// ListActiveBySource returns the currently active rule set for a source.
// Materialization runs against exactly this set, snapshotted at run start.
func (r *RuleRepo) ListActiveBySource(ctx context.Context, sourceID string) ([]domain.TransformationRule, error) {
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM transformation_rules
		 WHERE source_id = ? AND status = 'active'
		 ORDER BY target_table, target_column`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.TransformationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// ListBySource returns all rule versions for a source, newest first.
func (r *RuleRepo) ListBySource(ctx context.Context, sourceID string, page domain.PageRequest) ([]domain.TransformationRule, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transformation_rules WHERE source_id = ?`, sourceID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM transformation_rules
		 WHERE source_id = ?
		 ORDER BY target_table, target_column, version DESC LIMIT ? OFFSET ?`,
		sourceID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rules []domain.TransformationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, *rule)
	}
	return rules, total, rows.Err()
}

func encodeRule(rule *domain.TransformationRule) (candidates, validation string, err error) {
	c, err := json.Marshal(rule.Candidates)
	if err != nil {
		return "", "", fmt.Errorf("marshal candidates: %w", err)
	}
	v, err := json.Marshal(rule.Validation)
	if err != nil {
		return "", "", fmt.Errorf("marshal validation: %w", err)
	}
	return string(c), string(v), nil
}

func scanRule(row rowScanner) (*domain.TransformationRule, error) {
	var (
		rule         domain.TransformationRule
		candidates   string
		validation   string
		constant     sql.NullString
		status       string
		supersedesID sql.NullString
	)
	if err := row.Scan(&rule.ID, &rule.SourceID, &candidates, &rule.TargetTable, &rule.TargetColumn,
		&rule.Transform, &validation, &constant, &status, &rule.Version, &supersedesID,
		&rule.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(candidates), &rule.Candidates); err != nil {
		return nil, fmt.Errorf("unmarshal candidates: %w", err)
	}
	if err := json.Unmarshal([]byte(validation), &rule.Validation); err != nil {
		return nil, fmt.Errorf("unmarshal validation: %w", err)
	}
	rule.Constant = strPtr(constant)
	rule.Status = domain.RuleStatus(status)
	rule.SupersedesID = strPtr(supersedesID)
	return &rule, nil
}
