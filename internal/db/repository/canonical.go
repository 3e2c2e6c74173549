package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"schemaflow/internal/domain"
)

var _ domain.CanonicalStore = (*CanonicalStoreRepo)(nil)

// identRe restricts canonical table and column names. Identifiers are
// interpolated into DDL and upsert statements, so anything outside this
// whitelist is rejected at the boundary.
var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// CanonicalStoreRepo manages canonical tables: additive DDL when targets and
// rules are declared, and column-scoped upserts during the load phase.
type CanonicalStoreRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewCanonicalStore creates a new CanonicalStoreRepo.
func NewCanonicalStore(write, read *sql.DB) *CanonicalStoreRepo {
	return &CanonicalStoreRepo{write: write, read: read}
}

// ValidIdent reports whether name is acceptable as a canonical table or
// column identifier.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

// EnsureTable creates the canonical table with its natural key column and a
// unique index on it. Idempotent.
func (s *CanonicalStoreRepo) EnsureTable(ctx context.Context, table, naturalKey string) error {
	if err := checkIdents(table, naturalKey); err != nil {
		return err
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (%q TEXT NOT NULL)`, table, naturalKey)
	if _, err := s.write.ExecContext(ctx, ddl); err != nil {
		return mapDBError(err)
	}

	idx := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (%q)`,
		"uq_"+table+"_"+naturalKey, table, naturalKey)
	if _, err := s.write.ExecContext(ctx, idx); err != nil {
		return mapDBError(err)
	}
	return nil
}

// EnsureColumns adds any missing columns to the table. Columns are TEXT and
// nullable; DDL here is strictly additive.
func (s *CanonicalStoreRepo) EnsureColumns(ctx context.Context, table string, columns []string) error {
	if err := checkIdents(table); err != nil {
		return err
	}

	existing, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	for _, col := range columns {
		if err := checkIdents(col); err != nil {
			return err
		}
		if existing[col] {
			continue
		}
		ddl := fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q TEXT`, table, col)
		if _, err := s.write.ExecContext(ctx, ddl); err != nil {
			// A concurrent pass may have added it first.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return mapDBError(err)
		}
	}
	return nil
}

// Upsert writes one canonical row keyed by the natural key. On conflict it
// overwrites only the columns in cols; a column no active rule covers is
// never nulled out, so a narrower rule pass cannot wipe previously imported
// data.
func (s *CanonicalStoreRepo) Upsert(ctx context.Context, table, naturalKey, keyValue string, cols map[string]string) error {
	if err := checkIdents(table, naturalKey); err != nil {
		return err
	}
	if keyValue == "" {
		return domain.ErrValidation("natural key value is required")
	}

	names := make([]string, 0, len(cols))
	for col := range cols {
		if col == naturalKey {
			continue
		}
		if err := checkIdents(col); err != nil {
			return err
		}
		names = append(names, col)
	}
	sort.Strings(names)

	insertCols := []string{fmt.Sprintf("%q", naturalKey)}
	placeholders := []string{"?"}
	args := []interface{}{keyValue}
	var sets []string
	for _, col := range names {
		insertCols = append(insertCols, fmt.Sprintf("%q", col))
		placeholders = append(placeholders, "?")
		args = append(args, cols[col])
		sets = append(sets, fmt.Sprintf("%q = excluded.%q", col, col))
	}

	stmt := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
		table, strings.Join(insertCols, ", "), strings.Join(placeholders, ", "))
	if len(sets) > 0 {
		stmt += fmt.Sprintf(` ON CONFLICT (%q) DO UPDATE SET %s`, naturalKey, strings.Join(sets, ", "))
	} else {
		stmt += fmt.Sprintf(` ON CONFLICT (%q) DO NOTHING`, naturalKey)
	}

	_, err := s.write.ExecContext(ctx, stmt, args...)
	return mapDBError(err)
}

// GetRow reads one canonical row by natural key. Absent columns come back as
// nil pointers. Intended for tests and spot inspection, not bulk reads.
func (s *CanonicalStoreRepo) GetRow(ctx context.Context, table, naturalKey, keyValue string) (map[string]*string, error) {
	if err := checkIdents(table, naturalKey); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT * FROM %q WHERE %q = ?`, table, naturalKey)
	rows, err := s.read.QueryContext(ctx, stmt, keyValue)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotFound("no %q row with %s = %q", table, naturalKey, keyValue)
	}

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]sql.NullString, len(colNames))
	dest := make([]interface{}, len(colNames))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	row := make(map[string]*string, len(colNames))
	for i, name := range colNames {
		row[name] = strPtr(values[i])
	}
	return row, rows.Err()
}

// CountRows returns the row count of a canonical table.
func (s *CanonicalStoreRepo) CountRows(ctx context.Context, table string) (int64, error) {
	if err := checkIdents(table); err != nil {
		return 0, err
	}
	var n int64
	err := s.read.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&n)
	return n, mapDBError(err)
}

func (s *CanonicalStoreRepo) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func checkIdents(names ...string) error {
	for _, name := range names {
		if !ValidIdent(name) {
			return domain.ErrValidation("invalid identifier %q: must match %s", name, identRe.String())
		}
	}
	return nil
}
