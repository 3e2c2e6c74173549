package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated metastore in t.TempDir() and registers
// cleanup for both pools. Most tests only need writeDB; the read pool is
// returned for the few that exercise the split.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	writeDB, readDB, err := OpenSQLitePair(filepath.Join(t.TempDir(), "metastore.sqlite"), 2)
	if err != nil {
		t.Fatalf("open metastore: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	if err := RunMigrations(writeDB); err != nil {
		t.Fatalf("migrate metastore: %v", err)
	}
	return writeDB, readDB
}
