// Package db provides database connectivity helpers and migration support
// for the engine's SQLite metastore and canonical tables.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"
)

// OpenSQLitePair opens the two pools the engine runs on: a single-connection
// write pool with _txlock=immediate, and a read pool sized by readMaxOpen
// (0 means 4). SQLite allows one writer at a time; splitting the pools keeps
// reads from queueing behind writes under WAL.
func OpenSQLitePair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, err = openSQLite(path, true, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("open write pool: %w", err)
	}

	if readMaxOpen <= 0 {
		readMaxOpen = 4
	}
	readDB, err = openSQLite(path, false, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, fmt.Errorf("open read pool: %w", err)
	}
	return writeDB, readDB, nil
}

func openSQLite(path string, writer bool, maxOpen int) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	if writer {
		// Take the write lock at BEGIN so write transactions fail fast
		// with busy_timeout instead of deadlocking on upgrade.
		params.Set("_txlock", "immediate")
	}

	db, err := sql.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
