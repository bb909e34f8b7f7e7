// Package database opens the SQLite file shared by the catalog, the round
// ledger, the retrieval repository and the transition log. Each of those
// components owns its own tables and creates them on construction.
package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// #region open
// Open opens a SQLite database with WAL journaling and foreign keys enabled.
// A single connection is kept so writers never race each other for the file lock.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	return db, nil
}
// #endregion open

// #region helpers
// NullIfEmpty maps "" to SQL NULL.
func NullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
