package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. ":memory:" opens a private in-memory
// database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_log (
  id           TEXT PRIMARY KEY,
  handle       INTEGER NOT NULL,
  service      TEXT,
  class        TEXT NOT NULL,
  addr         INTEGER NOT NULL,
  len          INTEGER NOT NULL,
  timeout_us   INTEGER NOT NULL,
  status       INTEGER NOT NULL,
  flags        INTEGER NOT NULL,
  started_at   TEXT NOT NULL,
  duration_us  INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS boot_log (
  id          TEXT PRIMARY KEY,
  monitor     TEXT NOT NULL,
  services    INTEGER NOT NULL,
  entry       INTEGER NOT NULL,
  booted_at   TEXT NOT NULL,
  stopped_at  TEXT,
  last_error  TEXT
);`,
		`CREATE INDEX IF NOT EXISTS call_log_started_at_idx ON call_log(started_at);`,
		`CREATE INDEX IF NOT EXISTS call_log_handle_idx ON call_log(handle, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
