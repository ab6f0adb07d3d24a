package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vegerot/dayflow/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/dayflow.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.dayflow.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all
	// connections). _txlock=immediate makes every transaction take the
	// write lock up front, so in-tx referential checks and the writes
	// that depend on them see the same state.
	dbPath := filepath.Join(baseDir, "dayflow.db")
	dsn := dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS chunks (
		  id         TEXT PRIMARY KEY,
		  start_ts   INTEGER NOT NULL,
		  end_ts     INTEGER NOT NULL,
		  file_path  TEXT NOT NULL,
		  status     TEXT NOT NULL,
		  uploaded   INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_status_start
		ON chunks(status, start_ts);

		CREATE TABLE IF NOT EXISTS analysis_batches (
		  id             TEXT PRIMARY KEY,
		  start_ts       INTEGER NOT NULL,
		  end_ts         INTEGER NOT NULL,
		  status         TEXT NOT NULL,
		  failure_reason TEXT,
		  created_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_batches_status
		ON analysis_batches(status);

		CREATE INDEX IF NOT EXISTS idx_batches_start
		ON analysis_batches(start_ts);

		CREATE TABLE IF NOT EXISTS batch_chunks (
		  batch_id TEXT NOT NULL REFERENCES analysis_batches(id) ON DELETE CASCADE,
		  chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE RESTRICT,
		  PRIMARY KEY (batch_id, chunk_id)
		);

		CREATE INDEX IF NOT EXISTS idx_batch_chunks_chunk
		ON batch_chunks(chunk_id);

		CREATE TABLE IF NOT EXISTS observations (
		  id          TEXT PRIMARY KEY,
		  batch_id    TEXT NOT NULL,
		  start_ts    INTEGER NOT NULL,
		  end_ts      INTEGER NOT NULL,
		  observation TEXT NOT NULL,
		  created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_observations_batch
		ON observations(batch_id);

		CREATE TABLE IF NOT EXISTS timeline_cards (
		  id             TEXT PRIMARY KEY,
		  batch_id       TEXT NOT NULL,
		  start_ts       INTEGER NOT NULL,
		  end_ts         INTEGER NOT NULL,
		  title          TEXT NOT NULL,
		  description    TEXT NOT NULL,
		  category       TEXT NOT NULL,
		  metadata       TEXT,
		  timelapse_path TEXT,
		  created_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cards_start
		ON timeline_cards(start_ts);

		CREATE INDEX IF NOT EXISTS idx_cards_batch
		ON timeline_cards(batch_id);

		CREATE TABLE IF NOT EXISTS llm_requests (
		  id               TEXT PRIMARY KEY,
		  batch_id         TEXT,
		  provider         TEXT NOT NULL,
		  operation        TEXT NOT NULL,
		  request_payload  TEXT NOT NULL,
		  response_payload TEXT,
		  status           TEXT NOT NULL,
		  attempt          INTEGER NOT NULL DEFAULT 1,
		  created_at       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_llm_requests_batch
		ON llm_requests(batch_id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
