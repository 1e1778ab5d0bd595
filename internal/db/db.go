// Package db stores operation history in SQLite.
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strconv"

	"gitlab.com/tozd/go/errors"
	_ "modernc.org/sqlite"

	"github.com/hpungsan/chrono/internal/config"
)

// FileName is the database file created inside the base directory.
const FileName = "chrono.db"

// migrations[i] moves the schema from version i to i+1.
var migrations = [...]string{
	// 1: history sessions and records
	`
	CREATE TABLE IF NOT EXISTS history_sessions (
	  name        TEXT PRIMARY KEY,
	  next_seq    INTEGER NOT NULL,
	  updated_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history_records (
	  session           TEXT NOT NULL REFERENCES history_sessions(name) ON DELETE CASCADE,
	  id                TEXT NOT NULL,
	  seq               INTEGER NOT NULL,
	  state             TEXT NOT NULL CHECK (state IN ('applied', 'undone')),
	  position          INTEGER NOT NULL,
	  batch_id          TEXT,
	  kind              TEXT NOT NULL,
	  source            TEXT NOT NULL,
	  destination       TEXT NOT NULL,
	  backup_path       TEXT,
	  created_dirs_json TEXT,
	  size              INTEGER NOT NULL,
	  mod_time          INTEGER NOT NULL,
	  created_at        INTEGER NOT NULL,
	  PRIMARY KEY (session, id)
	);

	CREATE INDEX IF NOT EXISTS idx_history_records_session_state
	ON history_records(session, state, position);

	CREATE INDEX IF NOT EXISTS idx_history_records_batch
	ON history_records(session, batch_id)
	WHERE batch_id IS NOT NULL;
	`,
}

// CurrentSchemaVersion is the schema version after every migration ran.
const CurrentSchemaVersion = len(migrations)

// Init opens (creating if needed) baseDir/chrono.db and brings its schema up
// to date. The exports and locks directories are created alongside it.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "exports"), filepath.Join(baseDir, "locks")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Errorf("create %s: %w", dir, err)
		}
		// Best-effort; MkdirAll leaves existing directories alone.
		_ = os.Chmod(dir, 0o700)
	}

	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Errorf("open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0o600)
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

// migrate runs each pending migration in its own transaction together with
// the user_version bump. A database written by a newer chrono is refused.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return errors.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return errors.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			_ = tx.Rollback()
			return errors.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(userVersionStmt(v + 1)); err != nil {
			_ = tx.Rollback()
			return errors.Errorf("migration %d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return errors.Errorf("migration %d: commit: %w", v+1, err)
		}
	}
	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return errors.Errorf("verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return errors.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, errors.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(userVersionStmt(version)); err != nil {
		return errors.Errorf("set user_version: %w", err)
	}
	return nil
}

// userVersionStmt formats the pragma; it takes no bound parameters.
func userVersionStmt(version int) string {
	return "PRAGMA user_version=" + strconv.Itoa(version)
}
