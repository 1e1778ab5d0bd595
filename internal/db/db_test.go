package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/chrono/internal/config"
)

func TestInit_Layout(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "home", ".chrono")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	for _, p := range []string{baseDir, filepath.Join(baseDir, "exports"), filepath.Join(baseDir, "locks")} {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			t.Errorf("%s: want a directory, got %v", p, err)
			continue
		}
		if perm := info.Mode().Perm(); perm != 0o700 {
			t.Errorf("%s: mode %o, want 700", p, perm)
		}
	}
	info, err := os.Stat(filepath.Join(baseDir, FileName))
	if err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("database mode %o, want 600", perm)
	}
}

func TestInit_Schema(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&fk); err != nil || fk != 1 {
		t.Errorf("foreign_keys = %d (%v), want 1", fk, err)
	}

	objects := map[string]string{
		"history_sessions":                  "table",
		"history_records":                   "table",
		"idx_history_records_session_state": "index",
		"idx_history_records_batch":         "index",
	}
	for name, typ := range objects {
		var got string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type=? AND name=?", typ, name).Scan(&got); err != nil {
			t.Errorf("%s %s not found: %v", typ, name, err)
		}
	}
}

func TestInit_Reopen(t *testing.T) {
	tmpDir := t.TempDir()

	for i := 0; i < 2; i++ {
		db, err := Init(tmpDir)
		if err != nil {
			t.Fatalf("Init() #%d error = %v", i+1, err)
		}
		version, err := GetUserVersion(db)
		db.Close()
		if err != nil {
			t.Fatalf("GetUserVersion() error = %v", err)
		}
		if version != CurrentSchemaVersion {
			t.Errorf("Init() #%d: user_version = %d, want %d", i+1, version, CurrentSchemaVersion)
		}
	}
}

func TestInit_RefusesNewerSchema(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := SetUserVersion(db, CurrentSchemaVersion+1); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	db.Close()

	_, err = Init(tmpDir)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("Init() error = %v, want newer-schema refusal", err)
	}
}

func TestSessionCascade(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO history_sessions (name, next_seq, updated_at) VALUES ('s', 2, 0)`); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO history_records (session, id, seq, state, position, kind, source, destination, size, mod_time, created_at)
		VALUES ('s', '01HZY0000000000000000000AA', 1, 'applied', 0, 'move', '/a', '/b', 1, 0, 0)`); err != nil {
		t.Fatalf("insert record: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM history_sessions WHERE name = 's'`); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM history_records`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("records left after session delete = %d, want 0", n)
	}
}

func TestConfigurePool(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	ConfigurePool(db, nil)
	ConfigurePool(db, &config.Config{DBMaxOpenConns: 3, DBMaxIdleConns: 1})

	if got := db.Stats().MaxOpenConnections; got != 3 {
		t.Errorf("MaxOpenConnections = %d, want 3", got)
	}
}
