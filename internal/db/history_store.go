package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/history"
)

const (
	stateApplied = "applied"
	stateUndone  = "undone"
)

// HistoryStore persists history snapshots in SQLite.
type HistoryStore struct {
	db *sql.DB
}

var _ history.Store = (*HistoryStore)(nil)

// NewHistoryStore returns a store over an initialized database.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// SessionSummary describes one stored session.
type SessionSummary struct {
	Name      string `json:"name"`
	Applied   int    `json:"applied"`
	Undone    int    `json:"undone"`
	UpdatedAt int64  `json:"updated_at"`
}

// Load reads a session. An unknown session yields an empty snapshot.
func (s *HistoryStore) Load(ctx context.Context, session string) (*history.Snapshot, error) {
	snap := &history.Snapshot{NextSeq: 1}

	err := s.db.QueryRowContext(ctx,
		`SELECT next_seq FROM history_sessions WHERE name = ?`, session,
	).Scan(&snap.NextSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, errors.Errorf("load session %s: %w", session, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, state, batch_id, kind, source, destination, backup_path,
		       created_dirs_json, size, mod_time, created_at
		FROM history_records
		WHERE session = ?
		ORDER BY state ASC, position ASC
	`, session)
	if err != nil {
		return nil, errors.Errorf("load records for %s: %w", session, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                 history.Record
			state, kind         string
			batchID, backupPath sql.NullString
			dirsJSON            sql.NullString
			modTime, createdAt  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Seq, &state, &batchID, &kind, &rec.Source, &rec.Destination,
			&backupPath, &dirsJSON, &rec.Size, &modTime, &createdAt); err != nil {
			return nil, errors.Errorf("scan record: %w", err)
		}
		rec.Kind = fsops.Kind(kind)
		rec.BatchID = batchID.String
		rec.BackupPath = backupPath.String
		rec.ModTime = fromNanos(modTime)
		rec.CreatedAt = fromNanos(createdAt)
		if dirsJSON.Valid && dirsJSON.String != "" {
			if err := json.Unmarshal([]byte(dirsJSON.String), &rec.CreatedDirs); err != nil {
				return nil, errors.Errorf("decode created dirs for %s: %w", rec.ID, err)
			}
		}

		if state == stateApplied {
			snap.Applied = append(snap.Applied, rec)
		} else {
			snap.Undone = append(snap.Undone, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("iterate records: %w", err)
	}
	return snap, nil
}

// Save replaces the stored session with snap in one transaction.
func (s *HistoryStore) Save(ctx context.Context, session string, snap *history.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO history_sessions (name, next_seq, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET next_seq = excluded.next_seq, updated_at = excluded.updated_at
	`, session, snap.NextSeq, time.Now().Unix()); err != nil {
		return errors.Errorf("upsert session: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM history_records WHERE session = ?`, session); err != nil {
		return errors.Errorf("clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_records (
			session, id, seq, state, position, batch_id, kind, source, destination,
			backup_path, created_dirs_json, size, mod_time, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	insert := func(state string, recs []history.Record) error {
		for i, r := range recs {
			var dirsJSON sql.NullString
			if len(r.CreatedDirs) > 0 {
				data, err := json.Marshal(r.CreatedDirs)
				if err != nil {
					return errors.Errorf("encode created dirs: %w", err)
				}
				dirsJSON = sql.NullString{String: string(data), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				session, r.ID, r.Seq, state, i, toNullString(r.BatchID), string(r.Kind), r.Source, r.Destination,
				toNullString(r.BackupPath), dirsJSON, r.Size, toNanos(r.ModTime), toNanos(r.CreatedAt),
			); err != nil {
				return errors.Errorf("insert record %s: %w", r.ID, err)
			}
		}
		return nil
	}
	if err = insert(stateApplied, snap.Applied); err != nil {
		return err
	}
	if err = insert(stateUndone, snap.Undone); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Errorf("commit: %w", err)
	}
	return nil
}

// ListSessions returns every stored session, most recently updated first.
func (s *HistoryStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, s.updated_at,
		       COALESCE(SUM(CASE WHEN r.state = 'applied' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN r.state = 'undone' THEN 1 ELSE 0 END), 0)
		FROM history_sessions s
		LEFT JOIN history_records r ON r.session = s.name
		GROUP BY s.name, s.updated_at
		ORDER BY s.updated_at DESC, s.name ASC
	`)
	if err != nil {
		return nil, errors.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.Name, &sum.UpdatedAt, &sum.Applied, &sum.Undone); err != nil {
			return nil, errors.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its records.
func (s *HistoryStore) DeleteSession(ctx context.Context, session string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history_sessions WHERE name = ?`, session)
	if err != nil {
		return false, errors.Errorf("delete session %s: %w", session, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Errorf("delete session %s: %w", session, err)
	}
	return n > 0, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// toNanos stores the zero time as 0 so it round-trips.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
