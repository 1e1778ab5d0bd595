package ops

import (
	"context"

	"github.com/hpungsan/chrono/internal/db"
	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/history"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Session string
	// Limit caps the applied records returned, newest kept. 0 means all.
	Limit int
}

// HistoryOutput lists a session's records. Applied is oldest first; Undone
// ends with the record Redo would re-apply.
type HistoryOutput struct {
	Session string           `json:"session"`
	Applied []history.Record `json:"applied"`
	Undone  []history.Record `json:"undone"`
	CanUndo bool             `json:"can_undo"`
	CanRedo bool             `json:"can_redo"`
}

// History returns the records of a session. It takes no lock; a concurrent
// writer may make the result stale immediately.
func History(ctx context.Context, rt *Runtime, input HistoryInput) (*HistoryOutput, error) {
	if input.Limit < 0 {
		return nil, cerrors.NewInvalidRequest("limit must not be negative")
	}
	sess, err := rt.openSession(ctx, input.Session, false)
	if err != nil {
		return nil, err
	}

	applied := sess.history.Records()
	if input.Limit > 0 && len(applied) > input.Limit {
		applied = applied[len(applied)-input.Limit:]
	}
	undone := sess.history.Redoable()
	return &HistoryOutput{
		Session: sess.name,
		Applied: nonNil(applied),
		Undone:  nonNil(undone),
		CanUndo: len(applied) > 0,
		CanRedo: len(undone) > 0,
	}, nil
}

// SessionsOutput lists stored sessions.
type SessionsOutput struct {
	Sessions []db.SessionSummary `json:"sessions"`
}

// Sessions lists every stored session, most recently updated first.
// Without a database there is nothing stored to list.
func Sessions(ctx context.Context, rt *Runtime) (*SessionsOutput, error) {
	out := &SessionsOutput{Sessions: []db.SessionSummary{}}
	if rt.DB == nil {
		return out, nil
	}
	list, err := db.NewHistoryStore(rt.DB).ListSessions(ctx)
	if err != nil {
		return nil, cerrors.NewInternal(err)
	}
	if list != nil {
		out.Sessions = list
	}
	return out, nil
}

// ClearHistoryInput contains parameters for the ClearHistory operation.
type ClearHistoryInput struct {
	Session string
	// Forget also removes the session from the session list.
	Forget bool
}

// ClearHistoryOutput contains the result of the ClearHistory operation.
type ClearHistoryOutput struct {
	Session string `json:"session"`
	Cleared int    `json:"cleared"`
	Forgot  bool   `json:"forgot,omitempty"`
}

// ClearHistory drops every record of a session. Files stay where they are;
// overwrite backups that could only be restored by undo are deleted.
func ClearHistory(ctx context.Context, rt *Runtime, input ClearHistoryInput) (*ClearHistoryOutput, error) {
	sess, err := rt.openSession(ctx, input.Session, true)
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck

	n, err := sess.history.Clear(ctx)
	if err != nil {
		return nil, err
	}
	out := &ClearHistoryOutput{Session: sess.name, Cleared: n}
	if input.Forget && rt.DB != nil {
		out.Forgot, err = db.NewHistoryStore(rt.DB).DeleteSession(ctx, sess.name)
		if err != nil {
			return nil, cerrors.NewInternal(err)
		}
	}
	rt.Logger.Info().Str("session", sess.name).Int("cleared", n).Bool("forgot", out.Forgot).Msg("history cleared")
	return out, nil
}

func nonNil(recs []history.Record) []history.Record {
	if recs == nil {
		return []history.Record{}
	}
	return recs
}
