package ops

import (
	"context"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/history"
)

// UndoInput contains parameters for the Undo operation.
type UndoInput struct {
	Session string
	// Batch undoes every record of the most recent run instead of one record.
	Batch bool
}

// UndoOutput contains the result of the Undo operation.
type UndoOutput struct {
	Session   string           `json:"session"`
	Undone    []history.Record `json:"undone"`
	Remaining int              `json:"remaining"`
	Redoable  int              `json:"redoable"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// Undo reverses the most recent operation, or the most recent batch.
// A batch that fails part way reports how many records were undone in the
// error details; those stay undone.
func Undo(ctx context.Context, rt *Runtime, input UndoInput) (*UndoOutput, error) {
	sess, err := rt.openSession(ctx, input.Session, true)
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck

	var (
		undone   []history.Record
		warnings []string
	)
	if input.Batch {
		undone, err = sess.history.UndoBatch(ctx)
	} else {
		var rec history.Record
		if rec, err = sess.history.UndoLast(ctx); err == nil || history.NotPersisted(err) {
			undone = []history.Record{rec}
		}
	}
	if err != nil {
		if !history.NotPersisted(err) {
			cErr := cerrors.Wrap(err)
			if len(undone) > 0 {
				cErr = cErr.WithDetail("undone", len(undone))
			}
			return nil, cErr
		}
		rt.Logger.Error().Err(err).Str("session", sess.name).Msg("undo not persisted")
		warnings = append(warnings, notPersistedWarning("undo", err))
	}

	rt.Logger.Info().Str("session", sess.name).Int("undone", len(undone)).Msg("undo")
	return &UndoOutput{
		Session:   sess.name,
		Undone:    undone,
		Remaining: len(sess.history.Records()),
		Redoable:  len(sess.history.Redoable()),
		Warnings:  warnings,
	}, nil
}

// RedoInput contains parameters for the Redo operation.
type RedoInput struct {
	Session string
}

// RedoOutput contains the result of the Redo operation.
type RedoOutput struct {
	Session  string         `json:"session"`
	Redone   history.Record `json:"redone"`
	Redoable int            `json:"redoable"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Redo re-applies the most recently undone operation.
func Redo(ctx context.Context, rt *Runtime, input RedoInput) (*RedoOutput, error) {
	sess, err := rt.openSession(ctx, input.Session, true)
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck

	var warnings []string
	rec, err := sess.history.RedoLast(ctx)
	if err != nil {
		if !history.NotPersisted(err) {
			return nil, err
		}
		rt.Logger.Error().Err(err).Str("session", sess.name).Msg("redo not persisted")
		warnings = append(warnings, notPersistedWarning("redo", err))
	}
	return &RedoOutput{
		Session:  sess.name,
		Redone:   rec,
		Redoable: len(sess.history.Redoable()),
		Warnings: warnings,
	}, nil
}

// notPersistedWarning tells the caller the step happened but will not
// survive a restart.
func notPersistedWarning(action string, err error) string {
	return action + " applied but history not persisted: " + err.Error()
}
