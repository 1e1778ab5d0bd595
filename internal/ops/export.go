package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/history"
	"github.com/hpungsan/chrono/internal/ids"
)

// ExportSchemaVersion is written to the header of every export file.
const ExportSchemaVersion = "1.0"

// Record states in export files.
const (
	RecordApplied = "applied"
	RecordUndone  = "undone"
)

// ExportInput contains parameters for the ExportHistory operation.
type ExportInput struct {
	Session string
	Path    string // optional, default: ~/.chrono/exports/<session>-<timestamp>.jsonl
}

// ExportOutput contains the result of the ExportHistory operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Session    string `json:"session"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a JSONL export file.
type ExportHeader struct {
	ChronoExport  bool   `json:"_chrono_export"`
	SchemaVersion string `json:"schema_version"`
	Session       string `json:"session"`
	ExportedAt    int64  `json:"exported_at"`
	NextSeq       int64  `json:"next_seq"`
}

// ExportRecord is one history record line. Applied lines come oldest first,
// then undone lines in undo order.
type ExportRecord struct {
	State string `json:"state"`
	history.Record
}

// ExportHistory writes a session's history to a JSONL file.
func ExportHistory(ctx context.Context, rt *Runtime, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	name := normalizeSession(input.Session)

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(name, now)
		if err != nil {
			return nil, err
		}
	}

	// Default paths are validated too; the session name ends up in them.
	if err := ValidatePath(exportPath, PathCheckWrite, rt.config()); err != nil {
		return nil, err
	}

	sess, err := rt.openSession(ctx, name, false)
	if err != nil {
		return nil, err
	}
	applied := sess.history.Records()
	undone := sess.history.Redoable()
	nextSeq := int64(1)
	for _, r := range append(applied[:len(applied):len(applied)], undone...) {
		if r.Seq >= nextSeq {
			nextSeq = r.Seq + 1
		}
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0o700); err != nil {
		return nil, cerrors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Write to a temp file, then rename so an existing export survives a failure.
	tempPath := exportPath + "." + ids.New() + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, cerrors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)

	header := ExportHeader{
		ChronoExport:  true,
		SchemaVersion: ExportSchemaVersion,
		Session:       name,
		ExportedAt:    now.Unix(),
		NextSeq:       nextSeq,
	}
	if err := enc.Encode(header); err != nil {
		return nil, cerrors.NewInternal(err)
	}

	count := 0
	write := func(state string, recs []history.Record) error {
		for _, r := range recs {
			if ctx.Err() != nil {
				return cerrors.NewCancelled("export")
			}
			if err := enc.Encode(ExportRecord{State: state, Record: r}); err != nil {
				return cerrors.NewInternal(err)
			}
			count++
		}
		return nil
	}
	if err := write(RecordApplied, applied); err != nil {
		return nil, err
	}
	if err := write(RecordUndone, undone); err != nil {
		return nil, err
	}

	if err := file.Sync(); err != nil {
		return nil, cerrors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, cerrors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination.
	if isSymlink(exportPath) {
		return nil, cerrors.NewInvalidRequest("export path is a symlink")
	}

	// On Windows, os.Rename fails if the destination exists. Fail and keep
	// the existing file rather than delete-then-rename.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, cerrors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, cerrors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	rt.Logger.Info().Str("session", name).Str("path", exportPath).Int("records", count).Msg("history exported")
	return &ExportOutput{
		Path:       exportPath,
		Session:    name,
		Count:      count,
		ExportedAt: header.ExportedAt,
	}, nil
}

// defaultExportPath is ~/.chrono/exports/<session>-<timestamp>.jsonl.
func defaultExportPath(session string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s%s", SanitizeForFilename(session), now.Format("2006-01-02T150405"), HistoryFileExt)
	return filepath.Join(dir, name), nil
}
