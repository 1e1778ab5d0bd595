package ops

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/history"
	"github.com/hpungsan/chrono/internal/ids"
)

// ImportMode controls what happens when the target session already has records.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // refuse a non-empty session; any bad line aborts
	ImportModeReplace ImportMode = "replace" // replace the session; bad lines are skipped
)

// maxImportLine bounds one JSONL line.
const maxImportLine = 1 << 20

// ImportInput contains parameters for the ImportHistory operation.
type ImportInput struct {
	Path    string     // required
	Session string     // default: the session named in the file header
	Mode    ImportMode // default: error
}

// ImportOutput contains the result of the ImportHistory operation.
type ImportOutput struct {
	Session  string        `json:"session"`
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes one rejected line.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ImportHistory loads a JSONL export into a session. In error mode nothing is
// written unless every line is valid and the session is empty.
func ImportHistory(ctx context.Context, rt *Runtime, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, cerrors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeReplace {
		return nil, cerrors.NewInvalidRequest("mode must be one of: error, replace")
	}
	if err := ValidatePath(input.Path, PathCheckRead, rt.config()); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if _, ok := cerrors.As(err); ok {
			return nil, err
		}
		return nil, cerrors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	parsed, err := parseExportFile(bufio.NewReader(file))
	if err != nil {
		return nil, err
	}

	name := normalizeSession(firstNonEmpty(input.Session, parsed.header.Session))
	out := &ImportOutput{Session: name, Errors: parsed.errors}
	if out.Errors == nil {
		out.Errors = []ImportError{}
	}

	if input.Mode == ImportModeError && len(parsed.errors) > 0 {
		out.Skipped = len(parsed.errors)
		return out, nil
	}

	sess, err := rt.openSession(ctx, name, true)
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck

	if input.Mode == ImportModeError && (sess.history.CanUndo() || sess.history.CanRedo()) {
		out.Errors = append(out.Errors, ImportError{
			Code:    "SESSION_EXISTS",
			Message: fmt.Sprintf("session %q already has history; use mode replace", name),
		})
		return out, nil
	}

	if err := sess.history.Replace(ctx, &history.Snapshot{
		Applied: parsed.applied,
		Undone:  parsed.undone,
		NextSeq: parsed.header.NextSeq,
	}); err != nil {
		return nil, err
	}

	out.Imported = len(parsed.applied) + len(parsed.undone)
	out.Skipped = len(parsed.errors)
	rt.Logger.Info().Str("session", name).Int("imported", out.Imported).Int("skipped", out.Skipped).Msg("history imported")
	return out, nil
}

type parsedExport struct {
	header  ExportHeader
	applied []history.Record
	undone  []history.Record
	errors  []ImportError
}

// parseExportFile reads the header and every record line. Record problems are
// collected per line; a missing or foreign header fails the whole file.
func parseExportFile(r *bufio.Reader) (*parsedExport, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	p := &parsedExport{}
	seen := make(map[string]bool)
	lineNum := 0
	sawHeader := false

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if !sawHeader {
			if err := json.Unmarshal(line, &p.header); err != nil || !p.header.ChronoExport {
				return nil, cerrors.NewInvalidRequest("not a chrono history export: first line must be the export header")
			}
			sawHeader = true
			continue
		}

		var rec ExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			p.errors = append(p.errors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if msg := validateRecord(rec, seen); msg != "" {
			p.errors = append(p.errors, ImportError{
				Line:    lineNum,
				ID:      rec.ID,
				Code:    "INVALID_RECORD",
				Message: msg,
			})
			continue
		}
		seen[rec.ID] = true

		if rec.State == RecordApplied {
			p.applied = append(p.applied, rec.Record)
		} else {
			p.undone = append(p.undone, rec.Record)
		}
	}

	if err := scanner.Err(); err != nil {
		p.errors = append(p.errors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	if !sawHeader {
		return nil, cerrors.NewInvalidRequest("import file is empty")
	}
	return p, nil
}

// validateRecord returns why rec cannot be restored, or "".
func validateRecord(rec ExportRecord, seen map[string]bool) string {
	switch {
	case rec.State != RecordApplied && rec.State != RecordUndone:
		return fmt.Sprintf("state must be %s or %s", RecordApplied, RecordUndone)
	case !ids.Valid(rec.ID):
		return "id must be a ULID"
	case seen[rec.ID]:
		return "duplicate id " + rec.ID
	case rec.Seq < 1:
		return "seq must be positive"
	case !filepath.IsAbs(rec.Source) || !filepath.IsAbs(rec.Destination):
		return "source and destination must be absolute paths"
	}
	if _, err := fsops.ParseKind(string(rec.Kind)); err != nil || rec.Kind == "" {
		return "kind must be move or copy"
	}
	return ""
}
