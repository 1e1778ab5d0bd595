package ops

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/history"
	"github.com/hpungsan/chrono/internal/ids"
)

func writeExportFile(t *testing.T, path string, header ExportHeader, records ...any) {
	t.Helper()
	var b strings.Builder
	for _, v := range append([]any{header}, records...) {
		if s, ok := v.(string); ok {
			b.WriteString(s + "\n")
			continue
		}
		line, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		b.Write(line)
		b.WriteString("\n")
	}
	writeFile(t, path, b.String())
}

func testHeader(session string) ExportHeader {
	return ExportHeader{ChronoExport: true, SchemaVersion: ExportSchemaVersion, Session: session, ExportedAt: 1, NextSeq: 10}
}

func testRecord(state string, seq int64) ExportRecord {
	return ExportRecord{
		State: state,
		Record: history.Record{
			ID:          ids.New(),
			Seq:         seq,
			BatchID:     "01BATCH",
			Kind:        fsops.KindMove,
			Source:      "/src/a.txt",
			Destination: "/dst/a.txt",
			Size:        4,
			ModTime:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			CreatedAt:   time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC),
		},
	}
}

func TestImport_RoundTrip(t *testing.T) {
	rt, base := newTestRuntime(t)
	runInvoices(t, rt, "work")
	ctx := context.Background()
	if _, err := Undo(ctx, rt, UndoInput{Session: "work"}); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	exportPath := filepath.Join(base, "work.jsonl")
	if _, err := ExportHistory(ctx, rt, ExportInput{Session: "work", Path: exportPath}); err != nil {
		t.Fatalf("ExportHistory failed: %v", err)
	}

	out, err := ImportHistory(ctx, rt, ImportInput{Path: exportPath, Session: "restored"})
	if err != nil {
		t.Fatalf("ImportHistory failed: %v", err)
	}
	if out.Session != "restored" || out.Imported != 2 || out.Skipped != 0 || len(out.Errors) != 0 {
		t.Fatalf("output = %+v", out)
	}

	orig, err := History(ctx, rt, HistoryInput{Session: "work"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	restored, err := History(ctx, rt, HistoryInput{Session: "restored"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(restored.Applied) != 1 || len(restored.Undone) != 1 {
		t.Fatalf("restored = %d applied, %d undone", len(restored.Applied), len(restored.Undone))
	}
	if restored.Applied[0].ID != orig.Applied[0].ID || restored.Undone[0].ID != orig.Undone[0].ID {
		t.Error("record ids changed on import")
	}
	if !restored.Applied[0].ModTime.Equal(orig.Applied[0].ModTime) {
		t.Error("mod time changed on import")
	}
}

func TestImport_DefaultsToHeaderSession(t *testing.T) {
	rt, base := newTestRuntime(t)
	path := filepath.Join(base, "in.jsonl")
	writeExportFile(t, path, testHeader("from-file"), testRecord(RecordApplied, 1))

	out, err := ImportHistory(context.Background(), rt, ImportInput{Path: path})
	if err != nil {
		t.Fatalf("ImportHistory failed: %v", err)
	}
	if out.Session != "from-file" || out.Imported != 1 {
		t.Errorf("output = %+v", out)
	}
}

func TestImport_ModeError_RefusesExistingSession(t *testing.T) {
	rt, base := newTestRuntime(t)
	runInvoices(t, rt, "busy")

	path := filepath.Join(base, "in.jsonl")
	writeExportFile(t, path, testHeader("busy"), testRecord(RecordApplied, 1))

	out, err := ImportHistory(context.Background(), rt, ImportInput{Path: path})
	if err != nil {
		t.Fatalf("ImportHistory failed: %v", err)
	}
	if out.Imported != 0 || len(out.Errors) != 1 || out.Errors[0].Code != "SESSION_EXISTS" {
		t.Errorf("output = %+v", out)
	}

	hist, err := History(context.Background(), rt, HistoryInput{Session: "busy"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist.Applied) != 2 {
		t.Errorf("existing history changed: %d applied", len(hist.Applied))
	}
}

func TestImport_ModeReplace(t *testing.T) {
	rt, base := newTestRuntime(t)
	runInvoices(t, rt, "busy")

	path := filepath.Join(base, "in.jsonl")
	rec := testRecord(RecordApplied, 7)
	writeExportFile(t, path, testHeader("busy"), rec)

	out, err := ImportHistory(context.Background(), rt, ImportInput{Path: path, Mode: ImportModeReplace})
	if err != nil {
		t.Fatalf("ImportHistory failed: %v", err)
	}
	if out.Imported != 1 {
		t.Errorf("Imported = %d, want 1", out.Imported)
	}

	hist, err := History(context.Background(), rt, HistoryInput{Session: "busy"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist.Applied) != 1 || hist.Applied[0].ID != rec.ID {
		t.Errorf("history = %+v, want only the imported record", hist.Applied)
	}
}

func TestImport_BadLines(t *testing.T) {
	rt, base := newTestRuntime(t)
	path := filepath.Join(base, "in.jsonl")

	good := testRecord(RecordApplied, 1)
	dup := good
	dup.Seq = 2
	badState := testRecord("pending", 3)
	badID := testRecord(RecordApplied, 4)
	badID.ID = "not-a-ulid"
	relative := testRecord(RecordUndone, 5)
	relative.Source = "a.txt"
	badKind := testRecord(RecordApplied, 6)
	badKind.Kind = "link"

	writeExportFile(t, path, testHeader("s"), good, "{not json", dup, badState, badID, relative, badKind)

	t.Run("mode error imports nothing", func(t *testing.T) {
		out, err := ImportHistory(context.Background(), rt, ImportInput{Path: path})
		if err != nil {
			t.Fatalf("ImportHistory failed: %v", err)
		}
		if out.Imported != 0 || len(out.Errors) != 6 {
			t.Fatalf("output = %+v", out)
		}
		if out.Errors[0].Code != "PARSE_ERROR" || out.Errors[0].Line != 3 {
			t.Errorf("first error = %+v", out.Errors[0])
		}
		for _, e := range out.Errors[1:] {
			if e.Code != "INVALID_RECORD" {
				t.Errorf("error = %+v, want INVALID_RECORD", e)
			}
		}
	})

	t.Run("mode replace skips them", func(t *testing.T) {
		out, err := ImportHistory(context.Background(), rt, ImportInput{Path: path, Mode: ImportModeReplace})
		if err != nil {
			t.Fatalf("ImportHistory failed: %v", err)
		}
		if out.Imported != 1 || out.Skipped != 6 {
			t.Errorf("output = %+v", out)
		}
	})
}

func TestImport_RejectsForeignFiles(t *testing.T) {
	rt, base := newTestRuntime(t)
	ctx := context.Background()

	noHeader := filepath.Join(base, "noheader.jsonl")
	writeFile(t, noHeader, `{"state":"applied"}`+"\n")
	_, err := ImportHistory(ctx, rt, ImportInput{Path: noHeader})
	if !cerrors.Is(err, cerrors.ErrInvalidRequest) {
		t.Errorf("no header: err = %v, want INVALID_REQUEST", err)
	}

	empty := filepath.Join(base, "empty.jsonl")
	writeFile(t, empty, "")
	_, err = ImportHistory(ctx, rt, ImportInput{Path: empty})
	if !cerrors.Is(err, cerrors.ErrInvalidRequest) {
		t.Errorf("empty: err = %v, want INVALID_REQUEST", err)
	}
}

func TestImport_RequestErrors(t *testing.T) {
	rt, base := newTestRuntime(t)
	ctx := context.Background()

	_, err := ImportHistory(ctx, rt, ImportInput{})
	if !cerrors.Is(err, cerrors.ErrInvalidRequest) {
		t.Errorf("no path: err = %v, want INVALID_REQUEST", err)
	}

	_, err = ImportHistory(ctx, rt, ImportInput{Path: filepath.Join(base, "x.jsonl"), Mode: "rename"})
	if !cerrors.Is(err, cerrors.ErrInvalidRequest) {
		t.Errorf("bad mode: err = %v, want INVALID_REQUEST", err)
	}

	_, err = ImportHistory(ctx, rt, ImportInput{Path: filepath.Join(base, "missing.jsonl")})
	if !cerrors.Is(err, cerrors.ErrFileNotFound) {
		t.Errorf("missing: err = %v, want FILE_NOT_FOUND", err)
	}
}
