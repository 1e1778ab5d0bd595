package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cerrors "github.com/hpungsan/chrono/internal/errors"
)

// runInvoices executes the invoice organization in session and returns the
// destination root.
func runInvoices(t *testing.T, rt *Runtime, session string) string {
	t.Helper()
	src, dst := invoiceTree(t, t.TempDir())
	input := invoiceInput(src, dst)
	input.Execute = true
	input.Session = session
	if _, err := Organize(context.Background(), rt, input); err != nil {
		t.Fatalf("Organize failed: %v", err)
	}
	return dst
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open export file: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestExport_HappyPath(t *testing.T) {
	rt, base := newTestRuntime(t)
	runInvoices(t, rt, "work")
	ctx := context.Background()

	// One undone record so both states are exported.
	if _, err := Undo(ctx, rt, UndoInput{Session: "work"}); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	exportPath := filepath.Join(base, "work.jsonl")
	output, err := ExportHistory(ctx, rt, ExportInput{Session: "work", Path: exportPath})
	if err != nil {
		t.Fatalf("ExportHistory failed: %v", err)
	}
	if output.Path != exportPath || output.Count != 2 || output.Session != "work" {
		t.Errorf("output = %+v", output)
	}
	if output.ExportedAt == 0 {
		t.Error("ExportedAt should be set")
	}

	lines := readLines(t, exportPath)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 records", len(lines))
	}

	var header ExportHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if !header.ChronoExport || header.SchemaVersion != ExportSchemaVersion || header.Session != "work" {
		t.Errorf("header = %+v", header)
	}
	if header.NextSeq != 3 {
		t.Errorf("NextSeq = %d, want 3", header.NextSeq)
	}

	var first, second ExportRecord
	if err := json.Unmarshal([]byte(lines[1]), &first); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[2]), &second); err != nil {
		t.Fatalf("record 2: %v", err)
	}
	if first.State != RecordApplied || first.Seq != 1 {
		t.Errorf("first = %s seq %d, want applied seq 1", first.State, first.Seq)
	}
	if second.State != RecordUndone || second.Seq != 2 {
		t.Errorf("second = %s seq %d, want undone seq 2", second.State, second.Seq)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestExport_EmptySession(t *testing.T) {
	rt, base := newTestRuntime(t)

	exportPath := filepath.Join(base, "empty.jsonl")
	output, err := ExportHistory(context.Background(), rt, ExportInput{Path: exportPath})
	if err != nil {
		t.Fatalf("ExportHistory failed: %v", err)
	}
	if output.Count != 0 || output.Session != "default" {
		t.Errorf("output = %+v", output)
	}
	if lines := readLines(t, exportPath); len(lines) != 1 {
		t.Errorf("got %d lines, want only the header", len(lines))
	}
}

func TestExport_FilePermissions(t *testing.T) {
	rt, base := newTestRuntime(t)

	exportPath := filepath.Join(base, "perm.jsonl")
	if _, err := ExportHistory(context.Background(), rt, ExportInput{Path: exportPath}); err != nil {
		t.Fatalf("ExportHistory failed: %v", err)
	}
	info, err := os.Stat(exportPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestExport_ReplacesExistingFile(t *testing.T) {
	rt, base := newTestRuntime(t)

	exportPath := filepath.Join(base, "again.jsonl")
	writeFile(t, exportPath, "stale\n")
	if _, err := ExportHistory(context.Background(), rt, ExportInput{Path: exportPath}); err != nil {
		t.Fatalf("ExportHistory failed: %v", err)
	}
	lines := readLines(t, exportPath)
	if len(lines) != 1 || !strings.Contains(lines[0], `"_chrono_export":true`) {
		t.Errorf("lines = %v", lines)
	}
}

func TestExport_PathRules(t *testing.T) {
	rt, base := newTestRuntime(t)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
	}{
		{"traversal", base + "/../escape.jsonl"},
		{"wrong extension", filepath.Join(base, "export.json")},
		{"subdirectory", filepath.Join(base, "nested", "export.jsonl")},
		{"outside allowed", filepath.Join(t.TempDir(), "export.jsonl")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExportHistory(ctx, rt, ExportInput{Path: tt.path})
			if !cerrors.Is(err, cerrors.ErrInvalidRequest) {
				t.Errorf("err = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestExport_SymlinkRejected(t *testing.T) {
	rt, base := newTestRuntime(t)

	target := filepath.Join(base, "target.jsonl")
	writeFile(t, target, "")
	link := filepath.Join(base, "link.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := ExportHistory(context.Background(), rt, ExportInput{Path: link})
	if !cerrors.Is(err, cerrors.ErrInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestDefaultExportPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	now := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)

	got, err := defaultExportPath("../evil/session", now)
	if err != nil {
		t.Fatalf("defaultExportPath failed: %v", err)
	}
	want := filepath.Join(home, ".chrono", "exports", "evil-session-2024-03-05T102030.jsonl")
	if got != want {
		t.Errorf("defaultExportPath = %q, want %q", got, want)
	}
}
