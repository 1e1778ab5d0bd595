package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/chrono/internal/config"
	"github.com/hpungsan/chrono/internal/db"
	"github.com/hpungsan/chrono/internal/logging"
	"github.com/hpungsan/chrono/internal/ops"
	"github.com/hpungsan/chrono/internal/profile"
)

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	rt := &ops.Runtime{
		DB:      database,
		Config:  config.DefaultConfig(),
		BaseDir: tmpDir,
		Logger:  logging.Nop(),
	}
	return &Handlers{
		rt:       rt,
		renderer: NewRenderer("test", logging.Nop()),
	}
}

// seedSession moves two invoices into dated folders under session.
func seedSession(t *testing.T, h *Handlers, session string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"invoice_2023.txt", "invoice_2024.txt"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_, err := ops.Organize(context.Background(), h.rt, ops.OrganizeInput{
		Source:      src,
		Destination: filepath.Join(root, "dst"),
		Template:    "[group1]/[filename]",
		Filters:     profile.Filters{Regex: `invoice_(\d{4})\.txt`},
		Session:     session,
		Execute:     true,
	})
	if err != nil {
		t.Fatalf("seed session %q: %v", session, err)
	}
}

// --- HandleSessions ---

func TestHandleSessions_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/sessions", nil)
	rec := httptest.NewRecorder()
	h.HandleSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No sessions yet.") {
		t.Error("expected empty-state message")
	}
}

func TestHandleSessions_HTML(t *testing.T) {
	h := setupTest(t)
	seedSession(t, h, "books")

	req := httptest.NewRequest("GET", "/sessions", nil)
	rec := httptest.NewRecorder()
	h.HandleSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `href="/sessions/books"`) {
		t.Error("expected a link to session books")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}

func TestHandleSessions_JSON(t *testing.T) {
	h := setupTest(t)
	seedSession(t, h, "books")

	req := httptest.NewRequest("GET", "/sessions", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleSessions(rec, req)

	var out ops.SessionsOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Sessions) != 1 || out.Sessions[0].Applied != 2 {
		t.Errorf("sessions = %+v, want books with 2 applied", out.Sessions)
	}
}

// --- HandleHistory ---

func TestHandleHistory_RendersRecords(t *testing.T) {
	h := setupTest(t)
	seedSession(t, h, "books")

	req := httptest.NewRequest("GET", "/sessions/books", nil)
	req.SetPathValue("name", "books")
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<table>", "invoice_2023.txt", "Undoable (2)", "undo available"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestHandleHistory_LimitJSON(t *testing.T) {
	h := setupTest(t)
	seedSession(t, h, "books")

	req := httptest.NewRequest("GET", "/sessions/books?limit=1", nil)
	req.SetPathValue("name", "books")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)

	var out ops.HistoryOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Applied) != 1 {
		t.Errorf("applied = %d, want 1", len(out.Applied))
	}
}

func TestHandleHistory_BadLimit(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/sessions/books?limit=-3", nil)
	req.SetPathValue("name", "books")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", body.Error.Code)
	}
}

func TestHandleHistory_ErrorPage(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/sessions/books?limit=x", nil)
	req.SetPathValue("name", "books")
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Error 400") {
		t.Error("expected error page")
	}
}

// --- Server ---

func TestServer_RoutesAndHeaders(t *testing.T) {
	h := setupTest(t)
	srv := httptest.NewServer(NewServer(h.rt, "test", "127.0.0.1", 0).Handler)
	defer srv.Close()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/sessions" {
		t.Errorf("GET / = %d %q, want redirect to /sessions", resp.StatusCode, resp.Header.Get("Location"))
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("missing security headers")
	}

	resp, err = client.Post(srv.URL+"/sessions", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /sessions = %d, want 405", resp.StatusCode)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := setupTest(t)
	srv := NewServer(h.rt, "test", "127.0.0.1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, logging.Nop()) }()
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
}
