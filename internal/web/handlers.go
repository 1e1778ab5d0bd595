package web

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/ops"
	"github.com/hpungsan/chrono/internal/report"
)

// Handlers contains HTTP route handlers for the history browser.
type Handlers struct {
	rt       *ops.Runtime
	renderer *Renderer
}

// HandleSessions handles GET /sessions: list stored sessions.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Sessions(r.Context(), h.rt)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}

	h.renderer.renderPage(w, r, "sessions", SessionsPageData{
		PageData: PageData{
			Title:   "Sessions",
			Version: h.renderer.version,
		},
		Sessions: out.Sessions,
	})
}

// HandleHistory handles GET /sessions/{name}: one session's records.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if strings.TrimSpace(name) == "" {
		h.renderer.renderError(w, r, cerrors.NewInvalidRequest("session name is required"))
		return
	}

	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	out, err := ops.History(r.Context(), h.rt, ops.HistoryInput{Session: name, Limit: limit})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}

	var md bytes.Buffer
	if err := report.History(&md, out.Session, out.Applied, out.Undone); err != nil {
		h.renderer.renderError(w, r, cerrors.NewInternal(err))
		return
	}

	h.renderer.renderPage(w, r, "history", HistoryPageData{
		PageData: PageData{
			Title:   "History: " + out.Session,
			Version: h.renderer.version,
		},
		Session:      out.Session,
		CanUndo:      out.CanUndo,
		CanRedo:      out.CanRedo,
		RenderedHTML: renderMarkdown(md.String()),
	})
}

// parseIntParam parses a non-negative integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, cerrors.NewInvalidRequest(name + " must be a non-negative integer")
	}
	return v, nil
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
