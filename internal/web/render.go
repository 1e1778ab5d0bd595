package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/chrono/internal/db"
	cerrors "github.com/hpungsan/chrono/internal/errors"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// SessionsPageData is the template data for the session list page.
type SessionsPageData struct {
	PageData
	Sessions []db.SessionSummary
}

// HistoryPageData is the template data for one session's history.
type HistoryPageData struct {
	PageData
	Session      string
	CanUndo      bool
	CanRedo      bool
	RenderedHTML template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

const layoutHTML = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} · chrono</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 72rem; padding: 0 1rem; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 0.3rem 0.6rem; text-align: left; }
.muted { color: #777; }
</style>
</head>
<body>
<nav><a href="/sessions">Sessions</a> <span class="muted">chrono {{.Version}}</span></nav>
<main>{{template "content" .}}</main>
</body>
</html>
{{end}}`

var pages = map[string]string{
	"sessions": `{{define "content"}}<h1>Sessions</h1>
{{if .Sessions}}<table>
<thead><tr><th>Session</th><th>Applied</th><th>Undone</th><th>Updated</th></tr></thead>
<tbody>
{{range .Sessions}}<tr><td><a href="/sessions/{{.Name}}">{{.Name}}</a></td><td>{{.Applied}}</td><td>{{.Undone}}</td><td>{{formatTime .UpdatedAt}}</td></tr>
{{end}}</tbody>
</table>{{else}}<p class="muted">No sessions yet.</p>{{end}}
{{end}}`,
	"history": `{{define "content"}}<p class="muted">{{if .CanUndo}}undo available{{else}}nothing to undo{{end}}, {{if .CanRedo}}redo available{{else}}nothing to redo{{end}}</p>
{{.RenderedHTML}}
{{end}}`,
	"error": `{{define "content"}}<h1>Error {{.StatusCode}}</h1>
<p>{{.Message}}</p>
{{end}}`,
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	logger    zerolog.Logger
}

// NewRenderer parses the layout and every page template.
func NewRenderer(version string, logger zerolog.Logger) *Renderer {
	funcMap := template.FuncMap{
		"formatTime": formatTime,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).Parse(layoutHTML))

	templates := make(map[string]*template.Template, len(pages))
	for name, src := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.Parse(src))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		logger:    logger.With().Str("component", "web").Logger(),
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, _ *http.Request, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.logger.Error().Str("template", name).Msg("template not found")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error().Err(err).Str("template", name).Msg("template execution error")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	cErr, ok := cerrors.As(err)
	if !ok {
		cErr = cerrors.NewInternal(err)
	}

	status := cErr.Status
	message := cErr.Message
	if cErr.Code == cerrors.ErrInternal {
		r.logger.Error().Err(err).Msg("internal error")
		message = "an internal error occurred"
	}

	if wantsJSON(req) {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(cErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts report Markdown to HTML.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime renders a Unix timestamp relative to now.
func formatTime(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return humanize.Time(time.Unix(unix, 0))
}
