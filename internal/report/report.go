// Package report renders plans, execution reports and history as Markdown or HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/chrono/internal/engine"
	"github.com/hpungsan/chrono/internal/history"
)

// Plan writes p as Markdown.
func Plan(w io.Writer, p *engine.Plan) error {
	var b strings.Builder
	s := p.Summary()

	fmt.Fprintf(&b, "# Plan %s\n\n", p.ID)
	fmt.Fprintf(&b, "- Source: `%s`\n", p.SourceDir)
	fmt.Fprintf(&b, "- Destination: `%s`\n", p.DestRoot)
	fmt.Fprintf(&b, "- Template: `%s`\n", p.Template)
	fmt.Fprintf(&b, "- Mode: %s, conflicts: %s\n", p.Kind, p.Policy)
	fmt.Fprintf(&b, "- Scanned %d files, %d matched (%d proceed, %d rename, %d overwrite, %d skip, %d errors)\n\n",
		p.Scanned, s.Total, s.Proceed, s.Rename, s.Overwrite, s.Skip, s.Errors)

	if len(p.Entries) == 0 {
		b.WriteString("No files matched.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("| # | Source | Destination | Action | Note |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, e := range p.Entries {
		note := e.Disposition.Reason
		if e.Error != nil {
			note = string(e.Error.Code) + ": " + e.Error.Message
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			e.Index+1, cell(e.RelPath), cell(e.Destination), e.Disposition.Action, cell(note))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Execution writes r as Markdown.
func Execution(w io.Writer, r *engine.ExecutionReport) error {
	var b strings.Builder
	s := r.Summary()

	fmt.Fprintf(&b, "# Run %s\n\n", r.BatchID)
	fmt.Fprintf(&b, "- State: **%s**\n", r.State)
	fmt.Fprintf(&b, "- Session: %s, error policy: %s\n", r.Session, r.ErrorPolicy)
	fmt.Fprintf(&b, "- Applied %d, skipped %d, failed %d, not attempted %d, drifted %d\n",
		s.Applied, s.Skipped, s.Failed, s.NotAttempted, s.Drifted)
	fmt.Fprintf(&b, "- Took %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Cancelled {
		b.WriteString("- Cancelled before all entries ran\n")
	}
	b.WriteString("\n")

	if len(r.Entries) > 0 {
		b.WriteString("| # | Source | Destination | Outcome | Note |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, e := range r.Entries {
			note := ""
			switch {
			case e.Error != nil:
				note = string(e.Error.Code) + ": " + e.Error.Message
			case e.Drifted && e.Actual != nil:
				note = fmt.Sprintf("planned %s, ran %s", e.Planned.Action, e.Actual.Action)
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				e.Index+1, cell(e.Source), cell(e.Destination), e.Outcome, cell(note))
		}
	}

	for _, warn := range r.Warnings {
		fmt.Fprintf(&b, "\n> warning: %s\n", warn)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// History writes the applied and redoable records of a session as Markdown,
// newest first.
func History(w io.Writer, session string, applied, undone []history.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# History: %s\n\n", session)

	section := func(title string, recs []history.Record) {
		fmt.Fprintf(&b, "## %s (%d)\n\n", title, len(recs))
		if len(recs) == 0 {
			b.WriteString("None.\n\n")
			return
		}
		b.WriteString("| Seq | Kind | Source | Destination | Size | When |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for i := len(recs) - 1; i >= 0; i-- {
			r := recs[i]
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
				r.Seq, r.Kind, cell(r.Source), cell(r.Destination),
				humanize.Bytes(uint64(max(r.Size, 0))), humanize.Time(r.CreatedAt))
		}
		b.WriteString("\n")
	}
	section("Undoable", applied)
	section("Redoable", undone)

	_, err := io.WriteString(w, b.String())
	return err
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.25rem 0.5rem; text-align: left; }
code { background: #f4f4f4; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML converts Markdown to a standalone HTML page.
func HTML(w io.Writer, title, markdown string) error {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	return page.Execute(w, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(buf.String())})
}

// cell makes s safe inside a Markdown table cell.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
