package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/hpungsan/chrono/internal/conflict"
	"github.com/hpungsan/chrono/internal/db"
	"github.com/hpungsan/chrono/internal/engine"
	"github.com/hpungsan/chrono/internal/history"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// paint colors s when color is on.
func paint(color bool, c text.Color, s string) string {
	if !color {
		return s
	}
	return c.Sprint(s)
}

func actionColor(a conflict.Action) text.Color {
	switch a {
	case conflict.ActionProceed:
		return text.FgGreen
	case conflict.ActionRename, conflict.ActionOverwrite:
		return text.FgYellow
	case conflict.ActionError:
		return text.FgRed
	}
	return text.FgHiBlack
}

func outcomeColor(o engine.Outcome) text.Color {
	switch o {
	case engine.OutcomeApplied:
		return text.FgGreen
	case engine.OutcomeFailed:
		return text.FgRed
	}
	return text.FgHiBlack
}

func printPlanTable(w io.Writer, p *engine.Plan) {
	color := shouldColorize(w)
	s := p.Summary()
	fmt.Fprintf(w, "Plan %s: %d scanned, %d matched (%d proceed, %d rename, %d overwrite, %d skip, %d errors)\n",
		p.ID, p.Scanned, s.Total, s.Proceed, s.Rename, s.Overwrite, s.Skip, s.Errors)
	if len(p.Entries) == 0 {
		fmt.Fprintln(w, "No files matched.")
		return
	}

	rows := make([][]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		note := e.Disposition.Reason
		if e.Error != nil {
			note = string(e.Error.Code) + ": " + e.Error.Message
		}
		rows = append(rows, []string{
			strconv.Itoa(e.Index + 1),
			e.RelPath,
			e.Destination,
			paint(color, actionColor(e.Disposition.Action), string(e.Disposition.Action)),
			note,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Source", "Destination", "Action", "Note"},
		rows,
		[]columnAlignment{alignRight},
	))
}

func printReportTable(w io.Writer, r *engine.ExecutionReport) {
	color := shouldColorize(w)
	s := r.Summary()
	fmt.Fprintf(w, "Run %s (session %s): %s, %d applied, %d skipped, %d failed, %d not attempted\n",
		r.BatchID, r.Session, r.State, s.Applied, s.Skipped, s.Failed, s.NotAttempted)
	if s.Drifted > 0 {
		fmt.Fprintf(w, "%d entries changed since planning\n", s.Drifted)
	}
	printWarnings(w, r.Warnings)
	if len(r.Entries) == 0 {
		return
	}

	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		note := ""
		if e.Error != nil {
			note = string(e.Error.Code) + ": " + e.Error.Message
		} else if e.Drifted && e.Actual != nil {
			note = "drifted to " + string(e.Actual.Action)
		}
		rows = append(rows, []string{
			strconv.Itoa(e.Index + 1),
			e.Source,
			e.Destination,
			paint(color, outcomeColor(e.Outcome), string(e.Outcome)),
			note,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Source", "Destination", "Outcome", "Note"},
		rows,
		[]columnAlignment{alignRight},
	))
}

func printHistoryTable(w io.Writer, session string, applied, undone []history.Record) {
	fmt.Fprintf(w, "Session %s: %d applied, %d undone\n", session, len(applied), len(undone))
	if len(applied) == 0 && len(undone) == 0 {
		return
	}

	rows := make([][]string, 0, len(applied)+len(undone))
	// Newest first, the order undo walks.
	for i := len(applied) - 1; i >= 0; i-- {
		rows = append(rows, historyRow(applied[i], "applied"))
	}
	for _, r := range undone {
		rows = append(rows, historyRow(r, "undone"))
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Seq", "State", "Kind", "Source", "Destination", "Size", "When"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func historyRow(r history.Record, state string) []string {
	return []string{
		strconv.FormatInt(r.Seq, 10),
		state,
		string(r.Kind),
		r.Source,
		r.Destination,
		humanize.Bytes(uint64(max(r.Size, 0))),
		humanize.Time(r.CreatedAt),
	}
}

func printSessionsTable(w io.Writer, sessions []db.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.Name,
			strconv.Itoa(s.Applied),
			strconv.Itoa(s.Undone),
			humanize.Time(time.Unix(s.UpdatedAt, 0)),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Session", "Applied", "Undone", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight},
	))
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
