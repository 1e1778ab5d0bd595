package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/chrono/internal/engine"
	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/ops"
	"github.com/hpungsan/chrono/internal/profile"
	"github.com/hpungsan/chrono/internal/report"
	"github.com/hpungsan/chrono/internal/web"
)

// Output formats accepted by --format.
const (
	formatTable    = "table"
	formatJSON     = "json"
	formatMarkdown = "md"
	formatHTML     = "html"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(rt *ops.Runtime) *cli.App {
	app := &cli.App{
		Name:    "chrono",
		Usage:   "Organize files into dated folders by rule, with undo",
		Version: Version,
		Commands: []*cli.Command{
			organizeCmd(rt, "plan", "Preview where matching files would go", false),
			organizeCmd(rt, "run", "Move or copy matching files and record the run", true),
			undoCmd(rt),
			redoCmd(rt),
			historyCmd(rt),
			clearCmd(rt),
			exportCmd(rt),
			importCmd(rt),
			serveCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: formatTable, Usage: "Output format: table|json|md|html"}
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "History session (default: default)"}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "contains", Usage: "File name contains text"},
		&cli.StringFlag{Name: "starts-with", Usage: "File name starts with text"},
		&cli.StringFlag{Name: "ends-with", Usage: "File name (without extension) ends with text"},
		&cli.StringFlag{Name: "exact", Usage: "File name equals text"},
		&cli.StringFlag{Name: "regex", Usage: "File name matches regular expression; named groups feed the template"},
		&cli.StringFlag{Name: "glob", Usage: "File name (or relative path, if it contains /) matches glob"},
		&cli.StringSliceFlag{Name: "ext", Usage: "Allowed extension (repeatable)"},
		&cli.StringFlag{Name: "modified-after", Usage: "Modified on or after date (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "modified-before", Usage: "Modified on or before date (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "created-after", Usage: "Created on or after date (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "created-before", Usage: "Created on or before date (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "min-size", Usage: "Minimum size, e.g. 10KB"},
		&cli.StringFlag{Name: "max-size", Usage: "Maximum size, e.g. 2MiB"},
	}
}

func filtersFrom(c *cli.Context) profile.Filters {
	return profile.Filters{
		Contains:       c.String("contains"),
		StartsWith:     c.String("starts-with"),
		EndsWith:       c.String("ends-with"),
		Exact:          c.String("exact"),
		Regex:          c.String("regex"),
		Glob:           c.String("glob"),
		Extensions:     c.StringSlice("ext"),
		ModifiedAfter:  c.String("modified-after"),
		ModifiedBefore: c.String("modified-before"),
		CreatedAfter:   c.String("created-after"),
		CreatedBefore:  c.String("created-before"),
		MinSize:        c.String("min-size"),
		MaxSize:        c.String("max-size"),
	}
}

// organizeCmd creates the plan and run commands; they differ only in execute.
func organizeCmd(rt *ops.Runtime, name, usage string, execute bool) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "source", Usage: "Directory to organize (or first argument)"},
		&cli.StringFlag{Name: "dest", Aliases: []string{"d"}, Usage: "Destination root (default: source)"},
		&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "Destination template, e.g. [YYYY]/[MM]/[filename]"},
		&cli.StringFlag{Name: "date-source", Usage: "Date for the template: modified|created"},
		&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "Profile file (.toml, .yaml or .json)"},
		&cli.StringFlag{Name: "policy", Usage: "Conflict policy: skip|overwrite|rename"},
		&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Operation: move|copy"},
		&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "Descend into subdirectories"},
		&cli.BoolFlag{Name: "hidden", Usage: "Include dot files"},
		&cli.BoolFlag{Name: "ignore-case", Aliases: []string{"i"}, Usage: "Case-insensitive filters"},
		formatFlag(),
	}
	if execute {
		flags = append(flags,
			sessionFlag(),
			&cli.BoolFlag{Name: "abort-on-error", Usage: "Stop at the first failed file"},
		)
	}
	flags = append(flags, filterFlags()...)

	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "[source]",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			source := c.String("source")
			if source == "" {
				source = c.Args().First()
			}

			input := ops.OrganizeInput{
				Source:          source,
				Destination:     c.String("dest"),
				Template:        c.String("template"),
				DateSource:      c.String("date-source"),
				Filters:         filtersFrom(c),
				Profile:         c.String("profile"),
				Policy:          c.String("policy"),
				Mode:            c.String("mode"),
				Recursive:       c.Bool("recursive"),
				IncludeHidden:   c.Bool("hidden"),
				CaseInsensitive: c.Bool("ignore-case"),
				Execute:         execute,
				Progress:        progressPrinter(c.App.ErrWriter),
			}
			if execute {
				input.Session = c.String("session")
				if c.Bool("abort-on-error") {
					input.ErrorPolicy = string(engine.AbortOnFirst)
				}
			}

			out, err := ops.Organize(c.Context, rt, input)
			if err != nil {
				return outputError(err)
			}

			w := c.App.Writer
			if out.Report == nil {
				return render(w, format, out,
					"Plan "+out.Plan.ID,
					func(w io.Writer) error { return report.Plan(w, out.Plan) },
					func(w io.Writer) { printPlanTable(w, out.Plan) })
			}

			if err := render(w, format, out,
				"Run "+out.Report.BatchID,
				func(w io.Writer) error { return report.Execution(w, out.Report) },
				func(w io.Writer) { printReportTable(w, out.Report) }); err != nil {
				return err
			}
			if out.Report.State != engine.StateCompleted {
				return cli.Exit("", 2)
			}
			return nil
		},
	}
}

// undoCmd creates the undo command.
func undoCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "undo",
		Usage: "Reverse the most recent operation",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.BoolFlag{Name: "batch", Aliases: []string{"b"}, Usage: "Reverse every operation of the most recent run"},
			formatFlag(),
		},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}
			out, err := ops.Undo(c.Context, rt, ops.UndoInput{
				Session: c.String("session"),
				Batch:   c.Bool("batch"),
			})
			if err != nil {
				return outputError(err)
			}
			if format == formatJSON {
				return outputJSON(c.App.Writer, out)
			}
			for _, r := range out.Undone {
				fmt.Fprintf(c.App.Writer, "undid %s %s -> %s\n", r.Kind, r.Source, r.Destination)
			}
			fmt.Fprintf(c.App.Writer, "%d remaining, %d redoable\n", out.Remaining, out.Redoable)
			printWarnings(c.App.ErrWriter, out.Warnings)
			return nil
		},
	}
}

// redoCmd creates the redo command.
func redoCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "redo",
		Usage: "Re-apply the most recently undone operation",
		Flags: []cli.Flag{sessionFlag(), formatFlag()},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}
			out, err := ops.Redo(c.Context, rt, ops.RedoInput{Session: c.String("session")})
			if err != nil {
				return outputError(err)
			}
			if format == formatJSON {
				return outputJSON(c.App.Writer, out)
			}
			r := out.Redone
			fmt.Fprintf(c.App.Writer, "redid %s %s -> %s\n%d redoable\n", r.Kind, r.Source, r.Destination, out.Redoable)
			printWarnings(c.App.ErrWriter, out.Warnings)
			return nil
		},
	}
}

// historyCmd creates the history command.
func historyCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show a session's history, or list sessions",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Show at most this many applied records (0 = all)"},
			&cli.BoolFlag{Name: "sessions", Usage: "List stored sessions instead"},
			formatFlag(),
		},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			if c.Bool("sessions") {
				out, err := ops.Sessions(c.Context, rt)
				if err != nil {
					return outputError(err)
				}
				switch format {
				case formatJSON:
					return outputJSON(c.App.Writer, out)
				case formatTable:
					printSessionsTable(c.App.Writer, out.Sessions)
					return nil
				}
				return outputError(cerrors.NewInvalidRequest("--sessions supports table and json output only"))
			}

			out, err := ops.History(c.Context, rt, ops.HistoryInput{
				Session: c.String("session"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return render(c.App.Writer, format, out,
				"History "+out.Session,
				func(w io.Writer) error { return report.History(w, out.Session, out.Applied, out.Undone) },
				func(w io.Writer) { printHistoryTable(w, out.Session, out.Applied, out.Undone) })
		},
	}
}

// clearCmd creates the clear command.
func clearCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Discard a session's history without touching files",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.BoolFlag{Name: "forget", Usage: "Also remove the session itself"},
			formatFlag(),
		},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}
			out, err := ops.ClearHistory(c.Context, rt, ops.ClearHistoryInput{
				Session: c.String("session"),
				Forget:  c.Bool("forget"),
			})
			if err != nil {
				return outputError(err)
			}
			if format == formatJSON {
				return outputJSON(c.App.Writer, out)
			}
			fmt.Fprintf(c.App.Writer, "cleared %d records from session %s\n", out.Cleared, out.Session)
			return nil
		},
	}
}

// exportCmd creates the export command.
func exportCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a session's history to JSONL",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "path", Usage: "Output file (default: ~/.chrono/exports/<session>-<time>.jsonl)"},
			formatFlag(),
		},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}
			out, err := ops.ExportHistory(c.Context, rt, ops.ExportInput{
				Session: c.String("session"),
				Path:    c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}
			if format == formatJSON {
				return outputJSON(c.App.Writer, out)
			}
			fmt.Fprintf(c.App.Writer, "exported %d records to %s\n", out.Count, out.Path)
			return nil
		},
	}
}

// importCmd creates the import command.
func importCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a session's history from JSONL",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Existing session: error|replace"},
			formatFlag(),
		},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}
			if c.NArg() < 1 {
				return outputError(cerrors.NewInvalidRequest("import file path required"))
			}
			out, err := ops.ImportHistory(c.Context, rt, ops.ImportInput{
				Path:    c.Args().First(),
				Session: c.String("session"),
				Mode:    ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			if format == formatJSON {
				if err := outputJSON(c.App.Writer, out); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(c.App.Writer, "imported %d records into session %s (%d skipped)\n", out.Imported, out.Session, out.Skipped)
				for _, e := range out.Errors {
					fmt.Fprintf(c.App.ErrWriter, "line %d: [%s] %s\n", e.Line, e.Code, e.Message)
				}
			}
			if out.Imported == 0 && len(out.Errors) > 0 {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Browse history sessions in a web browser (read-only)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8737, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(cerrors.NewInvalidRequest("port must be between 1 and 65535"))
			}
			srv := web.NewServer(rt, Version, c.String("bind"), port)
			if err := web.Run(c.Context, srv, rt.Logger); err != nil {
				return outputError(cerrors.NewInternal(err))
			}
			return nil
		},
	}
}

func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", formatTable:
		return formatTable, nil
	case formatJSON, formatMarkdown, formatHTML:
		return f, nil
	}
	return "", cerrors.NewInvalidRequest("format must be one of: table, json, md, html")
}

// render writes v in the chosen format. Markdown is the source for HTML.
func render(w io.Writer, format string, v any, title string, md func(io.Writer) error, tbl func(io.Writer)) error {
	switch format {
	case formatJSON:
		return outputJSON(w, v)
	case formatMarkdown:
		if err := md(w); err != nil {
			return outputError(cerrors.NewInternal(err))
		}
		return nil
	case formatHTML:
		var buf bytes.Buffer
		if err := md(&buf); err != nil {
			return outputError(cerrors.NewInternal(err))
		}
		if err := report.HTML(w, title, buf.String()); err != nil {
			return outputError(cerrors.NewInternal(err))
		}
		return nil
	}
	tbl(w)
	return nil
}

// progressPrinter redraws a one-line status on w when it is a terminal.
func progressPrinter(w io.Writer) engine.Progress {
	if !shouldColorize(w) {
		return nil
	}
	return engine.ProgressFunc(func(phase engine.Phase, current, total int, description string) {
		if total == 0 {
			fmt.Fprintf(w, "\r\033[K%s: %d", phase, current)
			return
		}
		fmt.Fprintf(w, "\r\033[K%s: %d/%d %s", phase, current, total, description)
		if current == total {
			fmt.Fprint(w, "\r\033[K")
		}
	})
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if chronoErr, ok := cerrors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", chronoErr.Code, chronoErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
