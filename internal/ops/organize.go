package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/chrono/internal/conflict"
	"github.com/hpungsan/chrono/internal/engine"
	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/history"
	"github.com/hpungsan/chrono/internal/profile"
	"github.com/hpungsan/chrono/internal/rules"
	"github.com/hpungsan/chrono/internal/scan"
	"github.com/hpungsan/chrono/internal/template"
)

// OrganizeInput contains parameters for the Organize operation. Empty fields
// fall back to the profile, then to the config.
type OrganizeInput struct {
	Source      string
	Destination string // default: Source
	Template    string
	DateSource  string // modified (default) or created
	Filters     profile.Filters
	Profile     string // optional profile file
	Policy      string // skip, overwrite or rename
	Mode        string // move or copy
	ErrorPolicy string // continue or abort
	Session     string

	Recursive       bool
	IncludeHidden   bool
	CaseInsensitive bool

	// Execute applies the plan. Without it Organize is a dry run and never
	// touches the filesystem or the stored history.
	Execute  bool
	Progress engine.Progress
}

// OrganizeOutput contains the result of the Organize operation.
type OrganizeOutput struct {
	Plan          *engine.Plan            `json:"plan"`
	Summary       engine.Summary          `json:"summary"`
	Report        *engine.ExecutionReport `json:"report,omitempty"`
	ReportSummary *engine.ReportSummary   `json:"report_summary,omitempty"`
	DryRun        bool                    `json:"dry_run"`
}

// settings is an OrganizeInput after profile and config defaults are applied.
type settings struct {
	source, destination string
	template            *template.Template
	rules               *rules.RuleSet
	policy              conflict.Policy
	kind                fsops.Kind
	errorPolicy         engine.ErrorPolicy
	recursive, hidden   bool
}

// Organize plans the organization of input.Source and, with input.Execute,
// applies the plan and records it in the session history.
func Organize(ctx context.Context, rt *Runtime, input OrganizeInput) (*OrganizeOutput, error) {
	s, err := rt.resolveOrganize(input)
	if err != nil {
		return nil, err
	}

	var sess *session
	if input.Execute {
		sess, err = rt.openSession(ctx, input.Session, true)
		if err != nil {
			return nil, err
		}
		defer sess.Close() //nolint:errcheck
	} else {
		// A dry run gets a throwaway history so nothing is persisted.
		exec := fsops.New(rt.fs(), rt.Logger)
		h, err := history.Open(ctx, exec, history.Options{Session: normalizeSession(input.Session), Logger: rt.Logger})
		if err != nil {
			return nil, err
		}
		sess = &session{name: h.Session(), exec: exec, history: h}
	}

	eng, err := engine.New(engine.Options{
		Fs:                rt.fs(),
		Source:            scan.New(rt.fs(), scan.Options{Recursive: s.recursive, IncludeHidden: s.hidden}, rt.Logger),
		Executor:          sess.exec,
		History:           sess.history,
		MaxSuffixAttempts: rt.config().MaxSuffixAttempts,
		Progress:          input.Progress,
		Logger:            rt.Logger,
	})
	if err != nil {
		return nil, err
	}

	plan, err := eng.Plan(ctx, engine.Request{
		SourceDir: s.source,
		DestRoot:  s.destination,
		Rules:     s.rules,
		Template:  s.template,
		Policy:    s.policy,
		Kind:      s.kind,
	})
	if err != nil {
		return nil, err
	}

	out := &OrganizeOutput{
		Plan:    plan,
		Summary: plan.Summary(),
		DryRun:  !input.Execute,
	}
	if !input.Execute {
		return out, nil
	}

	report, err := eng.Execute(ctx, plan, s.errorPolicy)
	if err != nil {
		return nil, err
	}
	summary := report.Summary()
	out.Report = report
	out.ReportSummary = &summary
	return out, nil
}

// resolveOrganize layers input over the profile over the config and
// compiles rules and template, so configuration errors surface before any scan.
func (rt *Runtime) resolveOrganize(input OrganizeInput) (*settings, error) {
	cfg := rt.config()

	var p profile.Profile
	if strings.TrimSpace(input.Profile) != "" {
		loaded, err := profile.Load(input.Profile)
		if err != nil {
			return nil, err
		}
		p = *loaded
	}

	source := firstNonEmpty(input.Source, p.Source)
	if source == "" {
		return nil, cerrors.NewInvalidRequest("source directory is required")
	}
	tpl := firstNonEmpty(input.Template, p.Template)
	if tpl == "" {
		return nil, cerrors.NewInvalidRequest("template is required")
	}

	compiled, err := template.Parse(tpl, template.Options{
		DateSource: template.DateSource(strings.ToLower(firstNonEmpty(input.DateSource, p.DateSource))),
	})
	if err != nil {
		return nil, err
	}

	// Profile and input filters both apply.
	profileRules, err := p.Filters.Rules()
	if err != nil {
		return nil, err
	}
	inputRules, err := input.Filters.Rules()
	if err != nil {
		return nil, err
	}
	rs, err := rules.NewRuleSet(append(profileRules, inputRules...), rules.Options{
		CaseInsensitive: input.CaseInsensitive || p.CaseInsensitive || cfg.CaseInsensitive,
	})
	if err != nil {
		return nil, err
	}

	policy, err := conflict.ParsePolicy(strings.ToLower(firstNonEmpty(input.Policy, p.ConflictPolicy, cfg.DefaultPolicy)))
	if err != nil {
		return nil, err
	}
	kind, err := fsops.ParseKind(strings.ToLower(firstNonEmpty(input.Mode, p.Mode, cfg.DefaultMode)))
	if err != nil {
		return nil, err
	}
	errPolicy, err := engine.ParseErrorPolicy(strings.ToLower(firstNonEmpty(input.ErrorPolicy, p.ErrorPolicy, cfg.ErrorPolicy)))
	if err != nil {
		return nil, err
	}

	return &settings{
		source:      source,
		destination: firstNonEmpty(input.Destination, p.Destination),
		template:    compiled,
		rules:       rs,
		policy:      policy,
		kind:        kind,
		errorPolicy: errPolicy,
		recursive:   input.Recursive || p.Recursive || cfg.Recursive,
		hidden:      input.IncludeHidden || p.IncludeHidden || cfg.IncludeHidden,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
