package engine

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/chrono/internal/conflict"
	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fileinfo"
	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/ids"
	"github.com/hpungsan/chrono/internal/rules"
	"github.com/hpungsan/chrono/internal/template"
)

// Request is the input to Plan. Rules and Template are compiled up front so
// configuration errors never reach planning.
type Request struct {
	SourceDir string
	DestRoot  string // defaults to SourceDir
	Rules     *rules.RuleSet
	Template  *template.Template
	Policy    conflict.Policy
	Kind      fsops.Kind
}

// PlanEntry is the proposed fate of one matched file.
type PlanEntry struct {
	Index       int                  `json:"index"`
	Source      string               `json:"source"`
	RelPath     string               `json:"rel_path"`
	Proposed    string               `json:"proposed,omitempty"`
	Destination string               `json:"destination,omitempty"`
	Disposition conflict.Disposition `json:"disposition"`
	Kind        fsops.Kind           `json:"kind"`
	Captures    []rules.Capture      `json:"captures,omitempty"`
	Error       *cerrors.ChronoError `json:"error,omitempty"`
}

// Summary counts entries by action.
type Summary struct {
	Total     int `json:"total"`
	Proceed   int `json:"proceed"`
	Rename    int `json:"rename"`
	Overwrite int `json:"overwrite"`
	Skip      int `json:"skip"`
	Errors    int `json:"errors"`
}

// Plan is an ordered list of proposed operations. It holds no live handles.
type Plan struct {
	ID        string          `json:"id"`
	SourceDir string          `json:"source_dir"`
	DestRoot  string          `json:"dest_root"`
	Template  string          `json:"template"`
	Policy    conflict.Policy `json:"policy"`
	Kind      fsops.Kind      `json:"kind"`
	Scanned   int             `json:"scanned"`
	Entries   []PlanEntry     `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Summary counts the plan's entries by action.
func (p *Plan) Summary() Summary {
	s := Summary{Total: len(p.Entries)}
	for _, e := range p.Entries {
		switch e.Disposition.Action {
		case conflict.ActionProceed:
			s.Proceed++
		case conflict.ActionRename:
			s.Rename++
		case conflict.ActionOverwrite:
			s.Overwrite++
		case conflict.ActionSkip:
			s.Skip++
		case conflict.ActionError:
			s.Errors++
		}
	}
	return s
}

// Actionable reports whether execution would touch the filesystem for e.
func (e PlanEntry) Actionable() bool {
	switch e.Disposition.Action {
	case conflict.ActionProceed, conflict.ActionRename, conflict.ActionOverwrite:
		return true
	}
	return false
}

func (r *Request) normalize() error {
	if r.SourceDir == "" {
		return cerrors.NewInvalidRequest("source directory is required")
	}
	if r.Template == nil {
		return cerrors.NewInvalidRequest("template is required")
	}
	if r.Rules == nil {
		rs, err := rules.NewRuleSet(nil, rules.Options{})
		if err != nil {
			return err
		}
		r.Rules = rs
	}
	if r.DestRoot == "" {
		r.DestRoot = r.SourceDir
	}

	var err error
	if r.SourceDir, err = filepath.Abs(r.SourceDir); err != nil {
		return cerrors.NewInvalidRequest("invalid source directory: " + err.Error())
	}
	if r.DestRoot, err = filepath.Abs(r.DestRoot); err != nil {
		return cerrors.NewInvalidRequest("invalid destination root: " + err.Error())
	}

	if r.Policy, err = conflict.ParsePolicy(string(r.Policy)); err != nil {
		return err
	}
	if r.Kind, err = fsops.ParseKind(string(r.Kind)); err != nil {
		return err
	}
	return nil
}

// Plan enumerates req.SourceDir and assigns a disposition to every matched
// file. It never mutates the filesystem and can be re-run or cancelled freely.
func (e *Engine) Plan(ctx context.Context, req Request) (*Plan, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	if err := e.begin("plan", StatePlanning,
		StateIdle, StatePlanned, StateCompleted, StateFailed, StatePartiallyCompleted); err != nil {
		return nil, err
	}

	plan, err := e.buildPlan(ctx, req)
	if err != nil {
		e.mu.Lock()
		e.state = StateIdle
		e.plan = nil
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.state = StatePlanned
	e.plan = plan
	e.mu.Unlock()

	s := plan.Summary()
	e.logger.Info().
		Str("plan", plan.ID).
		Str("source", plan.SourceDir).
		Int("scanned", plan.Scanned).
		Int("entries", s.Total).
		Int("errors", s.Errors).
		Msg("plan ready")
	return plan, nil
}

func (e *Engine) buildPlan(ctx context.Context, req Request) (*Plan, error) {
	files, err := e.enumerate(ctx, req.SourceDir)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	plan := &Plan{
		ID:        ids.New(),
		SourceDir: req.SourceDir,
		DestRoot:  req.DestRoot,
		Template:  req.Template.String(),
		Policy:    req.Policy,
		Kind:      req.Kind,
		Scanned:   len(files),
		Entries:   []PlanEntry{},
		CreatedAt: e.now().UTC(),
	}

	resolver := conflict.NewResolver(req.Policy, e.maxAttempts)
	view := conflict.NewOverlay(conflict.FSView{Fs: e.fs})

	for i, meta := range files {
		if ctx.Err() != nil {
			return nil, cerrors.NewCancelled("plan")
		}
		e.progress.Progress(PhasePlan, i+1, len(files), meta.RelPath)

		match := req.Rules.Evaluate(meta)
		if !match.Matched {
			continue
		}

		entry := PlanEntry{
			Index:    len(plan.Entries),
			Source:   meta.Path,
			RelPath:  meta.RelPath,
			Kind:     req.Kind,
			Captures: match.Captures,
		}
		e.assign(&entry, req, resolver, view, match, meta)
		plan.Entries = append(plan.Entries, entry)

		if entry.Actionable() {
			view.Claim(entry.Destination)
			if req.Kind == fsops.KindMove {
				view.Vacate(entry.Source)
			}
		}
	}
	return plan, nil
}

// assign fills entry's destination and disposition. Failures are recorded on
// the entry, never returned.
func (e *Engine) assign(entry *PlanEntry, req Request, resolver *conflict.Resolver, view conflict.View, match rules.MatchResult, meta fileinfo.FileMeta) {
	rel, err := req.Template.Resolve(match, meta)
	if err == nil {
		entry.Proposed, err = template.JoinRoot(req.DestRoot, rel)
	}
	if err != nil {
		entry.markError(err)
		return
	}

	disp, err := resolver.Resolve(entry.Source, entry.Proposed, view)
	entry.Disposition = disp
	entry.Destination = disp.Destination
	if err != nil {
		entry.Error = cerrors.Wrap(err)
	}
}

func (e *PlanEntry) markError(err error) {
	cErr := cerrors.Wrap(err)
	e.Error = cErr
	e.Disposition = conflict.Disposition{Action: conflict.ActionError, Reason: cErr.Message}
}

// enumerate drains the source on a background goroutine.
func (e *Engine) enumerate(ctx context.Context, dir string) ([]fileinfo.FileMeta, error) {
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan fileinfo.FileMeta, 64)

	g.Go(func() error {
		return e.source.Stream(gctx, dir, ch)
	})

	var files []fileinfo.FileMeta
	g.Go(func() error {
		for meta := range ch {
			files = append(files, meta)
			e.progress.Progress(PhaseScan, len(files), 0, meta.RelPath)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, cerrors.NewCancelled("plan")
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, cerrors.NewCancelled("plan")
	}
	return files, nil
}
