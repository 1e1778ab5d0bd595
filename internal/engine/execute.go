package engine

import (
	"context"
	"time"

	"github.com/hpungsan/chrono/internal/conflict"
	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fsops"
)

// Outcome is what happened to one entry during execution.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
	OutcomeNotAttempted Outcome = "not_attempted"
)

// ReportEntry is the execution result of one plan entry. Drifted is set when
// the live disposition differed from the planned one.
type ReportEntry struct {
	Index       int                   `json:"index"`
	Source      string                `json:"source"`
	Destination string                `json:"destination,omitempty"`
	Planned     conflict.Disposition  `json:"planned"`
	Actual      *conflict.Disposition `json:"actual,omitempty"`
	Outcome     Outcome               `json:"outcome"`
	Drifted     bool                  `json:"drifted,omitempty"`
	RecordID    string                `json:"record_id,omitempty"`
	Error       *cerrors.ChronoError  `json:"error,omitempty"`
}

// ReportSummary counts report entries by outcome.
type ReportSummary struct {
	Applied      int `json:"applied"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	NotAttempted int `json:"not_attempted"`
	Drifted      int `json:"drifted"`
}

// ExecutionReport lists the outcome of every plan entry in plan order.
type ExecutionReport struct {
	PlanID      string        `json:"plan_id"`
	BatchID     string        `json:"batch_id"`
	Session     string        `json:"session"`
	ErrorPolicy ErrorPolicy   `json:"error_policy"`
	State       State         `json:"state"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	Entries     []ReportEntry `json:"entries"`
	Warnings    []string      `json:"warnings,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Summary counts the report's entries by outcome.
func (r *ExecutionReport) Summary() ReportSummary {
	var s ReportSummary
	for _, e := range r.Entries {
		switch e.Outcome {
		case OutcomeApplied:
			s.Applied++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeFailed:
			s.Failed++
		case OutcomeNotAttempted:
			s.NotAttempted++
		}
		if e.Drifted {
			s.Drifted++
		}
	}
	return s
}

// Execute applies plan, which must be the engine's latest plan, in order.
// Each entry's disposition is re-resolved against the live filesystem just
// before it runs. Cancellation is honoured between entries; entries already
// applied stay in the history.
func (e *Engine) Execute(ctx context.Context, plan *Plan, policy ErrorPolicy) (*ExecutionReport, error) {
	policy, err := ParseErrorPolicy(string(policy))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	switch {
	case e.state == StateExecuting || e.state == StatePlanning:
		state := e.state
		e.mu.Unlock()
		return nil, cerrors.NewEngineBusy("engine is " + string(state)).WithDetail("state", string(state))
	case e.state != StatePlanned:
		state := e.state
		e.mu.Unlock()
		return nil, cerrors.NewInvalidState(string(state), "execute")
	case plan == nil || e.plan == nil || plan.ID != e.plan.ID:
		e.mu.Unlock()
		return nil, cerrors.NewInvalidRequest("plan is not the engine's current plan")
	}
	e.state = StateExecuting
	e.mu.Unlock()

	report := &ExecutionReport{
		PlanID:      plan.ID,
		BatchID:     plan.ID,
		Session:     e.history.Session(),
		ErrorPolicy: policy,
		Entries:     make([]ReportEntry, 0, len(plan.Entries)),
		StartedAt:   e.now().UTC(),
	}

	resolver := conflict.NewResolver(plan.Policy, e.maxAttempts)
	view := conflict.FSView{Fs: e.fs}
	// Entries are never interrupted halfway; only the loop observes ctx.
	opCtx := context.WithoutCancel(ctx)

	failed, aborted := false, false
	for i, entry := range plan.Entries {
		if aborted || ctx.Err() != nil {
			if !aborted {
				report.Cancelled = true
			}
			report.Entries = append(report.Entries, notAttempted(entry))
			continue
		}
		e.progress.Progress(PhaseExecute, i+1, len(plan.Entries), entry.RelPath)

		re := e.executeEntry(opCtx, plan, entry, resolver, view)
		report.Entries = append(report.Entries, re.entry)
		if re.warning != "" {
			report.Warnings = append(report.Warnings, re.warning)
		}
		if re.entry.Outcome == OutcomeFailed {
			failed = true
			e.logger.Warn().
				Str("source", entry.Source).
				Str("code", string(re.entry.Error.Code)).
				Msg(re.entry.Error.Message)
			if policy == AbortOnFirst {
				aborted = true
			}
		}
	}

	switch {
	case aborted:
		report.State = StateFailed
	case failed || report.Cancelled:
		report.State = StatePartiallyCompleted
	default:
		report.State = StateCompleted
	}
	report.FinishedAt = e.now().UTC()
	e.setState(report.State)

	s := report.Summary()
	e.logger.Info().
		Str("plan", plan.ID).
		Str("state", string(report.State)).
		Int("applied", s.Applied).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("not_attempted", s.NotAttempted).
		Bool("cancelled", report.Cancelled).
		Msg("execution finished")
	return report, nil
}

type entryResult struct {
	entry   ReportEntry
	warning string
}

func (e *Engine) executeEntry(ctx context.Context, plan *Plan, entry PlanEntry, resolver *conflict.Resolver, view conflict.View) entryResult {
	re := ReportEntry{
		Index:       entry.Index,
		Source:      entry.Source,
		Destination: entry.Destination,
		Planned:     entry.Disposition,
	}

	// Plan-time failures and skips are carried over untouched.
	if !entry.Actionable() {
		re.Outcome = OutcomeSkipped
		re.Error = entry.Error
		return entryResult{entry: re}
	}

	live, err := resolver.Resolve(entry.Source, entry.Proposed, view)
	re.Actual = &live
	re.Destination = live.Destination
	re.Drifted = !live.Equal(entry.Disposition)
	if err != nil {
		// An unresolvable conflict skips the entry; only I/O failures fail it.
		re.Outcome = OutcomeFailed
		if cerrors.Is(err, cerrors.ErrConflictUnresolved) {
			re.Outcome = OutcomeSkipped
		}
		re.Error = cerrors.Wrap(err)
		return entryResult{entry: re}
	}
	if live.Action == conflict.ActionSkip {
		re.Outcome = OutcomeSkipped
		return entryResult{entry: re}
	}

	res, err := e.exec.Apply(ctx, fsops.Request{
		Kind:        plan.Kind,
		Source:      entry.Source,
		Destination: live.Destination,
		Overwrite:   live.Action == conflict.ActionOverwrite,
	})
	if err != nil {
		re.Outcome = OutcomeFailed
		re.Error = cerrors.Wrap(err)
		return entryResult{entry: re}
	}

	re.Outcome = OutcomeApplied
	rec, err := e.history.Push(ctx, plan.ID, res)
	re.RecordID = rec.ID
	if err != nil {
		e.logger.Error().Err(err).Str("record", rec.ID).Msg("history not persisted")
		return entryResult{entry: re, warning: "history not persisted for " + entry.Source + ": " + err.Error()}
	}
	return entryResult{entry: re}
}

func notAttempted(entry PlanEntry) ReportEntry {
	return ReportEntry{
		Index:       entry.Index,
		Source:      entry.Source,
		Destination: entry.Destination,
		Planned:     entry.Disposition,
		Outcome:     OutcomeNotAttempted,
		Error:       entry.Error,
	}
}
