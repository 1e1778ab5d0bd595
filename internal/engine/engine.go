// Package engine plans and executes rule-driven file organization runs.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/history"
	"github.com/hpungsan/chrono/internal/scan"
)

// State is the engine's lifecycle position.
type State string

const (
	StateIdle               State = "idle"
	StatePlanning           State = "planning"
	StatePlanned            State = "planned"
	StateExecuting          State = "executing"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StatePartiallyCompleted State = "partially_completed"
)

// ErrorPolicy decides what happens after an entry fails during execution.
type ErrorPolicy string

const (
	ContinueOnError ErrorPolicy = "continue"
	AbortOnFirst    ErrorPolicy = "abort"
)

// ParseErrorPolicy accepts "continue" (or "") and "abort".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(s); p {
	case "", ContinueOnError:
		return ContinueOnError, nil
	case AbortOnFirst:
		return AbortOnFirst, nil
	}
	return "", cerrors.NewInvalidRequest("unknown error policy " + s + " (want continue or abort)")
}

// Phase names the part of a run a progress notification belongs to.
type Phase string

const (
	PhaseScan    Phase = "scan"
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
)

// Progress receives notifications while planning and executing. Total is 0
// while the scan is still running.
type Progress interface {
	Progress(phase Phase, current, total int, description string)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(phase Phase, current, total int, description string)

func (f ProgressFunc) Progress(phase Phase, current, total int, description string) {
	f(phase, current, total, description)
}

type nopProgress struct{}

func (nopProgress) Progress(Phase, int, int, string) {}

// Applier performs one file operation.
type Applier interface {
	Apply(ctx context.Context, req fsops.Request) (*fsops.Result, error)
}

// Options wires an Engine to its collaborators.
type Options struct {
	Fs                afero.Fs
	Source            scan.Source
	Executor          Applier
	History           *history.History
	MaxSuffixAttempts int
	Progress          Progress
	Logger            zerolog.Logger
	Now               func() time.Time
}

// Engine is the organization state machine. Plan and Execute may not overlap;
// undo and redo are refused while a plan is executing.
type Engine struct {
	fs          afero.Fs
	source      scan.Source
	exec        Applier
	history     *history.History
	maxAttempts int
	progress    Progress
	logger      zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	state State
	plan  *Plan
}

// New returns an idle Engine.
func New(opts Options) (*Engine, error) {
	if opts.Fs == nil || opts.Source == nil || opts.Executor == nil || opts.History == nil {
		return nil, cerrors.NewInvalidRequest("engine needs a filesystem, source, executor and history")
	}
	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		fs:          opts.Fs,
		source:      opts.Source,
		exec:        opts.Executor,
		history:     opts.History,
		maxAttempts: opts.MaxSuffixAttempts,
		progress:    opts.Progress,
		logger:      opts.Logger.With().Str("component", "engine").Logger(),
		now:         opts.Now,
		state:       StateIdle,
	}, nil
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns the engine's operation history.
func (e *Engine) History() *history.History { return e.history }

// begin moves to next if the current state allows it.
func (e *Engine) begin(action string, next State, allowed ...State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range allowed {
		if e.state == s {
			e.state = next
			return nil
		}
	}
	if e.state == StatePlanning || e.state == StateExecuting {
		return cerrors.NewEngineBusy("engine is " + string(e.state)).WithDetail("state", string(e.state))
	}
	return cerrors.NewInvalidState(string(e.state), action)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// guardHistory refuses history changes while a plan is executing.
func (e *Engine) guardHistory(action string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateExecuting {
		return cerrors.NewEngineBusy("cannot " + action + " while a plan is executing").WithDetail("state", string(e.state))
	}
	return nil
}

// UndoLast reverses the most recent applied record.
func (e *Engine) UndoLast(ctx context.Context) (history.Record, error) {
	if err := e.guardHistory("undo"); err != nil {
		return history.Record{}, err
	}
	return e.history.UndoLast(ctx)
}

// UndoBatch reverses every record of the most recent batch.
func (e *Engine) UndoBatch(ctx context.Context) ([]history.Record, error) {
	if err := e.guardHistory("undo"); err != nil {
		return nil, err
	}
	return e.history.UndoBatch(ctx)
}

// RedoLast re-applies the most recently undone record.
func (e *Engine) RedoLast(ctx context.Context) (history.Record, error) {
	if err := e.guardHistory("redo"); err != nil {
		return history.Record{}, err
	}
	return e.history.RedoLast(ctx)
}
