// Package conflict decides what happens when a destination is already taken.
package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	cerrors "github.com/hpungsan/chrono/internal/errors"
)

// DefaultMaxAttempts bounds the suffix search when no limit is configured.
const DefaultMaxAttempts = 1000

// Policy is the user-selected strategy for an occupied destination.
type Policy string

const (
	PolicySkip      Policy = "skip"
	PolicyOverwrite Policy = "overwrite"
	PolicyRename    Policy = "rename"
)

// ParsePolicy accepts a policy name in any case.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySkip, PolicyOverwrite, PolicyRename:
		return p, nil
	case "":
		return PolicySkip, nil
	}
	return "", cerrors.NewInvalidRequest(fmt.Sprintf("unknown conflict policy %q (want skip, overwrite or rename)", s))
}

// Action is the disposition assigned to one entry.
type Action string

const (
	ActionProceed   Action = "proceed"
	ActionSkip      Action = "skip"
	ActionRename    Action = "rename"
	ActionOverwrite Action = "overwrite"
	ActionError     Action = "error"
)

// Disposition is the resolved fate of one entry. Destination is the path the
// file will land at, which differs from the proposed one after a rename.
type Disposition struct {
	Action      Action `json:"action"`
	Destination string `json:"destination"`
	Suffix      int    `json:"suffix,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Equal compares the parts of a disposition that affect execution.
func (d Disposition) Equal(o Disposition) bool {
	return d.Action == o.Action && d.Destination == o.Destination
}

// View answers existence questions about destination paths.
type View interface {
	Exists(path string) (exists bool, isDir bool, err error)
}

// FSView reads the live filesystem.
type FSView struct {
	Fs afero.Fs
}

// Exists does not follow a symlink at path.
func (v FSView) Exists(path string) (bool, bool, error) {
	var (
		fi  os.FileInfo
		err error
	)
	if l, ok := v.Fs.(afero.Lstater); ok {
		fi, _, err = l.LstatIfPossible(path)
	} else {
		fi, err = v.Fs.Stat(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, false, nil
		}
		return false, false, errors.Errorf("stat %s: %w", path, err)
	}
	return true, fi.IsDir(), nil
}

// Overlay layers the effects of planned-but-not-executed entries over a base view.
type Overlay struct {
	base View

	mu      sync.Mutex
	claimed map[string]bool
	vacated map[string]bool
}

// NewOverlay returns an empty overlay over base.
func NewOverlay(base View) *Overlay {
	return &Overlay{
		base:    base,
		claimed: make(map[string]bool),
		vacated: make(map[string]bool),
	}
}

// Claim marks path as occupied by an earlier entry.
func (o *Overlay) Claim(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	path = filepath.Clean(path)
	o.claimed[path] = true
	delete(o.vacated, path)
}

// Vacate marks path as freed by an earlier move.
func (o *Overlay) Vacate(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	path = filepath.Clean(path)
	if !o.claimed[path] {
		o.vacated[path] = true
	}
}

// Exists consults claims and vacancies before the base view.
func (o *Overlay) Exists(path string) (bool, bool, error) {
	o.mu.Lock()
	path = filepath.Clean(path)
	claimed, vacated := o.claimed[path], o.vacated[path]
	o.mu.Unlock()

	switch {
	case claimed:
		return true, false, nil
	case vacated:
		return false, false, nil
	}
	return o.base.Exists(path)
}

// Resolver applies one policy.
type Resolver struct {
	policy      Policy
	maxAttempts int
}

// NewResolver returns a Resolver. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewResolver(policy Policy, maxAttempts int) *Resolver {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Resolver{policy: policy, maxAttempts: maxAttempts}
}

// Policy returns the resolver's policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve decides the disposition for moving or copying source to dest.
// The error carries the same information as an ActionError disposition.
func (r *Resolver) Resolve(source, dest string, view View) (Disposition, error) {
	if filepath.Clean(source) == filepath.Clean(dest) {
		return Disposition{Action: ActionSkip, Destination: dest, Reason: "already in place"}, nil
	}

	exists, isDir, err := view.Exists(dest)
	if err != nil {
		return failed(dest, cerrors.NewExecution(cerrors.ErrIOFailure, "check_destination", dest, true, err))
	}
	if !exists {
		return Disposition{Action: ActionProceed, Destination: dest}, nil
	}

	switch r.policy {
	case PolicySkip:
		return Disposition{Action: ActionSkip, Destination: dest, Reason: "destination exists"}, nil

	case PolicyOverwrite:
		if isDir {
			return failed(dest, cerrors.NewConflictUnresolved(dest, "destination is a directory"))
		}
		return Disposition{Action: ActionOverwrite, Destination: dest, Reason: "destination exists"}, nil

	case PolicyRename:
		for n := 1; n <= r.maxAttempts; n++ {
			candidate := Suffixed(dest, n)
			if filepath.Clean(candidate) == filepath.Clean(source) {
				return Disposition{Action: ActionSkip, Destination: candidate, Reason: "already in place"}, nil
			}
			taken, _, err := view.Exists(candidate)
			if err != nil {
				return failed(candidate, cerrors.NewExecution(cerrors.ErrIOFailure, "check_destination", candidate, true, err))
			}
			if !taken {
				return Disposition{Action: ActionRename, Destination: candidate, Suffix: n, Reason: "destination exists"}, nil
			}
		}
		return failed(dest, cerrors.NewConflictUnresolved(dest, fmt.Sprintf("no free name after %d attempts", r.maxAttempts)))
	}

	return failed(dest, cerrors.NewInvalidRequest(fmt.Sprintf("unknown conflict policy %q", r.policy)))
}

func failed(dest string, err *cerrors.ChronoError) (Disposition, error) {
	return Disposition{Action: ActionError, Destination: dest, Reason: err.Message}, err
}

// Suffixed inserts "(n)" before the extension: a.txt becomes a(1).txt and
// .bashrc becomes .bashrc(1).
func Suffixed(path string, n int) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	return dir + fmt.Sprintf("%s(%d)%s", stem, n, ext)
}
