// Package fsops performs the file moves and copies an execution plan asks for.
package fsops

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fileinfo"
	"github.com/hpungsan/chrono/internal/ids"
)

// Kind is the operation an entry performs.
type Kind string

const (
	KindMove Kind = "move"
	KindCopy Kind = "copy"
)

// ParseKind accepts "move" or "copy"; empty means move.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindMove:
		return KindMove, nil
	case KindCopy:
		return KindCopy, nil
	}
	return "", cerrors.NewInvalidRequest("mode must be move or copy, got " + s)
}

// Stages reported in execution error details.
const (
	StageStatSource   = "stat_source"
	StageCheckDest    = "check_destination"
	StageCreateDirs   = "create_dirs"
	StageBackup       = "backup"
	StageRename       = "rename"
	StageCopy         = "copy"
	StageDeleteSource = "delete_source"
	StageRemove       = "remove"
	StageRestore      = "restore_backup"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Request describes one operation.
type Request struct {
	Kind        Kind
	Source      string
	Destination string
	// Overwrite allows replacing an existing destination file, which is
	// first moved aside to a backup.
	Overwrite bool
}

// Result records what Apply actually did, for the history.
type Result struct {
	Kind        Kind      `json:"kind"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	BackupPath  string    `json:"backup_path,omitempty"`
	CreatedDirs []string  `json:"created_dirs,omitempty"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	CrossDevice bool      `json:"cross_device,omitempty"`
}

// Executor applies requests to an afero filesystem.
type Executor struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// New returns an Executor over fsys.
func New(fsys afero.Fs, logger zerolog.Logger) *Executor {
	return &Executor{
		fs:     fsys,
		logger: logger.With().Str("component", "fsops").Logger(),
	}
}

// Fs returns the underlying filesystem.
func (e *Executor) Fs() afero.Fs { return e.fs }

// stageErr carries the step that failed and whether the source is untouched.
type stageErr struct {
	stage        string
	path         string
	sourceIntact bool
	err          error
}

func (s *stageErr) Error() string { return s.stage + " " + s.path + ": " + s.err.Error() }
func (s *stageErr) Unwrap() error { return s.err }

func fail(stage, path string, sourceIntact bool, err error) error {
	return &stageErr{stage: stage, path: path, sourceIntact: sourceIntact, err: err}
}

// Apply performs req. On failure the filesystem is left as it was, except for
// a cross-device move whose source could not be deleted, where the copy is
// removed again and the error says the source is intact.
func (e *Executor) Apply(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, cerrors.NewCancelled("apply")
	}
	res, err := e.apply(ctx, req)
	if err != nil {
		cErr := toChronoError(err)
		e.logger.Debug().Err(err).Str("source", req.Source).Str("destination", req.Destination).Msg("apply failed")
		return nil, cErr
	}
	e.logger.Debug().
		Str("kind", string(res.Kind)).
		Str("source", res.Source).
		Str("destination", res.Destination).
		Bool("cross_device", res.CrossDevice).
		Msg("applied")
	return res, nil
}

func (e *Executor) apply(ctx context.Context, req Request) (*Result, error) {
	srcInfo, err := e.lstat(req.Source)
	if err != nil {
		return nil, fail(StageStatSource, req.Source, true, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return nil, cerrors.NewInvalidRequest("source is not a regular file: " + req.Source)
	}

	destInfo, err := e.lstat(req.Destination)
	switch {
	case err == nil && (destInfo.IsDir() || !req.Overwrite):
		return nil, fail(StageCheckDest, req.Destination, true, fs.ErrExist)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fail(StageCheckDest, req.Destination, true, err)
	}
	destExists := err == nil

	created, err := e.ensureDir(filepath.Dir(req.Destination))
	if err != nil {
		return nil, fail(StageCreateDirs, filepath.Dir(req.Destination), true, err)
	}

	res := &Result{
		Kind:        req.Kind,
		Source:      req.Source,
		Destination: req.Destination,
		CreatedDirs: created,
	}

	if destExists {
		backup := siblingName(req.Destination, fileinfo.BackupMarker)
		if err := e.fs.Rename(req.Destination, backup); err != nil {
			e.PruneDirs(created)
			return nil, fail(StageBackup, req.Destination, true, err)
		}
		res.BackupPath = backup
	}

	undo := func() {
		if res.BackupPath != "" {
			if err := e.fs.Rename(res.BackupPath, req.Destination); err != nil {
				e.logger.Error().Err(err).Str("backup", res.BackupPath).Msg("could not restore backup")
			}
		}
		e.PruneDirs(created)
	}

	switch req.Kind {
	case KindMove:
		err = e.move(ctx, req.Source, req.Destination, srcInfo.ModTime(), res)
	case KindCopy:
		err = e.copyFile(ctx, req.Source, req.Destination, srcInfo.ModTime())
	default:
		err = cerrors.NewInvalidRequest("unknown operation kind " + string(req.Kind))
	}
	if err != nil {
		undo()
		return nil, err
	}

	// The operation is done; a failed stat must not hide it from the history.
	info, err := e.fs.Stat(req.Destination)
	if err != nil {
		e.logger.Warn().Err(err).Str("destination", req.Destination).Msg("stat after apply failed; using source metadata")
		info = srcInfo
	}
	res.Size = info.Size()
	res.ModTime = info.ModTime()
	return res, nil
}

// move renames, falling back to copy-then-delete across devices.
func (e *Executor) move(ctx context.Context, src, dst string, modTime time.Time, res *Result) error {
	err := e.fs.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fail(StageRename, src, true, err)
	}

	res.CrossDevice = true
	e.logger.Debug().Str("source", src).Msg("cross-device move, copying")
	if err := e.copyFile(ctx, src, dst, modTime); err != nil {
		return err
	}
	if err := e.fs.Remove(src); err != nil {
		if rmErr := e.fs.Remove(dst); rmErr != nil {
			e.logger.Error().Err(rmErr).Str("path", dst).Msg("could not remove copy after failed source delete")
		}
		return fail(StageDeleteSource, src, true, err)
	}
	return nil
}

// copyFile streams src into a hidden temp file next to dst, then renames it
// into place so a partial destination is never visible.
func (e *Executor) copyFile(ctx context.Context, src, dst string, modTime time.Time) error {
	in, err := e.fs.Open(src)
	if err != nil {
		return fail(StageCopy, src, true, err)
	}
	defer in.Close()

	tmp := siblingName(dst, fileinfo.TempMarker)
	out, err := e.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return fail(StageCopy, dst, true, err)
	}
	cleanup := func() {
		_ = out.Close()
		_ = e.fs.Remove(tmp)
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		cleanup()
		return fail(StageCopy, dst, true, err)
	}
	if err := out.Sync(); err != nil {
		cleanup()
		return fail(StageCopy, dst, true, err)
	}
	if err := out.Close(); err != nil {
		_ = e.fs.Remove(tmp)
		return fail(StageCopy, dst, true, err)
	}
	if err := e.fs.Chtimes(tmp, modTime, modTime); err != nil {
		e.logger.Warn().Err(err).Str("path", tmp).Msg("could not set modification time")
	}
	if err := e.fs.Rename(tmp, dst); err != nil {
		_ = e.fs.Remove(tmp)
		return fail(StageRename, dst, true, err)
	}
	return nil
}

// MoveFile moves src to dst without overwriting, creating dst's parent.
// Used when reversing a move.
func (e *Executor) MoveFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return cerrors.NewCancelled("move")
	}
	if _, err := e.lstat(dst); err == nil {
		return toChronoError(fail(StageCheckDest, dst, true, fs.ErrExist))
	}
	srcInfo, err := e.lstat(src)
	if err != nil {
		return toChronoError(fail(StageStatSource, src, true, err))
	}
	if _, err := e.ensureDir(filepath.Dir(dst)); err != nil {
		return toChronoError(fail(StageCreateDirs, filepath.Dir(dst), true, err))
	}
	var res Result
	if err := e.move(ctx, src, dst, srcInfo.ModTime(), &res); err != nil {
		return toChronoError(err)
	}
	return nil
}

// Remove deletes one file.
func (e *Executor) Remove(path string) error {
	if err := e.fs.Remove(path); err != nil {
		return toChronoError(fail(StageRemove, path, false, err))
	}
	return nil
}

// RestoreBackup moves a backup made by Apply back to dest. dest must be free.
func (e *Executor) RestoreBackup(backup, dest string) error {
	if _, err := e.lstat(dest); err == nil {
		return toChronoError(fail(StageRestore, dest, true, fs.ErrExist))
	}
	if err := e.fs.Rename(backup, dest); err != nil {
		return toChronoError(fail(StageRestore, backup, true, err))
	}
	return nil
}

// PruneDirs removes the given directories, deepest first, when they are empty.
// It returns the directories it removed.
func (e *Executor) PruneDirs(dirs []string) []string {
	ordered := append([]string(nil), dirs...)
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	var removed []string
	for _, d := range ordered {
		entries, err := afero.ReadDir(e.fs, d)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := e.fs.Remove(d); err == nil {
			removed = append(removed, d)
		}
	}
	return removed
}

// Stat returns file info without following a final symlink.
func (e *Executor) Stat(path string) (fs.FileInfo, error) {
	return e.lstat(path)
}

// Exists reports whether anything is at path.
func (e *Executor) Exists(path string) (bool, error) {
	_, err := e.lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (e *Executor) lstat(path string) (fs.FileInfo, error) {
	if l, ok := e.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(path)
		return fi, err
	}
	return e.fs.Stat(path)
}

// ensureDir creates dir and returns the directories that did not exist, outermost first.
func (e *Executor) ensureDir(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		_, err := e.fs.Stat(d)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	if err := e.fs.MkdirAll(dir, dirPerm); err != nil {
		e.PruneDirs(missing)
		return nil, err
	}
	return missing, nil
}

// siblingName returns a hidden path next to path tagged with marker.
func siblingName(path, marker string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+marker+ids.New())
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Classify maps an OS error to an execution error code.
func Classify(err error) cerrors.ErrorCode {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return cerrors.ErrPermissionDenied
	case errors.Is(err, syscall.ENOSPC):
		return cerrors.ErrDiskFull
	case errors.Is(err, fs.ErrNotExist):
		return cerrors.ErrSourceMissing
	case errors.Is(err, fs.ErrExist):
		return cerrors.ErrDestinationExists
	case errors.Is(err, syscall.EXDEV):
		return cerrors.ErrCrossDevice
	}
	return cerrors.ErrIOFailure
}

func toChronoError(err error) error {
	if _, ok := cerrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cerrors.NewCancelled("apply")
	}
	var se *stageErr
	if errors.As(err, &se) {
		return cerrors.NewExecution(Classify(se.err), se.stage, se.path, se.sourceIntact,
			errors.Errorf("%s: %w", se.stage, se.err))
	}
	return cerrors.NewExecution(Classify(err), "apply", "", true, err)
}
