// Package scan enumerates candidate files for the organization engine.
package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fileinfo"
)

// Source streams file metadata for dir into out. Implementations close out
// when they return.
type Source interface {
	Stream(ctx context.Context, dir string, out chan<- fileinfo.FileMeta) error
}

// Options controls what a Scanner visits.
type Options struct {
	Recursive     bool
	IncludeHidden bool
}

// Scanner walks an afero filesystem.
type Scanner struct {
	fs     afero.Fs
	opts   Options
	logger zerolog.Logger
}

var _ Source = (*Scanner)(nil)

// New returns a Scanner over fs.
func New(fs afero.Fs, opts Options, logger zerolog.Logger) *Scanner {
	return &Scanner{
		fs:     fs,
		opts:   opts,
		logger: logger.With().Str("component", "scan").Logger(),
	}
}

// Stream sends every regular file under dir to out and closes out.
// Unreadable subdirectories are logged and skipped; an unreadable dir fails the scan.
func (s *Scanner) Stream(ctx context.Context, dir string, out chan<- fileinfo.FileMeta) error {
	defer close(out)

	root, err := filepath.Abs(dir)
	if err != nil {
		return cerrors.NewInvalidRequest("invalid source directory: " + err.Error())
	}

	info, err := s.fs.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cerrors.NewFileNotFound(root)
		}
		return cerrors.NewExecution(cerrors.ErrIOFailure, "scan", root, true, errors.Errorf("stat source: %w", err))
	}
	if !info.IsDir() {
		return cerrors.NewInvalidRequest("source is not a directory: " + root)
	}

	count := 0
	err = afero.Walk(s.fs, root, func(path string, fi os.FileInfo, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			if path == root {
				return errors.Errorf("read source: %w", walkErr)
			}
			s.logger.Warn().Err(walkErr).Str("path", path).Msg("skipping unreadable entry")
			return nil
		}

		name := fi.Name()
		if fi.IsDir() {
			if path == root {
				return nil
			}
			if !s.opts.Recursive || (!s.opts.IncludeHidden && isHidden(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		if fileinfo.IsInternal(name) || (!s.opts.IncludeHidden && isHidden(name)) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.Errorf("relative path for %s: %w", path, err)
		}

		meta := fileinfo.New(path, rel, fi.Size(), birthTime(s.fs, path), fi.ModTime())
		select {
		case out <- meta:
			count++
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return cerrors.NewCancelled("scan")
		}
		if _, ok := cerrors.As(err); ok {
			return err
		}
		return cerrors.NewExecution(cerrors.ErrIOFailure, "scan", root, true, err)
	}

	s.logger.Debug().Str("dir", root).Int("files", count).Msg("scan finished")
	return nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
