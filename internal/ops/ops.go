package ops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	"github.com/hpungsan/chrono/internal/config"
	"github.com/hpungsan/chrono/internal/db"
	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/history"
)

// Runtime carries the collaborators every operation needs.
type Runtime struct {
	// DB stores history. Nil keeps history in memory for the life of the process.
	DB     *sql.DB
	Config *config.Config
	// BaseDir holds session lock files. Defaults to ~/.chrono.
	BaseDir string
	// Fs is the filesystem organized files live on. Defaults to the OS.
	Fs     afero.Fs
	Logger zerolog.Logger

	mem *history.MemoryStore
}

func (rt *Runtime) fs() afero.Fs {
	if rt.Fs == nil {
		rt.Fs = afero.NewOsFs()
	}
	return rt.Fs
}

func (rt *Runtime) config() *config.Config {
	if rt.Config == nil {
		rt.Config = config.DefaultConfig()
	}
	return rt.Config
}

func (rt *Runtime) store() history.Store {
	if rt.DB != nil {
		return db.NewHistoryStore(rt.DB)
	}
	if rt.mem == nil {
		rt.mem = history.NewMemoryStore()
	}
	return rt.mem
}

func (rt *Runtime) baseDir() (string, error) {
	if rt.BaseDir != "" {
		return rt.BaseDir, nil
	}
	return DefaultBaseDir()
}

// normalizeSession trims a session name and applies the default.
func normalizeSession(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return history.DefaultSession
	}
	return name
}

// session is an opened history with the session lock held.
type session struct {
	name    string
	exec    *fsops.Executor
	history *history.History
	lock    *flock.Flock
}

// Close releases the session lock.
func (s *session) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// openSession loads a session's history. With lock set, the session lock
// file is taken first so two processes never write the same history.
func (rt *Runtime) openSession(ctx context.Context, name string, lock bool) (*session, error) {
	name = normalizeSession(name)
	s := &session{
		name: name,
		exec: fsops.New(rt.fs(), rt.Logger),
	}

	if lock {
		l, err := rt.lockSession(name)
		if err != nil {
			return nil, err
		}
		s.lock = l
	}

	h, err := history.Open(ctx, s.exec, history.Options{
		Session:   name,
		MaxLevels: rt.config().MaxUndoLevels,
		Store:     rt.store(),
		Logger:    rt.Logger,
	})
	if err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	s.history = h
	return s, nil
}

// lockSession takes <base>/locks/<session>.lock without waiting.
func (rt *Runtime) lockSession(name string) (*flock.Flock, error) {
	base, err := rt.baseDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(base, "locks")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cerrors.NewInternal(errors.Errorf("create lock directory: %w", err))
	}

	l := flock.New(filepath.Join(dir, SanitizeForFilename(name)+".lock"))
	ok, err := l.TryLock()
	if err != nil {
		return nil, cerrors.NewInternal(errors.Errorf("lock session %s: %w", name, err))
	}
	if !ok {
		return nil, cerrors.NewEngineBusy("session " + name + " is in use by another chrono process").
			WithDetail("session", name)
	}
	return l, nil
}
