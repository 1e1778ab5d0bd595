// Package history keeps the reversible record of applied file operations.
package history

import (
	"context"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fsops"
	"github.com/hpungsan/chrono/internal/ids"
)

// DefaultMaxLevels is the default number of records kept per session.
const DefaultMaxLevels = 50

// DefaultSession names the history used when callers do not pick one.
const DefaultSession = "default"

// Record is one applied operation with everything needed to reverse it.
type Record struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"seq"`
	BatchID     string     `json:"batch_id,omitempty"`
	Kind        fsops.Kind `json:"kind"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	BackupPath  string     `json:"backup_path,omitempty"`
	CreatedDirs []string   `json:"created_dirs,omitempty"`
	Size        int64      `json:"size"`
	ModTime     time.Time  `json:"mod_time"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (r Record) clone() Record {
	r.CreatedDirs = append([]string(nil), r.CreatedDirs...)
	return r
}

// Snapshot is the persisted state of one session. Applied is oldest first;
// Undone is in undo order, so its last element is redone first.
type Snapshot struct {
	Applied []Record `json:"applied"`
	Undone  []Record `json:"undone"`
	NextSeq int64    `json:"next_seq"`
}

func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		Applied: cloneRecords(s.Applied),
		Undone:  cloneRecords(s.Undone),
		NextSeq: s.NextSeq,
	}
}

func cloneRecords(in []Record) []Record {
	if len(in) == 0 {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}

// Store persists snapshots. Load returns an empty snapshot for an unknown session.
type Store interface {
	Load(ctx context.Context, session string) (*Snapshot, error)
	Save(ctx context.Context, session string, snap *Snapshot) error
}

// Executor is the filesystem surface history needs.
type Executor interface {
	Apply(ctx context.Context, req fsops.Request) (*fsops.Result, error)
	MoveFile(ctx context.Context, src, dst string) error
	Remove(path string) error
	RestoreBackup(backup, dest string) error
	PruneDirs(dirs []string) []string
	Stat(path string) (fs.FileInfo, error)
}

// Options configures a History.
type Options struct {
	Session   string
	MaxLevels int
	Store     Store // nil keeps history in memory only
	Logger    zerolog.Logger
}

// History is a linear undo/redo stack. All methods are safe for concurrent use.
type History struct {
	mu      sync.Mutex
	exec    Executor
	store   Store
	session string
	max     int
	snap    *Snapshot
	logger  zerolog.Logger
}

// Open loads the session's snapshot from the store.
func Open(ctx context.Context, exec Executor, opts Options) (*History, error) {
	if opts.Session == "" {
		opts.Session = DefaultSession
	}
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = DefaultMaxLevels
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}

	snap, err := opts.Store.Load(ctx, opts.Session)
	if err != nil {
		return nil, cerrors.NewInternal(errors.Errorf("load history %s: %w", opts.Session, err))
	}
	if snap == nil {
		snap = &Snapshot{}
	}
	if snap.NextSeq < 1 {
		snap.NextSeq = 1
	}

	return &History{
		exec:    exec,
		store:   opts.Store,
		session: opts.Session,
		max:     opts.MaxLevels,
		snap:    snap,
		logger:  opts.Logger.With().Str("component", "history").Str("session", opts.Session).Logger(),
	}, nil
}

// Session returns the session name.
func (h *History) Session() string { return h.session }

// Push records an applied operation and discards the redo stack. Records past
// the depth limit are dropped oldest first, along with their backups.
func (h *History) Push(ctx context.Context, batchID string, res *fsops.Result) (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := Record{
		ID:          ids.New(),
		Seq:         h.snap.NextSeq,
		BatchID:     batchID,
		Kind:        res.Kind,
		Source:      res.Source,
		Destination: res.Destination,
		BackupPath:  res.BackupPath,
		CreatedDirs: append([]string(nil), res.CreatedDirs...),
		Size:        res.Size,
		ModTime:     res.ModTime,
		CreatedAt:   time.Now().UTC(),
	}
	h.snap.NextSeq++
	h.snap.Applied = append(h.snap.Applied, rec)
	h.snap.Undone = nil

	if over := len(h.snap.Applied) - h.max; over > 0 {
		for _, old := range h.snap.Applied[:over] {
			h.discardBackup(old)
		}
		h.snap.Applied = append([]Record(nil), h.snap.Applied[over:]...)
	}

	return rec.clone(), h.save(ctx)
}

// Peek returns the record UndoLast would reverse.
func (h *History) Peek() (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.snap.Applied) == 0 {
		return Record{}, false
	}
	return h.snap.Applied[len(h.snap.Applied)-1].clone(), true
}

// Records returns the applied records, oldest first.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneRecords(h.snap.Applied)
}

// Redoable returns the undone records, next to redo last.
func (h *History) Redoable() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneRecords(h.snap.Undone)
}

// CanUndo reports whether an applied record exists.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snap.Applied) > 0
}

// CanRedo reports whether an undone record exists.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snap.Undone) > 0
}

// UndoLast reverses the most recent applied record. On failure the record
// stays applied and the filesystem is left as it was. A PersistError comes
// with the undone record.
func (h *History) UndoLast(ctx context.Context) (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.snap.Applied) == 0 {
		return Record{}, cerrors.NewNothingToUndo()
	}
	rec, err := h.undoTopLocked(ctx)
	if err != nil {
		return Record{}, err
	}
	return rec, h.save(ctx)
}

// UndoBatch reverses every record of the most recent batch, newest first.
// It stops at the first failure and returns the records undone so far.
func (h *History) UndoBatch(ctx context.Context) ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.snap.Applied) == 0 {
		return nil, cerrors.NewNothingToUndo()
	}
	batch := h.snap.Applied[len(h.snap.Applied)-1].BatchID

	var undone []Record
	for len(h.snap.Applied) > 0 {
		top := h.snap.Applied[len(h.snap.Applied)-1]
		if len(undone) > 0 && (batch == "" || top.BatchID != batch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return undone, h.finishBatch(ctx, cerrors.NewCancelled("undo batch"))
		}
		rec, err := h.undoTopLocked(ctx)
		if err != nil {
			return undone, h.finishBatch(ctx, err)
		}
		undone = append(undone, rec)
	}
	return undone, h.save(ctx)
}

func (h *History) finishBatch(ctx context.Context, cause error) error {
	if err := h.save(ctx); err != nil {
		h.logger.Error().Err(err).Msg("could not persist partial batch undo")
	}
	return cause
}

// RedoLast re-applies the most recently undone record. A PersistError comes
// with the redone record.
func (h *History) RedoLast(ctx context.Context) (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.snap.Undone) == 0 {
		return Record{}, cerrors.NewNothingToRedo()
	}
	rec := h.snap.Undone[len(h.snap.Undone)-1]

	res, err := h.exec.Apply(ctx, fsops.Request{
		Kind:        rec.Kind,
		Source:      rec.Source,
		Destination: rec.Destination,
		Overwrite:   rec.BackupPath != "",
	})
	if err != nil {
		switch cerrors.CodeOf(err) {
		case cerrors.ErrDestinationExists:
			return Record{}, cerrors.NewUndoConflict(rec.Destination, "destination is occupied")
		case cerrors.ErrSourceMissing:
			return Record{}, cerrors.NewUndoMissing(rec.Source)
		}
		return Record{}, err
	}

	rec.BackupPath = res.BackupPath
	rec.CreatedDirs = append([]string(nil), res.CreatedDirs...)
	rec.Size = res.Size
	rec.ModTime = res.ModTime

	h.snap.Undone = h.snap.Undone[:len(h.snap.Undone)-1]
	h.snap.Applied = append(h.snap.Applied, rec)
	h.logger.Info().Int64("seq", rec.Seq).Str("kind", string(rec.Kind)).Str("destination", rec.Destination).Msg("redone")
	return rec.clone(), h.save(ctx)
}

// Clear drops every record and deletes backups that can no longer be restored.
func (h *History) Clear(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.snap.Applied) + len(h.snap.Undone)
	for _, r := range h.snap.Applied {
		h.discardBackup(r)
	}
	h.snap.Applied = nil
	h.snap.Undone = nil
	return n, h.save(ctx)
}

// Replace swaps in an imported snapshot. Used by history import.
func (h *History) Replace(ctx context.Context, snap *Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := snap.clone()
	for _, r := range next.Applied {
		if r.Seq >= next.NextSeq {
			next.NextSeq = r.Seq + 1
		}
	}
	for _, r := range next.Undone {
		if r.Seq >= next.NextSeq {
			next.NextSeq = r.Seq + 1
		}
	}
	if next.NextSeq < 1 {
		next.NextSeq = 1
	}
	h.snap = next
	return h.save(ctx)
}

func (h *History) undoTopLocked(ctx context.Context) (Record, error) {
	rec := h.snap.Applied[len(h.snap.Applied)-1]
	if err := h.reverse(ctx, rec); err != nil {
		h.logger.Warn().Err(err).Int64("seq", rec.Seq).Msg("undo failed")
		return Record{}, err
	}
	h.snap.Applied = h.snap.Applied[:len(h.snap.Applied)-1]
	undone := rec.clone()
	// BackupPath stays set so redo overwrites again; the backup file itself was restored.
	undone.CreatedDirs = nil
	h.snap.Undone = append(h.snap.Undone, undone)
	h.logger.Info().Int64("seq", rec.Seq).Str("kind", string(rec.Kind)).Str("source", rec.Source).Msg("undone")
	return rec.clone(), nil
}

// reverse undoes one record on disk.
func (h *History) reverse(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return cerrors.NewCancelled("undo")
	}

	info, err := h.exec.Stat(rec.Destination)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cerrors.NewUndoMissing(rec.Destination)
		}
		return cerrors.NewExecution(fsops.Classify(err), "stat_destination", rec.Destination, true, err)
	}
	if info.IsDir() || info.Size() != rec.Size || !info.ModTime().Equal(rec.ModTime) {
		return cerrors.NewUndoConflict(rec.Destination, "destination changed since the operation ran")
	}
	if rec.BackupPath != "" {
		if _, err := h.exec.Stat(rec.BackupPath); err != nil {
			return cerrors.NewUndoMissing(rec.BackupPath)
		}
	}

	switch rec.Kind {
	case fsops.KindMove:
		if _, err := h.exec.Stat(rec.Source); err == nil {
			return cerrors.NewUndoConflict(rec.Source, "source path is occupied")
		}
		if err := h.exec.MoveFile(ctx, rec.Destination, rec.Source); err != nil {
			if cerrors.Is(err, cerrors.ErrDestinationExists) {
				return cerrors.NewUndoConflict(rec.Source, "source path is occupied")
			}
			return err
		}
		if rec.BackupPath != "" {
			if err := h.exec.RestoreBackup(rec.BackupPath, rec.Destination); err != nil {
				if rbErr := h.exec.MoveFile(ctx, rec.Source, rec.Destination); rbErr != nil {
					h.logger.Error().Err(rbErr).Str("path", rec.Source).Msg("could not roll back partial undo")
				}
				return err
			}
		}

	case fsops.KindCopy:
		if err := h.exec.Remove(rec.Destination); err != nil {
			return err
		}
		if rec.BackupPath != "" {
			if err := h.exec.RestoreBackup(rec.BackupPath, rec.Destination); err != nil {
				if _, rbErr := h.exec.Apply(ctx, fsops.Request{Kind: fsops.KindCopy, Source: rec.Source, Destination: rec.Destination}); rbErr != nil {
					h.logger.Error().Err(rbErr).Str("path", rec.Destination).Msg("could not roll back partial undo")
				}
				return err
			}
		}

	default:
		return cerrors.NewInternal(errors.Errorf("unknown record kind %q", rec.Kind))
	}

	h.exec.PruneDirs(rec.CreatedDirs)
	return nil
}

func (h *History) discardBackup(r Record) {
	if r.BackupPath == "" {
		return
	}
	if err := h.exec.Remove(r.BackupPath); err != nil && !cerrors.Is(err, cerrors.ErrSourceMissing) {
		h.logger.Warn().Err(err).Str("backup", r.BackupPath).Msg("could not delete backup")
	}
}

func (h *History) save(ctx context.Context) error {
	if err := h.store.Save(ctx, h.session, h.snap.clone()); err != nil {
		return &PersistError{Err: cerrors.NewInternal(errors.Errorf("save history %s: %w", h.session, err))}
	}
	return nil
}

// PersistError means the change took effect on disk and in memory but the
// store could not be updated. Results returned alongside it are valid.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string { return e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// NotPersisted reports whether err only signals a failed store update.
func NotPersisted(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, session string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snaps[session]; ok {
		return s.clone(), nil
	}
	return &Snapshot{NextSeq: 1}, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, session string, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[session] = snap.clone()
	return nil
}
