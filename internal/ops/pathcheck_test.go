package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/chrono/internal/config"
	cerrors "github.com/hpungsan/chrono/internal/errors"
)

// pathFixture is a temp dir holding an existing export, a nested directory,
// a symlinked file and a symlinked directory.
type pathFixture struct {
	dir, existing, nested, linkFile, linkDir string
}

func newPathFixture(t *testing.T) pathFixture {
	t.Helper()
	dir := t.TempDir()
	f := pathFixture{
		dir:      dir,
		existing: filepath.Join(dir, "books.jsonl"),
		nested:   filepath.Join(dir, "sub", "books.jsonl"),
		linkFile: filepath.Join(dir, "link.jsonl"),
		linkDir:  filepath.Join(dir, "linkdir"),
	}
	require.NoError(t, os.WriteFile(f.existing, []byte("{}\n"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Dir(f.nested), 0o700))
	require.NoError(t, os.WriteFile(f.nested, []byte("{}\n"), 0o600))
	require.NoError(t, os.Symlink(f.existing, f.linkFile))
	require.NoError(t, os.Symlink(filepath.Dir(f.nested), f.linkDir))
	return f
}

func TestValidatePath(t *testing.T) {
	f := newPathFixture(t)

	allowed := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.AllowedPaths = []string{f.dir}
		return cfg
	}
	unsafe := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.AllowUnsafePaths = true
		return cfg
	}

	tests := []struct {
		name     string
		path     string
		mode     PathCheckMode
		cfg      *config.Config
		wantCode cerrors.ErrorCode // "" means valid
	}{
		{"empty", "", PathCheckWrite, allowed(), cerrors.ErrInvalidRequest},
		{"relative traversal", "../books.jsonl", PathCheckWrite, unsafe(), cerrors.ErrInvalidRequest},
		{"traversal inside allowed dir", f.dir + "/x/../books.jsonl", PathCheckRead, allowed(), cerrors.ErrInvalidRequest},
		{"wrong extension", filepath.Join(f.dir, "books.json"), PathCheckWrite, unsafe(), cerrors.ErrInvalidRequest},
		{"no extension", filepath.Join(f.dir, "books"), PathCheckWrite, unsafe(), cerrors.ErrInvalidRequest},
		{"outside allowed dirs", "/tmp/chrono-elsewhere/books.jsonl", PathCheckWrite, config.DefaultConfig(), cerrors.ErrInvalidRequest},
		{"nil config keeps the exports dir only", f.existing, PathCheckRead, nil, cerrors.ErrInvalidRequest},
		{"nested below allowed dir", f.nested, PathCheckRead, allowed(), cerrors.ErrInvalidRequest},
		{"parent is a symlink", filepath.Join(f.linkDir, "books.jsonl"), PathCheckRead, allowed(), cerrors.ErrInvalidRequest},
		{"file is a symlink", f.linkFile, PathCheckRead, allowed(), cerrors.ErrInvalidRequest},
		{"symlink refused even when unsafe", f.linkFile, PathCheckWrite, unsafe(), cerrors.ErrInvalidRequest},
		{"missing file for read", filepath.Join(f.dir, "missing.jsonl"), PathCheckRead, allowed(), cerrors.ErrFileNotFound},

		{"existing file in allowed dir", f.existing, PathCheckRead, allowed(), ""},
		{"new file in allowed dir", filepath.Join(f.dir, "new.jsonl"), PathCheckWrite, allowed(), ""},
		{"overwrite in allowed dir", f.existing, PathCheckWrite, allowed(), ""},
		{"unsafe allows nested", f.nested, PathCheckRead, unsafe(), ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, tc.mode, tc.cfg)
			if tc.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.wantCode, cerrors.CodeOf(err), "error: %v", err)
		})
	}
}

func TestValidatePath_SymlinkedAllowedDir(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "exports")
	require.NoError(t, os.Symlink(real, link))

	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{link}

	// The allowed entry is resolved, so the real directory is accepted.
	require.NoError(t, ValidatePath(filepath.Join(real, "books.jsonl"), PathCheckWrite, cfg))
}

func TestAllowedDirs_IgnoresRelativeEntries(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{"relative/dir", t.TempDir()}

	dirs, err := allowedDirs(cfg)
	require.NoError(t, err)
	require.Len(t, dirs, 2, "exports dir plus the one absolute entry")
}

func TestContainsTraversal(t *testing.T) {
	cases := map[string]bool{
		"/home/user/books.jsonl":         false,
		"./books.jsonl":                  false,
		"books..v2.jsonl":                false,
		"/home/user/.chrono/books.jsonl": false,
		"../books.jsonl":                 true,
		"/home/../etc/books.jsonl":       true,
		"a/b/..":                         true,
	}
	for path, want := range cases {
		require.Equal(t, want, containsTraversal(path), path)
	}
}

func TestSanitizeForFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"default", "default"},
		{"photo import", "photo import"},
		{"2024/invoices", "2024-invoices"},
		{`C:\Users\me`, "C:-Users-me"},
		{"a..b", "a-b"},
		{"../../etc/passwd", "etc-passwd"},
		{"tab\there", "tabhere"},
		{"nul\x00byte", "nulbyte"},
		{"a---b", "a-b"},
		{"--trim--", "trim"},
		{"../..", "unnamed"},
		{"", "unnamed"},
		{"ärzte-2024", "ärzte-2024"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, SanitizeForFilename(c.in), "input %q", c.in)
	}
}
