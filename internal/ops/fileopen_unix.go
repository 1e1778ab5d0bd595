//go:build !windows

package ops

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	cerrors "github.com/hpungsan/chrono/internal/errors"
)

// openNoFollow opens path without following a symlink in its final
// component. Parent directories are covered by ValidatePath.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := unix.Open(path, flag|unix.O_NOFOLLOW|unix.O_CLOEXEC, uint32(perm.Perm()))
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case errors.Is(err, unix.ELOOP):
		return nil, cerrors.NewInvalidRequest("path is a symlink").WithDetail("path", path)
	case errors.Is(err, unix.ENOENT) && flag&os.O_CREATE == 0:
		return nil, cerrors.NewFileNotFound(path)
	}
	return nil, &os.PathError{Op: "open", Path: path, Err: err}
}

func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return openNoFollow(path, flag, perm)
}

func openFileNoFollowRead(path string) (*os.File, error) {
	return openNoFollow(path, os.O_RDONLY, 0)
}
