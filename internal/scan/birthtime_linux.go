//go:build linux

package scan

import (
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// birthTime reads the creation time through statx. Zero when the filesystem
// does not record it or fs is not the OS filesystem.
func birthTime(fs afero.Fs, path string) time.Time {
	if _, ok := fs.(*afero.OsFs); !ok {
		return time.Time{}
	}
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx); err != nil {
		return time.Time{}
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
}
