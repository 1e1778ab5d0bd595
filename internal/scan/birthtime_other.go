//go:build !linux

package scan

import (
	"time"

	"github.com/spf13/afero"
)

// birthTime is not available here; callers fall back to the modification time.
func birthTime(afero.Fs, string) time.Time {
	return time.Time{}
}
