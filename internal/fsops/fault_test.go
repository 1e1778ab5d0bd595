package fsops

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// faultFs injects errors for chosen paths on top of a real afero.Fs.
type faultFs struct {
	afero.Fs
	renameErr map[string]error // keyed by old path
	removeErr map[string]error
	openErr   map[string]error // keyed by directory of the file opened for writing
	statErr   map[string]error // only once the path exists
}

func newFaultFs(base afero.Fs) *faultFs {
	return &faultFs{
		Fs:        base,
		renameErr: make(map[string]error),
		removeErr: make(map[string]error),
		openErr:   make(map[string]error),
		statErr:   make(map[string]error),
	}
}

func (f *faultFs) Stat(name string) (os.FileInfo, error) {
	info, err := f.Fs.Stat(name)
	if err == nil {
		if serr, ok := f.statErr[name]; ok {
			return nil, &os.PathError{Op: "stat", Path: name, Err: serr}
		}
	}
	return info, err
}

func (f *faultFs) Rename(oldname, newname string) error {
	if err, ok := f.renameErr[oldname]; ok {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *faultFs) Remove(name string) error {
	if err, ok := f.removeErr[name]; ok {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	return f.Fs.Remove(name)
}

func (f *faultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 {
		if err, ok := f.openErr[filepath.Dir(name)]; ok {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func crossDevice(f *faultFs, src string) {
	f.renameErr[src] = syscall.EXDEV
}

func listHidden(fs afero.Fs, dir string) []string {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil
	}
	var hidden []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			hidden = append(hidden, e.Name())
		}
	}
	return hidden
}
