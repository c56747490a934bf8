//go:build linux
// +build linux

package guard

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/piprov/piprov/pkg/errors"
)

// StatfsChecker measures free space with statfs(2).
type StatfsChecker struct{}

// Free reports the space available at path, or at its nearest existing
// ancestor when path has not been created yet.
func (StatfsChecker) Free(path string) (uint64, error) {
	dir := filepath.Clean(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, errors.Wrap(err, "statfs "+dir)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
