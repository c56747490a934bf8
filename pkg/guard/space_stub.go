//go:build !linux
// +build !linux

package guard

import (
	"fmt"
	"runtime"
)

// StatfsChecker is unsupported on non-Linux systems
type StatfsChecker struct{}

func (StatfsChecker) Free(path string) (uint64, error) {
	return 0, fmt.Errorf("free space check not supported on %s", runtime.GOOS)
}
