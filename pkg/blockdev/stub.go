//go:build !linux
// +build !linux

package blockdev

import (
	"context"
	"fmt"
	"runtime"
)

// StubManager reports every operation as unsupported on non-Linux systems
type StubManager struct{}

// NewManager creates a stub manager on non-Linux systems
func NewManager() (Manager, error) {
	return &StubManager{}, nil
}

func (m *StubManager) ListRemovable(ctx context.Context) ([]*Device, error) {
	return nil, fmt.Errorf("block device discovery not supported on %s", runtime.GOOS)
}

func (m *StubManager) IsMounted(ctx context.Context, target string) (bool, error) {
	return false, fmt.Errorf("mount queries not supported on %s", runtime.GOOS)
}

func (m *StubManager) Mount(ctx context.Context, devicePath, mountPath string) error {
	return fmt.Errorf("mount not supported on %s", runtime.GOOS)
}

func (m *StubManager) Unmount(ctx context.Context, target string) error {
	return fmt.Errorf("unmount not supported on %s", runtime.GOOS)
}

func (m *StubManager) Rescan(ctx context.Context, devicePath string) error {
	return fmt.Errorf("partition rescan not supported on %s", runtime.GOOS)
}
