//go:build linux
// +build linux

package blockdev

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/piprov/piprov/pkg/errors"
)

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// LinuxManager implements Manager with util-linux tools
type LinuxManager struct {
	run runFunc
}

// NewManager creates a Linux block device manager
func NewManager() (Manager, error) {
	slog.Debug("blockdev_init", "platform", "linux")
	return &LinuxManager{run: runCommand}, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (m *LinuxManager) ListRemovable(ctx context.Context) ([]*Device, error) {
	out, err := m.run(ctx, "lsblk", "-J", "-b", "-o", lsblkColumns)
	if err != nil {
		slog.Error("lsblk_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list block devices")
	}

	devices, err := parseLsblk(out)
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		slog.Debug("removable_device_found", "device", d.Path, "size", d.Size, "model", d.Model, "transport", d.Transport)
	}
	return devices, nil
}

func (m *LinuxManager) IsMounted(ctx context.Context, target string) (bool, error) {
	out, err := m.run(ctx, "findmnt", "-J", target)
	if err != nil {
		// findmnt exits 1 when nothing matches.
		var ee *exec.ExitError
		if stderrors.As(err, &ee) && ee.ExitCode() == 1 {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to query mounts")
	}
	return parseFindmnt(out)
}

func (m *LinuxManager) Mount(ctx context.Context, devicePath, mountPath string) error {
	slog.Info("mount_partition", "device", devicePath, "path", mountPath)

	if _, err := m.run(ctx, "mount", devicePath, mountPath); err != nil {
		slog.Error("mount_failed", "device", devicePath, "path", mountPath, "error", err)
		return errors.Wrap(err, "failed to mount partition")
	}
	return nil
}

func (m *LinuxManager) Unmount(ctx context.Context, target string) error {
	slog.Info("unmount_partition", "path", target)

	if _, err := m.run(ctx, "umount", target); err != nil {
		slog.Error("unmount_failed", "path", target, "error", err)
		return errors.Wrap(err, "failed to unmount")
	}
	return nil
}

func (m *LinuxManager) Rescan(ctx context.Context, devicePath string) error {
	if _, err := m.run(ctx, "partprobe", devicePath); err != nil {
		slog.Debug("partprobe_failed", "device", devicePath, "error", err)
		if _, err := m.run(ctx, "blockdev", "--rereadpt", devicePath); err != nil {
			return errors.Wrap(err, "failed to re-read partition table")
		}
	}
	if _, err := m.run(ctx, "udevadm", "settle"); err != nil {
		slog.Debug("udevadm_settle_failed", "error", err)
	}
	return nil
}
