// Package guard enforces the preconditions that must hold before anything
// destructive happens to a removable device.
package guard

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/piprov/piprov/pkg/blockdev"
	"github.com/piprov/piprov/pkg/errors"
)

// TargetDevice is the single removable device selected for provisioning.
type TargetDevice struct {
	Path     string
	Capacity int64
	Model    string
	Boot     string
	Root     string

	device *blockdev.Device
}

// Partitions returns the boot and root partition nodes.
func (t *TargetDevice) Partitions() (boot, root string) {
	return t.Boot, t.Root
}

// DeviceLister discovers removable devices.
type DeviceLister interface {
	ListRemovable(ctx context.Context) ([]*blockdev.Device, error)
}

// Unmounter releases mounted partitions.
type Unmounter interface {
	IsMounted(ctx context.Context, target string) (bool, error)
	Unmount(ctx context.Context, target string) error
}

// SpaceChecker reports free bytes available to unprivileged writes at path.
type SpaceChecker interface {
	Free(path string) (uint64, error)
}

// Confirmer asks the operator to confirm the device and returns their answer.
type Confirmer interface {
	Confirm(ctx context.Context, device *TargetDevice) (string, error)
}

// Guard checks device and disk preconditions.
type Guard struct {
	devices     DeviceLister
	mounts      Unmounter
	space       SpaceChecker
	confirmer   Confirmer
	minCapacity int64
	minFree     int64
}

// New creates a guard with the given thresholds.
func New(devices DeviceLister, mounts Unmounter, space SpaceChecker, confirmer Confirmer, minCapacity, minFree int64) *Guard {
	return &Guard{
		devices:     devices,
		mounts:      mounts,
		space:       space,
		confirmer:   confirmer,
		minCapacity: minCapacity,
		minFree:     minFree,
	}
}

// Detect returns the only removable device, failing when there is none or
// more than one, or when it is too small.
func (g *Guard) Detect(ctx context.Context) (*TargetDevice, error) {
	devices, err := g.devices.ListRemovable(ctx)
	if err != nil {
		return nil, errors.Precondition(errors.ErrNoDevice, "", err)
	}

	switch len(devices) {
	case 0:
		return nil, errors.Precondition(errors.ErrNoDevice, "", nil).
			WithHint("insert an SD card and try again")
	case 1:
	default:
		paths := make([]string, len(devices))
		for i, d := range devices {
			paths[i] = d.Path
		}
		return nil, errors.Precondition(errors.ErrAmbiguousDevice, strings.Join(paths, ", "), nil).
			WithHint("remove all removable media except the card to provision")
	}

	d := devices[0]
	if d.Size < g.minCapacity {
		return nil, errors.Precondition(errors.ErrInsufficientCapacity, d.Path,
			fmt.Errorf("%s available, %s required", humanize.IBytes(uint64(d.Size)), humanize.IBytes(uint64(g.minCapacity)))).
			WithHint(fmt.Sprintf("use a card of at least %s", humanize.IBytes(uint64(g.minCapacity))))
	}

	target := &TargetDevice{
		Path:     d.Path,
		Capacity: d.Size,
		Model:    d.Model,
		Boot:     blockdev.PartitionPath(d.Path, 1),
		Root:     blockdev.PartitionPath(d.Path, 2),
		device:   d,
	}
	slog.Info("device_detected", "device", target.Path, "capacity", humanize.IBytes(uint64(target.Capacity)), "model", target.Model)
	return target, nil
}

// CheckCacheSpace fails when dir has less than the minimum free space. Call
// it before a download, never on a cache hit.
func (g *Guard) CheckCacheSpace(dir string) error {
	free, err := g.space.Free(dir)
	if err != nil {
		return errors.Precondition(errors.ErrInsufficientDiskSpace, dir, err)
	}
	if free < uint64(g.minFree) {
		return errors.Precondition(errors.ErrInsufficientDiskSpace, dir,
			fmt.Errorf("%s free, %s required", humanize.IBytes(free), humanize.IBytes(uint64(g.minFree)))).
			WithHint(fmt.Sprintf("free up space in %s", dir))
	}
	slog.Debug("cache_space_ok", "path", dir, "free", humanize.IBytes(free))
	return nil
}

// Confirm requires the operator to type the device path exactly.
func (g *Guard) Confirm(ctx context.Context, target *TargetDevice) error {
	answer, err := g.confirmer.Confirm(ctx, target)
	if err != nil {
		if ctx.Err() != nil || stderrors.Is(err, errors.ErrInterrupted) {
			return errors.Aborted(errors.ErrInterrupted, target.Path)
		}
		return errors.Aborted(errors.ErrDeclined, target.Path)
	}
	if strings.TrimSpace(answer) != target.Path {
		slog.Info("device_confirmation_declined", "device", target.Path)
		return errors.Aborted(errors.ErrDeclined, target.Path)
	}
	slog.Info("device_confirmed", "device", target.Path)
	return nil
}

// EnsureUnmounted unmounts every mounted partition of target and verifies
// none remains mounted. Any failure is fatal.
func (g *Guard) EnsureUnmounted(ctx context.Context, target *TargetDevice) error {
	var mountPoints []string
	if target.device != nil {
		mountPoints = target.device.MountPoints()
	}

	for _, mp := range mountPoints {
		slog.Info("device_partition_unmount", "device", target.Path, "path", mp)
		if err := g.mounts.Unmount(ctx, mp); err != nil {
			return errors.Precondition(errors.ErrUnmountFailed, mp, err).
				WithHint("close any program using the card and try again")
		}
	}

	for _, part := range []string{target.Boot, target.Root} {
		mounted, err := g.mounts.IsMounted(ctx, part)
		if err != nil {
			return errors.Precondition(errors.ErrUnmountFailed, part, err)
		}
		if !mounted {
			continue
		}
		if err := g.mounts.Unmount(ctx, part); err != nil {
			return errors.Precondition(errors.ErrUnmountFailed, part, err).
				WithHint("close any program using the card and try again")
		}
	}
	return nil
}
