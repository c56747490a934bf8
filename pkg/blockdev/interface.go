// Package blockdev discovers removable block devices and manages the mounts
// of their partitions through the platform tools (lsblk, findmnt, mount,
// umount, partprobe).
package blockdev

import (
	"context"
	"strconv"
	"strings"
)

// Partition is one partition of a block device.
type Partition struct {
	Path        string
	Size        int64
	MountPoints []string
}

// Device is a whole-disk block device.
type Device struct {
	Name       string
	Path       string
	Size       int64
	Model      string
	Transport  string
	Removable  bool
	Partitions []Partition
}

// MountPoints returns every mount point of every partition of d, and of d
// itself when it carries a filesystem directly.
func (d *Device) MountPoints() []string {
	var mps []string
	for _, p := range d.Partitions {
		mps = append(mps, p.MountPoints...)
	}
	return mps
}

// Manager abstracts block device discovery and mounting.
type Manager interface {
	// ListRemovable returns whole-disk devices in the removable media class
	ListRemovable(ctx context.Context) ([]*Device, error)

	// IsMounted reports whether target (a mount point or device node) is mounted
	IsMounted(ctx context.Context, target string) (bool, error)

	// Mount mounts devicePath on mountPath
	Mount(ctx context.Context, devicePath, mountPath string) error

	// Unmount unmounts target
	Unmount(ctx context.Context, target string) error

	// Rescan asks the kernel to re-read the partition table of devicePath
	Rescan(ctx context.Context, devicePath string) error
}

// PartitionPath returns the device node of partition n on device. Devices
// whose names end in a digit (mmcblk0, loop0, nvme0n1) take a "p" separator.
func PartitionPath(device string, n int) string {
	base := device[strings.LastIndex(device, "/")+1:]
	if strings.HasPrefix(base, "mmcblk") || strings.HasPrefix(base, "loop") || strings.HasPrefix(base, "nvme") {
		return device + "p" + strconv.Itoa(n)
	}
	return device + strconv.Itoa(n)
}
