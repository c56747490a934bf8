package blockdev

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lsblkColumns is the column set requested from lsblk.
const lsblkColumns = "NAME,PATH,SIZE,TYPE,RM,HOTPLUG,TRAN,MODEL,MOUNTPOINT"

// flexBool accepts lsblk's boolean columns, which older util-linux releases
// print as "0"/"1" strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	case "false", "0", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// flexInt accepts numbers printed either bare or quoted.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", data, err)
	}
	*n = flexInt(v)
	return nil
}

type lsblkDevice struct {
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	Size        flexInt       `json:"size"`
	Type        string        `json:"type"`
	RM          flexBool      `json:"rm"`
	Hotplug     flexBool      `json:"hotplug"`
	Tran        string        `json:"tran"`
	Model       string        `json:"model"`
	MountPoint  *string       `json:"mountpoint"`
	MountPoints []*string     `json:"mountpoints"`
	Children    []lsblkDevice `json:"children"`
}

func (d lsblkDevice) mountPoints() []string {
	var mps []string
	if d.MountPoint != nil && *d.MountPoint != "" {
		mps = append(mps, *d.MountPoint)
	}
	for _, mp := range d.MountPoints {
		if mp != nil && *mp != "" && (d.MountPoint == nil || *mp != *d.MountPoint) {
			mps = append(mps, *mp)
		}
	}
	return mps
}

// parseLsblk decodes `lsblk -J -b` output and keeps whole disks in the
// removable media class.
func parseLsblk(data []byte) ([]*Device, error) {
	var out struct {
		BlockDevices []lsblkDevice `json:"blockdevices"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	var devices []*Device
	for _, bd := range out.BlockDevices {
		if bd.Type != "disk" || bd.Size <= 0 {
			continue
		}
		removable := bool(bd.RM) || bool(bd.Hotplug) || strings.HasPrefix(bd.Name, "mmcblk")
		if !removable {
			continue
		}

		path := bd.Path
		if path == "" {
			path = "/dev/" + bd.Name
		}
		dev := &Device{
			Name:      bd.Name,
			Path:      path,
			Size:      int64(bd.Size),
			Model:     strings.TrimSpace(bd.Model),
			Transport: bd.Tran,
			Removable: true,
		}

		// A filesystem written straight onto the disk still blocks a write.
		if mps := bd.mountPoints(); len(mps) > 0 {
			dev.Partitions = append(dev.Partitions, Partition{Path: path, Size: int64(bd.Size), MountPoints: mps})
		}
		for _, child := range bd.Children {
			if child.Type != "part" {
				continue
			}
			cpath := child.Path
			if cpath == "" {
				cpath = "/dev/" + child.Name
			}
			dev.Partitions = append(dev.Partitions, Partition{
				Path:        cpath,
				Size:        int64(child.Size),
				MountPoints: child.mountPoints(),
			})
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// parseFindmnt reports whether `findmnt -J` printed at least one filesystem.
func parseFindmnt(data []byte) (bool, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	var out struct {
		Filesystems []struct {
			Target string `json:"target"`
			Source string `json:"source"`
		} `json:"filesystems"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("failed to parse findmnt output: %w", err)
	}
	return len(out.Filesystems) > 0, nil
}
