package blockdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lsblkOutput = `{
   "blockdevices": [
      {"name":"nvme0n1", "path":"/dev/nvme0n1", "size":512110190592, "type":"disk", "rm":false, "hotplug":false, "tran":"nvme", "model":"Samsung SSD", "mountpoint":null,
         "children": [
            {"name":"nvme0n1p1", "path":"/dev/nvme0n1p1", "size":536870912, "type":"part", "rm":false, "hotplug":false, "tran":null, "model":null, "mountpoint":"/boot/efi"}
         ]
      },
      {"name":"sdb", "path":"/dev/sdb", "size":31914983424, "type":"disk", "rm":true, "hotplug":true, "tran":"usb", "model":"SD Card Reader  ", "mountpoint":null,
         "children": [
            {"name":"sdb1", "path":"/dev/sdb1", "size":536870912, "type":"part", "rm":true, "hotplug":true, "tran":null, "model":null, "mountpoint":"/media/op/bootfs"},
            {"name":"sdb2", "path":"/dev/sdb2", "size":31376015360, "type":"part", "rm":true, "hotplug":true, "tran":null, "model":null, "mountpoint":null}
         ]
      },
      {"name":"sr0", "path":"/dev/sr0", "size":1073741312, "type":"rom", "rm":true, "hotplug":false, "tran":"sata", "model":"DVD", "mountpoint":null},
      {"name":"sdc", "path":"/dev/sdc", "size":0, "type":"disk", "rm":true, "hotplug":true, "tran":"usb", "model":"Empty Reader", "mountpoint":null}
   ]
}`

func TestParseLsblk(t *testing.T) {
	devices, err := parseLsblk([]byte(lsblkOutput))
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, "/dev/sdb", d.Path)
	assert.Equal(t, int64(31914983424), d.Size)
	assert.Equal(t, "SD Card Reader", d.Model)
	assert.Equal(t, "usb", d.Transport)
	require.Len(t, d.Partitions, 2)
	assert.Equal(t, "/dev/sdb1", d.Partitions[0].Path)
	assert.Equal(t, []string{"/media/op/bootfs"}, d.MountPoints())
}

func TestParseLsblk_LegacyStrings(t *testing.T) {
	legacy := `{"blockdevices": [
		{"name":"mmcblk0", "size":"15931539456", "type":"disk", "rm":"0", "hotplug":"0", "tran":null, "model":null, "mountpoint":null,
		 "children":[{"name":"mmcblk0p1", "size":"268435456", "type":"part", "rm":"0", "hotplug":"0", "mountpoint":"/boot"}]}
	]}`

	devices, err := parseLsblk([]byte(legacy))
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/mmcblk0", devices[0].Path)
	assert.Equal(t, int64(15931539456), devices[0].Size)
	assert.Equal(t, "/dev/mmcblk0p1", devices[0].Partitions[0].Path)
	assert.Equal(t, []string{"/boot"}, devices[0].MountPoints())
}

func TestParseLsblk_WholeDiskFilesystem(t *testing.T) {
	data := `{"blockdevices": [
		{"name":"sdd", "path":"/dev/sdd", "size":32000000000, "type":"disk", "rm":true, "hotplug":true, "mountpoints":["/media/stick", null]}
	]}`
	devices, err := parseLsblk([]byte(data))
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, []string{"/media/stick"}, devices[0].MountPoints())
}

func TestParseLsblk_Invalid(t *testing.T) {
	_, err := parseLsblk([]byte(`{"blockdevices": [{"name":"sdb","rm":"maybe"}]}`))
	assert.Error(t, err)
	_, err = parseLsblk([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseFindmnt(t *testing.T) {
	mounted, err := parseFindmnt([]byte(`{"filesystems": [{"target":"/mnt/piprov/boot","source":"/dev/sdb1","fstype":"vfat","options":"rw"}]}`))
	require.NoError(t, err)
	assert.True(t, mounted)

	mounted, err = parseFindmnt(nil)
	require.NoError(t, err)
	assert.False(t, mounted)
}

func TestPartitionPath(t *testing.T) {
	tests := []struct {
		device string
		n      int
		want   string
	}{
		{"/dev/sdb", 1, "/dev/sdb1"},
		{"/dev/sdb", 2, "/dev/sdb2"},
		{"/dev/mmcblk0", 1, "/dev/mmcblk0p1"},
		{"/dev/loop3", 2, "/dev/loop3p2"},
		{"/dev/nvme0n1", 1, "/dev/nvme0n1p1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PartitionPath(tt.device, tt.n))
	}
}
