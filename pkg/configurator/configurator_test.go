package configurator

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/lifecycle"
)

func testRecord() Record {
	return Record{
		Hostname:     "pi-test",
		Username:     "pi",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuu",
		WifiSSID:     "home",
		WifiPSKHash:  "0123456789abcdef",
		WifiCountry:  "GB",
		Keymap:       "gb",
		Timezone:     "Europe/London",
	}
}

const wantRendered = `config_version = 1

[system]
hostname = "pi-test"

[user]
name = "pi"
password = "$2a$10$abcdefghijklmnopqrstuu"
password_encrypted = true

[ssh]
enabled = true
password_authentication = true

[wlan]
ssid = "home"
password = "0123456789abcdef"
password_encrypted = true
hidden = false
country = "GB"

[locale]
keymap = "gb"
timezone = "Europe/London"
`

func TestRender_Exact(t *testing.T) {
	out, err := Render(testRecord())
	require.NoError(t, err)
	assert.Equal(t, wantRendered, string(out))

	again, err := Render(testRecord())
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestRender_ParsesBack(t *testing.T) {
	rec := testRecord()
	rec.WifiSSID = `cafe "upstairs" \ 2.4GHz`

	out, err := Render(rec)
	require.NoError(t, err)

	var doc document
	require.NoError(t, toml.Unmarshal(out, &doc))
	assert.Equal(t, 1, doc.ConfigVersion)
	assert.Equal(t, rec.WifiSSID, doc.WLAN.SSID)
	assert.True(t, doc.WLAN.PasswordEncrypted)
	assert.False(t, doc.WLAN.Hidden)
	assert.True(t, doc.SSH.Enabled)
	assert.Equal(t, "Europe/London", doc.Locale.Timezone)
}

func TestRender_RejectsInvalidRecord(t *testing.T) {
	tests := map[string]func(*Record){
		"hostname":  func(r *Record) { r.Hostname = "-bad" },
		"root user": func(r *Record) { r.Username = "root" },
		"no hash":   func(r *Record) { r.PasswordHash = "" },
		"country":   func(r *Record) { r.WifiCountry = "gb" },
		"newline":   func(r *Record) { r.Timezone = "Europe/London\n[ssh]" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			rec := testRecord()
			mutate(&rec)
			_, err := Render(rec)
			assert.Error(t, err)
		})
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"plain"`, quote("plain"))
	assert.Equal(t, `"a\"b"`, quote(`a"b`))
	assert.Equal(t, `"a\\b"`, quote(`a\b`))
	assert.Equal(t, `"\u001B"`, quote("\x1b"))
}

type fakeMounter struct {
	mounted   map[string]bool
	mounts    []string
	unmounts  []string
	failMount string
	rescans   int
}

func (f *fakeMounter) IsMounted(_ context.Context, target string) (bool, error) {
	return f.mounted[target], nil
}

func (f *fakeMounter) Mount(_ context.Context, dev, mnt string) error {
	if dev == f.failMount {
		return fmt.Errorf("mount: %s: wrong fs type", dev)
	}
	f.mounts = append(f.mounts, dev+"->"+mnt)
	f.mounted[mnt] = true
	return nil
}

func (f *fakeMounter) Unmount(_ context.Context, target string) error {
	f.unmounts = append(f.unmounts, target)
	f.mounted[target] = false
	return nil
}

func (f *fakeMounter) Rescan(context.Context, string) error {
	f.rescans++
	return nil
}

var testParts = Partitions{Device: "/dev/mmcblk0", Boot: "/dev/mmcblk0p1", Root: "/dev/mmcblk0p2"}

func newTestConfigurator(t *testing.T) (*Configurator, *fakeMounter, afero.Fs, *lifecycle.Ledger) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mnt/piprov/boot/config.txt", []byte("[all]\narm_64bit=1"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/mnt/piprov/root/etc/os-release",
		[]byte("ID=debian\nPRETTY_NAME=\"Raspbian GNU/Linux 12 (bookworm)\"\n"), 0644))
	m := &fakeMounter{mounted: map[string]bool{}}
	ledger := lifecycle.NewLedger()
	return New(m, ledger, fs, "/mnt/piprov"), m, fs, ledger
}

func TestConfigure(t *testing.T) {
	c, m, fs, ledger := newTestConfigurator(t)

	res, err := c.Configure(context.Background(), testParts, testRecord())
	require.NoError(t, err)

	assert.Equal(t, 1, m.rescans)
	assert.Equal(t, []string{"/dev/mmcblk0p1->/mnt/piprov/boot", "/dev/mmcblk0p2->/mnt/piprov/root"}, m.mounts)
	assert.Equal(t, []string{"/mnt/piprov/root", "/mnt/piprov/boot"}, m.unmounts)
	assert.Empty(t, ledger.Mounts())
	assert.Equal(t, "Raspbian GNU/Linux 12 (bookworm)", res.OSName)

	cfg, err := afero.ReadFile(fs, "/mnt/piprov/boot/config.txt")
	require.NoError(t, err)
	assert.Equal(t, "[all]\narm_64bit=1\nenable_uart=1\ndtoverlay=disable-bt\n", string(cfg))

	custom, err := afero.ReadFile(fs, res.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, wantRendered, string(custom))
}

func TestConfigure_AppendsOnEveryRun(t *testing.T) {
	c, _, fs, _ := newTestConfigurator(t)
	require.NoError(t, afero.WriteFile(fs, "/mnt/piprov/boot/custom.toml", []byte("stale"), 0644))

	_, err := c.Configure(context.Background(), testParts, testRecord())
	require.NoError(t, err)
	_, err = c.Configure(context.Background(), testParts, testRecord())
	require.NoError(t, err)

	cfg, err := afero.ReadFile(fs, "/mnt/piprov/boot/config.txt")
	require.NoError(t, err)
	assert.Equal(t, "[all]\narm_64bit=1\nenable_uart=1\ndtoverlay=disable-bt\nenable_uart=1\ndtoverlay=disable-bt\n", string(cfg))

	custom, err := afero.ReadFile(fs, "/mnt/piprov/boot/custom.toml")
	require.NoError(t, err)
	assert.Equal(t, wantRendered, string(custom))
}

func TestConfigure_ReusesExistingMount(t *testing.T) {
	c, m, _, _ := newTestConfigurator(t)
	m.mounted["/mnt/piprov/boot"] = true

	_, err := c.Configure(context.Background(), testParts, testRecord())
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/mmcblk0p2->/mnt/piprov/root"}, m.mounts)
}

func TestConfigure_MountFailureLeavesLedgerForCleanup(t *testing.T) {
	c, m, _, ledger := newTestConfigurator(t)
	m.failMount = "/dev/mmcblk0p2"

	_, err := c.Configure(context.Background(), testParts, testRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMountFailed)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
	assert.Equal(t, []string{"/mnt/piprov/boot"}, ledger.Mounts())
}

func TestConfigure_MissingOSRelease(t *testing.T) {
	c, _, fs, ledger := newTestConfigurator(t)
	require.NoError(t, fs.Remove("/mnt/piprov/root/etc/os-release"))

	_, err := c.Configure(context.Background(), testParts, testRecord())
	assert.ErrorIs(t, err, errors.ErrMountFailed)
	assert.Len(t, ledger.Mounts(), 2)
}

type failingWrites struct{ afero.Fs }

func (f failingWrites) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EROFS}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestConfigure_WriteFailure(t *testing.T) {
	c, _, fs, _ := newTestConfigurator(t)
	c.fs = failingWrites{fs}

	_, err := c.Configure(context.Background(), testParts, testRecord())
	assert.ErrorIs(t, err, errors.ErrConfigWriteFailed)
}

func TestPrettyName(t *testing.T) {
	assert.Equal(t, "Debian", prettyName([]byte("PRETTY_NAME='Debian'\n")))
	assert.Equal(t, "unknown", prettyName([]byte("ID=debian\n")))
}
