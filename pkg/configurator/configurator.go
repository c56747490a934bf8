// Package configurator mounts a freshly written card and injects the
// firmware settings and first-boot configuration.
package configurator

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/lifecycle"
)

const (
	firmwareConfig = "config.txt"
	osRelease      = "etc/os-release"
)

// FirmwareDirectives enable the serial console and hand the primary UART
// back from Bluetooth. They are appended on every run.
var FirmwareDirectives = []string{"enable_uart=1", "dtoverlay=disable-bt"}

// Mounter is the subset of blockdev.Manager the configurator needs.
type Mounter interface {
	IsMounted(ctx context.Context, target string) (bool, error)
	Mount(ctx context.Context, devicePath, mountPath string) error
	Unmount(ctx context.Context, target string) error
	Rescan(ctx context.Context, devicePath string) error
}

// Partitions names the device and its two partitions.
type Partitions struct {
	Device string
	Boot   string
	Root   string
}

// Result reports what was configured.
type Result struct {
	BootMount  string
	RootMount  string
	ConfigFile string
	OSName     string
}

// Configurator writes configuration onto mounted partitions.
type Configurator struct {
	mounter  Mounter
	ledger   *lifecycle.Ledger
	fs       afero.Fs
	mountDir string
}

// New creates a configurator mounting under mountDir. A nil fs means the OS
// filesystem.
func New(mounter Mounter, ledger *lifecycle.Ledger, fs afero.Fs, mountDir string) *Configurator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Configurator{mounter: mounter, ledger: ledger, fs: fs, mountDir: mountDir}
}

// Configure mounts both partitions, appends the firmware directives, writes
// the rendered record and unmounts again. Mounts stay in the ledger until
// they are released so an early return leaves them to the cleanup supervisor.
func (c *Configurator) Configure(ctx context.Context, parts Partitions, rec Record) (*Result, error) {
	content, err := Render(rec)
	if err != nil {
		return nil, errors.Config(errors.ErrConfigWriteFailed, FileName, err).
			WithHint("check the hostname, user and wifi answers")
	}

	if err := c.mounter.Rescan(ctx, parts.Device); err != nil {
		slog.Warn("partition_rescan_failed", "device", parts.Device, "error", err)
	}

	bootMount := filepath.Join(c.mountDir, "boot")
	rootMount := filepath.Join(c.mountDir, "root")
	if err := c.mount(ctx, parts.Boot, bootMount); err != nil {
		return nil, err
	}
	if err := c.mount(ctx, parts.Root, rootMount); err != nil {
		return nil, err
	}

	res := &Result{BootMount: bootMount, RootMount: rootMount, ConfigFile: filepath.Join(bootMount, FileName)}

	name, err := c.checkRoot(rootMount)
	if err != nil {
		return nil, err
	}
	res.OSName = name
	slog.Info("root_partition_detected", "path", rootMount, "os", name)

	if err := c.appendFirmware(filepath.Join(bootMount, firmwareConfig)); err != nil {
		return nil, err
	}

	if err := afero.WriteFile(c.fs, res.ConfigFile, content, 0600); err != nil {
		return nil, errors.Config(errors.ErrConfigWriteFailed, res.ConfigFile, err)
	}
	slog.Info("config_written", "path", res.ConfigFile, "hostname", rec.Hostname)

	for _, mp := range []string{rootMount, bootMount} {
		if err := c.mounter.Unmount(ctx, mp); err != nil {
			return nil, errors.Config(errors.ErrUnmountFailed, mp, err)
		}
		c.ledger.Forget(mp)
		slog.Info("partition_unmounted", "path", mp)
	}
	return res, nil
}

func (c *Configurator) mount(ctx context.Context, partition, mountPath string) error {
	if err := c.fs.MkdirAll(mountPath, 0755); err != nil {
		return errors.Config(errors.ErrMountFailed, mountPath, err)
	}

	mounted, err := c.mounter.IsMounted(ctx, mountPath)
	if err != nil {
		return errors.Config(errors.ErrMountFailed, mountPath, err)
	}
	if !mounted {
		if err := c.mounter.Mount(ctx, partition, mountPath); err != nil {
			return errors.Config(errors.ErrMountFailed, partition, err).
				WithHint("the write may not have completed; reinsert the card and provision again")
		}
	}
	c.ledger.TrackMount(mountPath)
	slog.Info("partition_mounted", "partition", partition, "path", mountPath, "reused", mounted)
	return nil
}

func (c *Configurator) appendFirmware(path string) error {
	existing, err := afero.ReadFile(c.fs, path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Config(errors.ErrConfigWriteFailed, path, err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	for _, d := range FirmwareDirectives {
		buf.WriteString(d)
		buf.WriteByte('\n')
	}

	f, err := c.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Config(errors.ErrConfigWriteFailed, path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return errors.Config(errors.ErrConfigWriteFailed, path, err)
	}
	if err := f.Close(); err != nil {
		return errors.Config(errors.ErrConfigWriteFailed, path, err)
	}
	slog.Info("firmware_config_appended", "path", path, "directives", FirmwareDirectives)
	return nil
}

// checkRoot confirms the root partition holds an OS and returns its name.
func (c *Configurator) checkRoot(rootMount string) (string, error) {
	path := filepath.Join(rootMount, osRelease)
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return "", errors.Config(errors.ErrMountFailed, path, err).
			WithHint("the root partition does not look like an OS image")
	}
	return prettyName(data), nil
}

func prettyName(osRelease []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(osRelease))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if ok && key == "PRETTY_NAME" {
			return strings.Trim(value, `"'`)
		}
	}
	return "unknown"
}
