// Package writer copies a disk image onto a block device.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/lifecycle"
	"github.com/piprov/piprov/pkg/progress"
)

// BlockWriter performs the raw block copy.
type BlockWriter interface {
	// Copy streams src onto device and returns once the copy command has exited.
	Copy(ctx context.Context, src io.Reader, device string) error
}

// DDWriter copies with dd, reading the image from stdin.
type DDWriter struct {
	BlockSize string
}

func (d DDWriter) Copy(ctx context.Context, src io.Reader, device string) error {
	bs := d.BlockSize
	if bs == "" {
		bs = "4M"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "dd", "of="+device, "bs="+bs, "iflag=fullblock", "conv=fsync", "status=none")
	cmd.Stdin = src
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dd: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Result describes a completed write.
type Result struct {
	Device string
	Bytes  int64
}

// Engine writes images to confirmed, unmounted devices.
type Engine struct {
	writer  BlockWriter
	ledger  *lifecycle.Ledger
	counter func(label string, total int64) *progress.Reporter
}

// NewEngine creates a write engine.
func NewEngine(w BlockWriter, ledger *lifecycle.Ledger) *Engine {
	return &Engine{writer: w, ledger: ledger, counter: progress.New}
}

// Write streams imagePath onto device. confirmed must come from the device
// guard; without it nothing is written. A failed write leaves the device in an
// indeterminate state.
func (e *Engine) Write(ctx context.Context, imagePath, device string, confirmed bool) (*Result, error) {
	if !confirmed {
		return nil, errors.Aborted(errors.ErrDeclined, device)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Write(errors.ErrDeviceWriteFailed, imagePath, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.Write(errors.ErrDeviceWriteFailed, imagePath, err)
	}

	slog.Info("device_write_start", "device", device, "image", imagePath, "size", st.Size())

	// The marker stays set unless the copy finishes, so an interrupt during
	// or after a failed copy is reported as leaving a corrupt medium.
	e.ledger.BeginWrite(device)
	counter := e.counter("write", st.Size())
	err = e.writer.Copy(ctx, counter.Reader(f), device)
	n := counter.Finish()
	if err != nil {
		slog.Error("device_write_failed", "device", device, "bytes", n, "error", err)
		return nil, errors.Write(errors.ErrDeviceWriteFailed, device, err).
			WithHint("the card is now in an unknown state; reinsert it and provision again")
	}
	if n != st.Size() {
		return nil, errors.Write(errors.ErrDeviceWriteFailed, device,
			fmt.Errorf("wrote %d of %d bytes", n, st.Size()))
	}
	e.ledger.EndWrite()

	slog.Info("device_write_complete", "device", device, "bytes", n)
	return &Result{Device: device, Bytes: n}, nil
}
