package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/piprov/piprov/pkg/errors"
)

// Unmounter is the subset of blockdev.Manager needed to release mounts.
type Unmounter interface {
	IsMounted(ctx context.Context, target string) (bool, error)
	Unmount(ctx context.Context, target string) error
}

// Report summarises one cleanup pass.
type Report struct {
	Unmounted []string
	Removed   []string
	Failed    []string
}

// Supervisor drains a Ledger exactly once.
type Supervisor struct {
	ledger    *Ledger
	unmounter Unmounter
	fs        afero.Fs
	stderr    io.Writer

	once   sync.Once
	report Report
}

// NewSupervisor creates a supervisor for ledger. fs is the filesystem
// transient files live on.
func NewSupervisor(ledger *Ledger, unmounter Unmounter, fs afero.Fs) *Supervisor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Supervisor{ledger: ledger, unmounter: unmounter, fs: fs, stderr: os.Stderr}
}

// Ledger returns the ledger the supervisor drains.
func (s *Supervisor) Ledger() *Ledger {
	return s.ledger
}

// Cleanup unmounts every tracked path still mounted and removes every tracked
// file still present. Failures are logged and do not stop the pass. Only the
// first call does any work; later calls return an empty report.
func (s *Supervisor) Cleanup(ctx context.Context) Report {
	first := false
	s.once.Do(func() {
		first = true
		s.report = s.cleanup(ctx)
	})
	if !first {
		slog.Debug("cleanup_already_ran")
		return Report{}
	}
	return s.report
}

func (s *Supervisor) cleanup(ctx context.Context) Report {
	var r Report
	mounts, files := s.ledger.drain()
	slog.Info("cleanup_start", "mounts", len(mounts), "files", len(files))

	// Most recent mount first.
	for i := len(mounts) - 1; i >= 0; i-- {
		path := mounts[i]
		if s.unmounter == nil {
			r.Failed = append(r.Failed, path)
			continue
		}
		mounted, err := s.unmounter.IsMounted(ctx, path)
		if err != nil {
			slog.Warn("cleanup_mount_query_failed", "path", path, "error", err)
			mounted = true
		}
		if !mounted {
			continue
		}
		if err := s.unmounter.Unmount(ctx, path); err != nil {
			slog.Error("cleanup_unmount_failed", "path", path, "error", err)
			r.Failed = append(r.Failed, path)
			continue
		}
		r.Unmounted = append(r.Unmounted, path)
	}

	for _, path := range files {
		if _, err := s.fs.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("cleanup_stat_failed", "path", path, "error", err)
				r.Failed = append(r.Failed, path)
			}
			continue
		}
		if err := s.fs.Remove(path); err != nil {
			slog.Error("cleanup_remove_failed", "path", path, "error", err)
			r.Failed = append(r.Failed, path)
			continue
		}
		r.Removed = append(r.Removed, path)
	}

	slog.Info("cleanup_complete",
		"unmounted", len(r.Unmounted),
		"removed", len(r.Removed),
		"failed", len(r.Failed))
	return r
}

// Run executes fn and then runs cleanup on every exit path: success,
// error, panic, or cancellation of ctx. A failure after ctx was cancelled is
// reported as an operator interrupt.
func (s *Supervisor) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.Cleanup(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	err = fn(ctx)

	if err != nil && ctx.Err() != nil && !stderrors.Is(err, errors.ErrInterrupted) {
		err = interrupted(err)
	}
	if stderrors.Is(err, errors.ErrInterrupted) {
		if dev := s.ledger.Writing(); dev != "" {
			slog.Warn("interrupted_during_write", "device", dev)
			fmt.Fprintf(s.stderr, "WARNING: interrupted while writing %s; the medium is likely corrupt and must be provisioned again.\n", dev)
		}
	}

	s.Cleanup(context.WithoutCancel(ctx))
	return err
}

func interrupted(cause error) error {
	e := errors.Aborted(errors.ErrInterrupted, "")
	if cause != nil && !stderrors.Is(cause, context.Canceled) {
		e.Err = cause
	}
	return e
}
