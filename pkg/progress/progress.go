// Package progress reports byte progress of long-running copies: a redrawn
// bar on a terminal, 10% milestones through slog otherwise.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

const (
	barWidth      = 30
	redrawEvery   = 200 * time.Millisecond
	milestoneStep = 10
)

var (
	labelStyle       = lipgloss.NewStyle().Bold(true)
	progressBarFull  = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	progressBarEmpty = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

// Reporter counts bytes written through it. It is safe for use by one
// producer and the final Finish call.
type Reporter struct {
	out   io.Writer
	tty   bool
	label string
	total int64

	mu        sync.Mutex
	done      int64
	start     time.Time
	lastDraw  time.Time
	milestone int
}

// New creates a reporter on stdout. total <= 0 means unknown.
func New(label string, total int64) *Reporter {
	return NewWithWriter(os.Stdout, IsTerminal(os.Stdout), label, total)
}

// NewWithWriter creates a reporter drawing on out.
func NewWithWriter(out io.Writer, tty bool, label string, total int64) *Reporter {
	return &Reporter{
		out:   out,
		tty:   tty,
		label: label,
		total: total,
		start: time.Now(),
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Write counts p and redraws. It never fails, so it can sit in an io.TeeReader.
func (r *Reporter) Write(p []byte) (int, error) {
	r.Add(int64(len(p)))
	return len(p), nil
}

// Reader wraps rd so everything read from it is counted.
func (r *Reporter) Reader(rd io.Reader) io.Reader {
	return io.TeeReader(rd, r)
}

// Add records n more bytes.
func (r *Reporter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.done += n
	if r.tty {
		if now := time.Now(); now.Sub(r.lastDraw) >= redrawEvery {
			r.lastDraw = now
			r.draw()
		}
		return
	}

	if r.total <= 0 {
		return
	}
	pct := r.percent()
	for r.milestone+milestoneStep <= pct && r.milestone < 100 {
		r.milestone += milestoneStep
		slog.Info("progress",
			"task", r.label,
			"percent", r.milestone,
			"done", humanize.IBytes(uint64(r.done)),
			"total", humanize.IBytes(uint64(r.total)))
	}
}

// Done returns the bytes counted so far.
func (r *Reporter) Done() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Finish draws the final state and returns the byte count.
func (r *Reporter) Finish() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.start)
	if r.tty {
		r.draw()
		fmt.Fprintln(r.out)
	}
	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(r.done) / s
	}
	slog.Info("progress_complete",
		"task", r.label,
		"bytes", humanize.IBytes(uint64(r.done)),
		"duration", elapsed.Round(time.Second).String(),
		"rate", humanize.IBytes(uint64(rate))+"/s")
	return r.done
}

// percent is clamped to 100 since totals may be estimates.
func (r *Reporter) percent() int {
	if r.total <= 0 {
		return 0
	}
	pct := int(r.done * 100 / r.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (r *Reporter) draw() {
	if r.total <= 0 {
		fmt.Fprintf(r.out, "\r%s %s", labelStyle.Render(r.label), humanize.IBytes(uint64(r.done)))
		return
	}
	pct := r.percent()
	filled := barWidth * pct / 100
	bar := progressBarFull.Render(strings.Repeat("█", filled)) +
		progressBarEmpty.Render(strings.Repeat("░", barWidth-filled))
	fmt.Fprintf(r.out, "\r%s %s %3d%% %s / %s",
		labelStyle.Render(r.label), bar, pct,
		humanize.IBytes(uint64(r.done)), humanize.IBytes(uint64(r.total)))
}
