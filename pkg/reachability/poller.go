package reachability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/piprov/piprov/pkg/errors"
)

// Clock is the time source of the poller.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Result is the outcome of a successful wait.
type Result struct {
	Hostname string
	Address  string
	Attempts int
	Elapsed  time.Duration
}

// Poller pings a host at a fixed interval until it answers or the timeout
// elapses.
type Poller struct {
	pinger      Pinger
	clock       Clock
	interval    time.Duration
	timeout     time.Duration
	pingTimeout time.Duration
}

// NewPoller creates a poller on the wall clock.
func NewPoller(p Pinger, interval, timeout time.Duration) *Poller {
	return &Poller{pinger: p, clock: realClock{}, interval: interval, timeout: timeout, pingTimeout: 2 * time.Second}
}

// Await blocks until hostname answers. It fails once the timeout has elapsed
// without a reply and never retries past it.
func (p *Poller) Await(ctx context.Context, hostname string) (*Result, error) {
	start := p.clock.Now()
	deadline := start.Add(p.timeout)
	slog.Info("await_boot_start", "hostname", hostname, "interval", p.interval, "timeout", p.timeout)

	for attempt := 1; ; attempt++ {
		now := p.clock.Now()
		if !now.Before(deadline) {
			slog.Error("await_boot_timeout", "hostname", hostname, "attempts", attempt-1)
			return nil, errors.Timeout(errors.ErrBootTimeout, hostname,
				fmt.Errorf("no reply after %s", p.timeout)).
				WithHint(fmt.Sprintf("check the wifi settings or the board's power, then run: piprov await %s", hostname))
		}

		addr, err := p.pinger.Ping(ctx, hostname, p.pingTimeout)
		if err == nil {
			elapsed := p.clock.Now().Sub(start)
			slog.Info("await_boot_complete", "hostname", hostname, "address", addr, "attempts", attempt, "elapsed", elapsed)
			return &Result{Hostname: hostname, Address: addr, Attempts: attempt, Elapsed: elapsed}, nil
		}
		slog.Debug("await_boot_no_reply", "hostname", hostname, "attempt", attempt, "error", err)

		// Attempts sit on a fixed grid from start, so time spent inside
		// Ping does not stretch the interval. A ping that overran a slot
		// moves to the next free one.
		now = p.clock.Now()
		next := start.Add(time.Duration(attempt) * p.interval)
		for !next.After(now) {
			next = next.Add(p.interval)
		}
		if next.After(deadline) {
			next = deadline
		}
		wait := next.Sub(now)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, errors.Aborted(errors.ErrInterrupted, hostname)
		case <-p.clock.After(wait):
		}
	}
}
