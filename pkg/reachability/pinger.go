// Package reachability waits for a freshly provisioned host to answer on the
// network.
package reachability

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Pinger sends a single echo request to host and returns the address that
// answered.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (string, error)
}

// CommandPinger shells out to ping(8).
type CommandPinger struct{}

var (
	headerPattern = regexp.MustCompile(`^PING \S+ \(([^)]+)\)`)
	replyPattern  = regexp.MustCompile(`bytes from (?:\S+ \()?([0-9a-fA-F:.]+)\)?:`)
)

func (CommandPinger) Ping(ctx context.Context, host string, timeout time.Duration) (string, error) {
	secs := int(timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(secs), host)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ping %s: %w: %s", host, err, strings.TrimSpace(stderr.String()))
	}
	return ParseAddress(stdout.String())
}

// ParseAddress extracts the responding address from ping output.
func ParseAddress(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			m = replyPattern.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		addr, err := netip.ParseAddr(m[1])
		if err != nil {
			continue
		}
		return addr.String(), nil
	}
	return "", fmt.Errorf("no address in ping output")
}

// Probe classifies the network as available when target answers one ping.
type Probe struct {
	Pinger  Pinger
	Target  string
	Timeout time.Duration
}

func (p Probe) Reachable(ctx context.Context) bool {
	_, err := p.Pinger.Ping(ctx, p.Target, p.Timeout)
	return err == nil
}
