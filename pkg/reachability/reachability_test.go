package reachability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piprov/piprov/pkg/errors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// scriptedPinger answers once the clock has advanced by upAfter.
type scriptedPinger struct {
	clock   *fakeClock
	start   time.Time
	upAfter time.Duration
	never   bool
	cost    time.Duration
	pings   []time.Duration
}

func (p *scriptedPinger) Ping(context.Context, string, time.Duration) (string, error) {
	at := p.clock.now.Sub(p.start)
	p.pings = append(p.pings, at)
	p.clock.now = p.clock.now.Add(p.cost)
	if p.never || at < p.upAfter {
		return "", fmt.Errorf("100%% packet loss")
	}
	return "192.168.1.23", nil
}

func newTestPoller(upAfter time.Duration, never bool) (*Poller, *scriptedPinger) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	pinger := &scriptedPinger{clock: clock, start: clock.now, upAfter: upAfter, never: never}
	p := NewPoller(pinger, 5*time.Second, 20*time.Minute)
	p.clock = clock
	return p, pinger
}

func TestAwait_AnswersAfterNIntervals(t *testing.T) {
	for _, n := range []int{0, 1, 7, 239} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			p, pinger := newTestPoller(time.Duration(n)*5*time.Second, false)

			res, err := p.Await(context.Background(), "pi-test")
			require.NoError(t, err)
			assert.Equal(t, "192.168.1.23", res.Address)
			assert.Equal(t, n+1, res.Attempts)
			assert.Equal(t, time.Duration(n)*5*time.Second, res.Elapsed)
			assert.Len(t, pinger.pings, n+1)
		})
	}
}

func TestAwait_SlowPingKeepsCadence(t *testing.T) {
	p, pinger := newTestPoller(0, true)
	pinger.cost = 2 * time.Second

	_, err := p.Await(context.Background(), "pi-test")
	assert.ErrorIs(t, err, errors.ErrBootTimeout)

	require.Len(t, pinger.pings, 240)
	for i, at := range pinger.pings {
		assert.Equal(t, time.Duration(i)*5*time.Second, at)
	}
}

func TestAwait_PingOverrunningSlotSkipsIt(t *testing.T) {
	p, pinger := newTestPoller(0, true)
	p.timeout = 30 * time.Second
	pinger.cost = 7 * time.Second

	_, err := p.Await(context.Background(), "pi-test")
	assert.ErrorIs(t, err, errors.ErrBootTimeout)
	assert.Equal(t, []time.Duration{0, 10 * time.Second, 20 * time.Second}, pinger.pings)
}

func TestAwait_TimesOutAtBoundary(t *testing.T) {
	p, pinger := newTestPoller(0, true)

	_, err := p.Await(context.Background(), "pi-test")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBootTimeout)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.Contains(t, errors.HintOf(err), "piprov await pi-test")

	assert.Len(t, pinger.pings, 240)
	assert.Equal(t, 20*time.Minute-5*time.Second, pinger.pings[len(pinger.pings)-1])
	assert.Equal(t, 20*time.Minute, p.clock.Now().Sub(pinger.start))
}

func TestAwait_UnevenTimeoutStopsAtDeadline(t *testing.T) {
	p, pinger := newTestPoller(0, true)
	p.timeout = 12 * time.Second

	_, err := p.Await(context.Background(), "pi-test")
	assert.ErrorIs(t, err, errors.ErrBootTimeout)
	assert.Equal(t, []time.Duration{0, 5 * time.Second, 10 * time.Second}, pinger.pings)
	assert.Equal(t, 12*time.Second, p.clock.Now().Sub(pinger.start))
}

func TestAwait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clock := &fakeClock{now: time.Now()}
	p := NewPoller(&scriptedPinger{clock: clock, never: true}, time.Second, time.Minute)
	p.clock = blockingClock{clock}

	_, err := p.Await(ctx, "pi-test")
	assert.ErrorIs(t, err, errors.ErrInterrupted)
}

type blockingClock struct{ *fakeClock }

func (blockingClock) After(time.Duration) <-chan time.Time { return nil }

func TestParseAddress(t *testing.T) {
	tests := []struct {
		out  string
		want string
	}{
		{"PING pi-test (192.168.1.23) 56(84) bytes of data.\n64 bytes from 192.168.1.23: icmp_seq=1 ttl=64 time=3.1 ms\n", "192.168.1.23"},
		{"PING pi-test.local (10.0.0.7): 56 data bytes\n", "10.0.0.7"},
		{"64 bytes from pi-test.lan (192.168.4.2): icmp_seq=1 ttl=64\n", "192.168.4.2"},
		{"PING pi-test(fd00::12 (fd00::12)) 56 data bytes\n64 bytes from fd00::12: icmp_seq=1\n", "fd00::12"},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.out)
		require.NoError(t, err, tt.out)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseAddress("ping: pi-test: Name or service not known\n")
	assert.Error(t, err)
}

type fixedPinger struct{ err error }

func (f fixedPinger) Ping(context.Context, string, time.Duration) (string, error) {
	return "1.1.1.1", f.err
}

func TestProbe(t *testing.T) {
	assert.True(t, Probe{Pinger: fixedPinger{}, Target: "1.1.1.1"}.Reachable(context.Background()))
	assert.False(t, Probe{Pinger: fixedPinger{err: fmt.Errorf("unreachable")}}.Reachable(context.Background()))
}
