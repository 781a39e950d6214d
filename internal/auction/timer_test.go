package auction

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func startCountdown(t *testing.T, c *Countdown, clock clockwork.FakeClock, seconds int) (<-chan int, <-chan struct{}) {
	t.Helper()
	ticks := make(chan int, seconds+1)
	expired := make(chan struct{}, 1)
	c.Start(seconds, func(remaining int) { ticks <- remaining }, func() { expired <- struct{}{} })
	clock.BlockUntil(1)
	return ticks, expired
}

func awaitTick(t *testing.T, ticks <-chan int) int {
	t.Helper()
	select {
	case remaining := <-ticks:
		return remaining
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return 0
	}
}

func TestCountdownTicksDown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)
	ticks, expired := startCountdown(t, c, clock, 3)

	require.Equal(t, 3, c.Remaining())

	for want := 2; want >= 0; want-- {
		clock.Advance(time.Second)
		require.Equal(t, want, awaitTick(t, ticks))
	}

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for expiry")
	}
	require.Equal(t, 0, c.Remaining())
}

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)
	ticks, expired := startCountdown(t, c, clock, 1)

	clock.Advance(time.Second)
	require.Equal(t, 0, awaitTick(t, ticks))
	<-expired

	clock.Advance(5 * time.Second)
	select {
	case <-expired:
		t.Fatal("expiry fired twice")
	case remaining := <-ticks:
		t.Fatalf("tick after expiry: %d", remaining)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCountdownStopSilencesCallbacks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)
	ticks, expired := startCountdown(t, c, clock, 3)

	c.Stop()
	require.Equal(t, 0, c.Remaining())

	clock.Advance(10 * time.Second)
	select {
	case <-expired:
		t.Fatal("expiry fired after Stop")
	case remaining := <-ticks:
		t.Fatalf("tick after Stop: %d", remaining)
	case <-time.After(50 * time.Millisecond):
	}
}

// Restarting replaces the running clock entirely: the old one goes
// silent and the new one counts down from the full duration again.
func TestCountdownRestartResetsToFull(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)
	oldTicks, oldExpired := startCountdown(t, c, clock, 5)

	clock.Advance(time.Second)
	require.Equal(t, 4, awaitTick(t, oldTicks))

	newTicks := make(chan int, 6)
	newExpired := make(chan struct{}, 1)
	c.Start(5, func(remaining int) { newTicks <- remaining }, func() { newExpired <- struct{}{} })
	require.Equal(t, 5, c.Remaining())

	// The replaced goroutine may still be draining its last ticker fire,
	// so advance until the fresh clock reports its first second.
	deadline := time.After(2 * time.Second)
	var first int
loop:
	for {
		clock.Advance(time.Second)
		select {
		case first = <-newTicks:
			break loop
		case <-deadline:
			t.Fatal("timed out waiting for restarted countdown")
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.Equal(t, 4, first)

	select {
	case remaining := <-oldTicks:
		t.Fatalf("replaced countdown ticked: %d", remaining)
	case <-oldExpired:
		t.Fatal("replaced countdown expired")
	case <-time.After(50 * time.Millisecond):
	}
}
