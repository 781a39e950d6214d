package auction

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown is the single ticking clock of an auction room. It counts
// whole seconds down from the configured duration, invoking onTick after
// every elapsed second and onExpire exactly once when it reaches zero.
// Start and Reset always cancel the previous clock first: one clock per
// room, and "a new bid resets the timer" is implemented as exactly that
// cancellation.
type Countdown struct {
	clock clockwork.Clock

	mu        sync.Mutex
	remaining int
	cancel    chan struct{}
}

func NewCountdown(clock clockwork.Clock) *Countdown {
	return &Countdown{clock: clock}
}

// Start begins a fresh clock. Any clock already running is cancelled
// before the new one begins ticking.
func (c *Countdown) Start(seconds int, onTick func(remaining int), onExpire func()) {
	c.mu.Lock()
	c.stopLocked()
	c.remaining = seconds
	cancel := make(chan struct{})
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(cancel, onTick, onExpire)
}

// Stop cancels the running clock. No further callbacks fire after Stop
// returns, except a tick or expiry already in flight.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Countdown) stopLocked() {
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
	c.remaining = 0
}

// Remaining reports the seconds left on the running clock, zero when idle.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) run(cancel chan struct{}, onTick func(int), onExpire func()) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if c.cancel != cancel {
				// Replaced while we were waiting; the new clock owns the state.
				c.mu.Unlock()
				return
			}
			c.remaining--
			remaining := c.remaining
			if remaining <= 0 {
				c.cancel = nil
				c.remaining = 0
			}
			c.mu.Unlock()

			onTick(remaining)
			if remaining <= 0 {
				onExpire()
				return
			}
		}
	}
}
