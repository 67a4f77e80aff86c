package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
)

// Countdown shows the seconds left until a Store's reset time. It ticks
// once per second while the reset is in the future and cancels its own
// ticker at zero. At most one ticker is active: each store change cancels
// the previous one before starting anew.
type Countdown struct {
	clock  clock.Clock
	onTick func(remaining int)

	mu          sync.Mutex
	remaining   int
	resetAt     time.Time
	ticker      clock.Timer
	generation  uint64
	closed      bool
	unsubscribe func()
}

// NewCountdown starts observing store. onTick, when not nil, runs after
// every recomputation with the new remaining seconds.
func NewCountdown(store *Store, clk clock.Clock, onTick func(remaining int)) *Countdown {
	if clk == nil {
		clk = clock.Real()
	}
	c := &Countdown{clock: clk, onTick: onTick}
	if info, ok := store.Current(); ok {
		c.reset(info, true)
	}
	c.unsubscribe = store.Subscribe(c.reset)
	return c
}

func (c *Countdown) reset(info Info, ok bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.generation++
	if !ok || info.ResetAt.IsZero() {
		c.resetAt = time.Time{}
		c.remaining = 0
	} else {
		c.resetAt = info.ResetAt
		c.remaining = secondsUntil(info.ResetAt, c.clock.Now())
		if c.remaining > 0 {
			c.scheduleLocked(c.generation)
		}
	}
	remaining := c.remaining
	c.mu.Unlock()

	c.notify(remaining)
}

func (c *Countdown) scheduleLocked(gen uint64) {
	c.ticker = c.clock.AfterFunc(time.Second, func() { c.tick(gen) })
}

func (c *Countdown) tick(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.remaining = secondsUntil(c.resetAt, c.clock.Now())
	if c.remaining > 0 {
		c.scheduleLocked(gen)
	} else {
		c.ticker = nil
	}
	remaining := c.remaining
	c.mu.Unlock()

	c.notify(remaining)
}

func (c *Countdown) notify(remaining int) {
	if c.onTick != nil {
		c.onTick(remaining)
	}
}

func (c *Countdown) stopLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// Remaining returns the seconds left, never negative
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Formatted renders Remaining as m:ss
func (c *Countdown) Formatted() string {
	return FormatSeconds(c.Remaining())
}

// Active reports whether a ticker is currently scheduled
func (c *Countdown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticker != nil
}

// Close stops the ticker and the store subscription. It is idempotent.
func (c *Countdown) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()
	c.unsubscribe()
}

// FormatSeconds renders seconds as m:ss, clamping negatives to 0:00
func FormatSeconds(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func secondsUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
