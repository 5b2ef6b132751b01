package sim

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock shared by the runner and the watchdog.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

func NewClock() *Clock {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Clock{start: t, now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Elapsed is the simulated time since the clock was created.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}
