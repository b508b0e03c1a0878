package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced time source. Pass Clock.Now wherever a
// component accepts a func() time.Time.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at 2024-03-09 14:05:07 UTC, which formats as the history
// filename "2024-03-09T14-05-07".
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
