// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"sync"
	"time"
)

// Clock is a deterministic time source for transaction timestamps in tests.
// Each call to Now advances by a fixed step, so successive transactions get
// distinct, strictly increasing instants regardless of scheduling.
//
// Thread-safe: all methods take an internal mutex.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock starting at a fixed epoch, advancing one
// millisecond per reading.
func NewClock() *Clock {
	return &Clock{
		now:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		step: time.Millisecond,
	}
}

// NewClockAt creates a clock starting at a specific instant.
func NewClockAt(start time.Time) *Clock {
	return &Clock{now: start.UTC(), step: time.Millisecond}
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the instant the next Now call will report, without
// advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
