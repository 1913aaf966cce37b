package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe monotonic clock for tests.
//
// Each call to Now advances the clock by a fixed step, so timestamps in
// reports are stable across runs and safe for golden comparison.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock starting at the given instant,
// advancing one second per Now call.
func NewDeterministicClock(start time.Time) *DeterministicClock {
	return &DeterministicClock{now: start, step: time.Second}
}

// Now returns the current instant and advances the clock by one step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the current instant without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
