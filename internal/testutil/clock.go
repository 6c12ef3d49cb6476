package testutil

import (
	"sync"
	"time"
)

// Epoch is the start time of a ManualClock created with NewManualClock(nil).
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a clock that only moves when told to.
//
// Pass ManualClock.Now wherever a func() time.Time is accepted so elapsed
// times are deterministic in tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock at start, or at Epoch when start is nil.
func NewManualClock(start *time.Time) *ManualClock {
	if start == nil {
		return &ManualClock{now: Epoch}
	}
	return &ManualClock{now: *start}
}

// Now returns the current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
