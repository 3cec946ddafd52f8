package transport

import "time"

// manualClock is a virtual clock a test advances explicitly, so loss
// detection, pacing, and PMTUD timers can be driven deterministically
// instead of racing real wall-clock time. Grounded on
// test-fixture/src/lib.rs's now()/earlier() pair in the original
// source, which plays the same role for the Rust test suite: a fixed
// base instant the test pushes forward step by step.
type manualClock struct {
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	if start.IsZero() {
		start = time.Unix(1_700_000_000, 0)
	}
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}
