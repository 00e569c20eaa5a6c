package testutil

import (
	"sync"
	"time"
)

// SteppingClock is a thread-safe deterministic time source for tests.
//
// Every call to Now advances the clock by a fixed step from a fixed base,
// so a test scenario produces the same sequence of timestamps on every
// run. Batch write timestamps and history cutoffs derived from it are
// byte-stable, which golden snapshot comparison depends on.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SteppingClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	n    int64
}

// DefaultClockBase is the epoch SteppingClocks start from unless told
// otherwise. An arbitrary but memorable instant, well in the past so
// cutoffs relative to time.Now() behave sanely in tests.
var DefaultClockBase = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// NewSteppingClock creates a clock that returns base, base+step,
// base+2*step and so on from successive Now calls.
func NewSteppingClock(base time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{base: base, step: step}
}

// NewDefaultClock creates a SteppingClock from DefaultClockBase advancing
// one second per call.
func NewDefaultClock() *SteppingClock {
	return NewSteppingClock(DefaultClockBase, time.Second)
}

// Now returns the next instant and advances the clock.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Peek returns the instant the next Now call will produce, without
// advancing.
func (c *SteppingClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Duration(c.n) * c.step)
}

// At returns base plus i steps. Handy for computing cutoffs in
// assertions without consuming clock ticks.
func (c *SteppingClock) At(i int64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Duration(i) * c.step)
}

// Reset rewinds the clock so the next Now returns base again.
//
// Used for test reuse. Resetting mid-scenario makes timestamps collide;
// only reset between scenarios.
func (c *SteppingClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
