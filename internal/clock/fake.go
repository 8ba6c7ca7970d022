package clock

import "time"

// FakeClock pins Now to a fixed instant so tests control effective dates
// and period-due decisions deterministically.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward, e.g. across a month boundary to make
// another depreciation period due.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
