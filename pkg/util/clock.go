package util

import "time"

// Clock paces block production
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// FixedClock always reports the same instant and its timers fire at once.
// Block times stay deterministic, which tests replaying the same blocks on
// two nodes rely on.
type FixedClock struct{ At time.Time }

func (c FixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.At
	return ch
}

func (c FixedClock) Now() time.Time { return c.At }
