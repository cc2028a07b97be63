package utils

import (
	"time"
)

// Clock abstracts time for components whose behavior depends on "now",
// so sweeps and expiry checks can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock (UTC).
type SystemClock struct{}

func NewSystemClock() Clock {
	return SystemClock{}
}

func (SystemClock) Now() time.Time {
	return UTCNow()
}

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{T: t.UTC()}
}

func (c *FixedClock) Now() time.Time {
	return c.T
}

// Advance moves the fixed clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
