package ext

import "time"

// Clock wraps the Now method. Introduced to allow replacing the global state
// with fixed clocks to facilitate testing.
// Now returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
}

func (c *systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock constructs a Clock backed by the system time in UTC.
func NewSystemClock() Clock {
	return &systemClock{}
}

type fixedClock struct {
	fixedTime time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.fixedTime
}

// NewFixedClock constructs a Clock that always returns the given time.
func NewFixedClock(fixedTime time.Time) Clock {
	return &fixedClock{
		fixedTime: fixedTime,
	}
}
