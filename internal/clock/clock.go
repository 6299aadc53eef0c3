// Package clock abstracts wall-clock time so "today" in the daily cap and
// "now" in expiry logic are injectable for deterministic tests.
package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from the system clock.
type RealClock struct{}

// Now returns current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for tests.
type Fixed struct {
	Time time.Time
}

// Now returns the configured instant.
func (f *Fixed) Now() time.Time {
	return f.Time
}

// Advance moves the fixed clock forward.
func (f *Fixed) Advance(d time.Duration) {
	f.Time = f.Time.Add(d)
}
