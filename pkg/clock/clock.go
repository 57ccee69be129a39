// Package clock abstracts the time source used by the store, limiter, lock and
// idempotency packages so expiry and refill can be driven by tests.
package clock

import "time"

// Clock abstracts time-related functions for easier testing.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks for at least d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Ensure returns c when non-nil, otherwise the real clock.
func Ensure(c Clock) Clock {
	if c != nil {
		return c
	}
	return Real{}
}
