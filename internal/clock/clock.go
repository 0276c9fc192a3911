// Package clock abstracts wall-clock time so the scheduler and executor can
// be driven deterministically in tests.
package clock

import "time"

// Clock is the capability the rest of the daemon depends on instead of
// calling time.Now() directly.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time

	// After returns a channel that fires once when d has elapsed. It
	// mirrors time.After, but against this Clock's notion of "now" rather
	// than the system clock, so a Fake can drive it in tests.
	After(d time.Duration) <-chan time.Time
}

// Real is the production Clock, backed by the system clock.
type Real struct{}

// Now returns time.Now().UTC().
func (Real) Now() time.Time { return time.Now().UTC() }

// After delegates to time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
