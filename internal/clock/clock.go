// Package clock abstracts the wall clock so that booking horizons, protocol
// generation and lifecycle timestamps are testable. Production code uses
// System; tests use a Fixed clock they can advance by hand.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System reads the operating system clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a manually controlled clock for tests. Not goroutine-safe;
// tests advance it between operations, never concurrently.
type Fixed struct {
	T time.Time
}

// NewFixed creates a fixed clock at the given instant.
func NewFixed(t time.Time) *Fixed { return &Fixed{T: t} }

func (f *Fixed) Now() time.Time { return f.T }

// Advance moves the clock forward and returns the new time.
func (f *Fixed) Advance(d time.Duration) time.Time {
	f.T = f.T.Add(d)
	return f.T
}

// Set moves the clock to a specific instant.
func (f *Fixed) Set(t time.Time) { f.T = t }
