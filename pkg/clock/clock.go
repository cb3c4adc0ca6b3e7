// Package clock abstracts time so the drain poll loop can run against a
// simulated clock in tests.
//
// In production, use Real() which wraps the standard time package.
// In tests, use NewFakeClock() and move time forward with Advance().
package clock

import "time"

// Clock provides the time operations used by the agent.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker that sends the current time every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker wraps time.Ticker functionality.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time

	// Stop turns off the ticker. After Stop, no more ticks will be sent.
	Stop()
}
