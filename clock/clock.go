// Package clock abstracts time so that throttles, expiry checks, reconnect
// backoff and heartbeats can be driven deterministically in tests.
//
// Production code receives Real(); tests receive Fake(start) and move time
// forward with Advance. Components never call time.Now or time.AfterFunc
// directly.
package clock

import "time"

// Clock is the subset of the time package used by the presence and chat core.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously during
	// Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the call from firing. It returns false if the call already
// fired or was already stopped. Stop on a nil Timer is a no-op.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stopFunc()
}

// Ticker delivers periodic ticks. C has capacity 1; slow readers lose ticks.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }
