// Package retry schedules channel resubscriptions with a linear, capped
// backoff driven by an injected clock.
package retry

import (
	"cursor-chat/clock"
	"time"
)

// Policy waits BaseDelay * attempt before each retry, for at most
// MaxAttempts retries in a row.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// Backoff counts consecutive failures and owns the pending retry timer.
// It has no lock of its own: the owner guards it with its mutex.
type Backoff struct {
	clock    clock.Clock
	policy   Policy
	attempts int
	timer    *clock.Timer
}

func NewBackoff(clk clock.Clock, policy Policy) *Backoff {
	return &Backoff{clock: clk, policy: policy}
}

// Schedule arms fn for the next attempt and returns its number and delay.
// It returns ok=false once MaxAttempts retries were scheduled since the
// last Reset; fn is then never called.
func (b *Backoff) Schedule(fn func()) (attempt int, delay time.Duration, ok bool) {
	if b.attempts >= b.policy.MaxAttempts {
		return b.attempts, 0, false
	}
	b.attempts++
	delay = b.policy.BaseDelay * time.Duration(b.attempts)
	b.timer.Stop()
	b.timer = b.clock.AfterFunc(delay, fn)
	return b.attempts, delay, true
}

// Reset cancels the pending retry and starts counting from zero again.
func (b *Backoff) Reset() {
	b.Stop()
	b.attempts = 0
}

// Stop cancels the pending retry and keeps the count.
func (b *Backoff) Stop() {
	b.timer.Stop()
	b.timer = nil
}

func (b *Backoff) Attempts() int {
	return b.attempts
}
