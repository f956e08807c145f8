package retry

import (
	"cursor-chat/clock"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBackoff_LinearDelaysThenExhausted(t *testing.T) {
	req := require.New(t)
	clk := clock.Fake(epoch)
	backoff := NewBackoff(clk, Policy{BaseDelay: time.Second, MaxAttempts: 3})
	fired := 0

	// When three consecutive failures are scheduled
	for want := 1; want <= 3; want++ {
		attempt, delay, ok := backoff.Schedule(func() { fired++ })
		req.True(ok)
		req.Equal(want, attempt)
		req.Equal(time.Duration(want)*time.Second, delay)
		clk.Advance(delay)
		req.Equal(want, fired)
	}

	// Then a fourth one is refused and nothing is armed
	_, _, ok := backoff.Schedule(func() { fired++ })
	req.False(ok)
	req.Equal(0, clk.PendingCount())
	req.Equal(3, backoff.Attempts())
}

func TestBackoff_ResetCancelsAndRestartsCount(t *testing.T) {
	req := require.New(t)
	clk := clock.Fake(epoch)
	backoff := NewBackoff(clk, Policy{BaseDelay: time.Second, MaxAttempts: 3})
	fired := false

	// Given a pending retry
	_, _, ok := backoff.Schedule(func() { fired = true })
	req.True(ok)

	// When reset before it fires
	backoff.Reset()
	clk.Advance(time.Hour)

	// Then it never fires and the next delay is the base delay again
	req.False(fired)
	_, delay, ok := backoff.Schedule(func() {})
	req.True(ok)
	req.Equal(time.Second, delay)
}

func TestBackoff_StopOnIdleIsHarmless(t *testing.T) {
	backoff := NewBackoff(clock.Fake(epoch), Policy{BaseDelay: time.Second, MaxAttempts: 1})
	backoff.Stop()
	backoff.Reset()
	require.Equal(t, 0, backoff.Attempts())
}
