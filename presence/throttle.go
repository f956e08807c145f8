package presence

import (
	"cursor-chat/clock"
	"sync"
	"time"
)

// DefaultThrottleWindow caps cursor publishes at roughly 60 per second.
const DefaultThrottleWindow = 16 * time.Millisecond

// Throttle coalesces a high-frequency stream of samples into calls of fn,
// at most one per window, with leading and trailing edges.
//
// The first sample of a quiet period is delivered immediately. Samples
// arriving while the window is open replace each other, and the last one
// is delivered when the window closes, which opens a new window.
type Throttle[T any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	fn      func(T)
	timer   *clock.Timer
	pending *T
	closed  bool
	// generation invalidates window callbacks that raced with Cancel.
	generation uint64
}

func NewThrottle[T any](clk clock.Clock, window time.Duration, fn func(T)) *Throttle[T] {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &Throttle[T]{clock: clk, window: window, fn: fn}
}

// Sample may be called at any rate.
func (t *Throttle[T]) Sample(v T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.pending = &v
		t.mu.Unlock()
		return
	}
	t.openWindowLocked()
	t.mu.Unlock()

	t.fn(v)
}

func (t *Throttle[T]) openWindowLocked() {
	generation := t.generation
	t.timer = t.clock.AfterFunc(t.window, func() { t.windowClosed(generation) })
}

func (t *Throttle[T]) windowClosed(generation uint64) {
	t.mu.Lock()
	if generation != t.generation {
		t.mu.Unlock()
		return
	}
	if t.closed || t.pending == nil {
		t.timer = nil
		t.mu.Unlock()
		return
	}
	v := *t.pending
	t.pending = nil
	t.openWindowLocked()
	t.mu.Unlock()

	t.fn(v)
}

// Cancel drops any pending trailing sample and rejects further samples.
func (t *Throttle[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.generation++
	t.pending = nil
	t.timer.Stop()
	t.timer = nil
}

// Reset reopens a cancelled throttle.
func (t *Throttle[T]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = false
}
