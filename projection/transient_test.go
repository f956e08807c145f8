package projection

import (
	"cursor-chat/clock"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTransientScheduler_SecondMessage_RestartsWindow(t *testing.T) {
	req := require.New(t)
	c := clock.Fake(epoch)
	scheduler := NewTransientScheduler(c, DefaultVisibilityWindow)

	// Given message A from S at t=0
	a := message("S", "A")
	scheduler.Show(a)
	entry, ok := scheduler.Entry("S")
	req.True(ok)
	req.Equal(epoch.Add(3*time.Second), entry.ExpiresAt)

	// When message B from S arrives at t=1s
	c.Advance(time.Second)
	b := message("S", "B")
	scheduler.Show(b)

	entry, ok = scheduler.Entry("S")
	req.True(ok)
	req.Equal("B", entry.Text)
	req.Equal(epoch.Add(4*time.Second), entry.ExpiresAt)
	req.Len(scheduler.Visible(), 1)

	// Then B is still visible at t=3.5s
	c.Advance(2500 * time.Millisecond)
	req.True(scheduler.IsShowing("S", b.ID))

	// And gone at t=4.1s
	c.Advance(600 * time.Millisecond)
	req.Empty(scheduler.Visible())
}

func TestTransientScheduler_SendersAreIndependent(t *testing.T) {
	req := require.New(t)
	c := clock.Fake(epoch)
	scheduler := NewTransientScheduler(c, DefaultVisibilityWindow)

	scheduler.Show(message("S", "hello"))
	c.Advance(2 * time.Second)
	scheduler.Show(message("T", "hi"))

	c.Advance(1500 * time.Millisecond)
	visible := scheduler.Visible()
	req.Len(visible, 1)
	req.Contains(visible, "T")
}

func TestTransientScheduler_Duplicate_LastWriteWins(t *testing.T) {
	req := require.New(t)
	c := clock.Fake(epoch)
	scheduler := NewTransientScheduler(c, DefaultVisibilityWindow)
	msg := message("S", "dup")

	// Given the same message delivered twice, one second apart
	scheduler.Show(msg)
	c.Advance(time.Second)
	scheduler.Show(msg)

	// Then the first expiry does not remove the second display
	c.Advance(2500 * time.Millisecond)
	req.True(scheduler.IsShowing("S", msg.ID))
	c.Advance(time.Second)
	req.Empty(scheduler.Visible())
}

func TestTransientScheduler_Close_CancelsTimers(t *testing.T) {
	req := require.New(t)
	c := clock.Fake(epoch)
	scheduler := NewTransientScheduler(c, DefaultVisibilityWindow)
	changes := 0
	scheduler.OnChange(func() { changes++ })

	scheduler.Show(message("S", "bye"))
	req.Equal(1, changes)
	scheduler.Close()

	req.Equal(0, c.PendingCount())
	req.Empty(scheduler.Visible())
	c.Advance(time.Minute)
	req.Equal(1, changes)

	// Then nothing is shown after teardown
	scheduler.Show(message("S", "late"))
	req.Empty(scheduler.Visible())
}

func TestTransientScheduler_Retract(t *testing.T) {
	req := require.New(t)
	c := clock.Fake(epoch)
	scheduler := NewTransientScheduler(c, DefaultVisibilityWindow)
	changes := 0
	scheduler.OnChange(func() { changes++ })

	// Given a shown message
	lost := message("S", "lost")
	scheduler.Show(lost)

	// When it is retracted
	scheduler.Retract(lost)

	// Then the bubble and its expiry are gone
	req.Empty(scheduler.Visible())
	req.Equal(0, c.PendingCount())
	req.Equal(2, changes)

	// And retracting again changes nothing
	scheduler.Retract(lost)
	req.Equal(2, changes)
}

func TestTransientScheduler_Retract_KeepsNewerBubble(t *testing.T) {
	req := require.New(t)
	scheduler := NewTransientScheduler(clock.Fake(epoch), DefaultVisibilityWindow)

	old := message("S", "old")
	scheduler.Show(old)
	newer := message("S", "newer")
	scheduler.Show(newer)

	scheduler.Retract(old)

	req.True(scheduler.IsShowing("S", newer.ID))
}
