package workers

import (
	"context"
	"cursor-chat/clock"
	"cursor-chat/contract"
	"cursor-chat/infrastructure/realtime"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestPresenceReaper_DropsSilentParticipants(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	hub := realtime.NewHub(log, clk)

	// Given a participant tracked once and never again
	hub.Join("room:main", "m1", contract.ChannelOptions{PresenceKey: "ghost"}, func(realtime.Envelope) {})
	req.NoError(hub.Track("room:main", "m1", []byte("state")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewPresenceReaper(log, clk, hub, 5*time.Second, 10*time.Second).Run(ctx)
	}()
	clk.WaitForTimers(1)

	// When enough ticks went by
	for range 3 {
		clk.Advance(5 * time.Second)
	}

	// Then the presence is gone
	req.Eventually(func() bool {
		state, _ := hub.PresenceState("room:main")
		return len(state) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	req.NoError(<-done)
}
