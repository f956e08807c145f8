package workers

import (
	"context"
	"cursor-chat/clock"
	"log/slog"
	"time"
)

// Reaper drops presences that were not refreshed within maxAge.
type Reaper interface {
	Reap(maxAge time.Duration) int
}

// PresenceReaper evicts participants whose client vanished without leaving,
// so they do not linger in everyone's map. Live clients refresh their
// presence every heartbeat.
type PresenceReaper struct {
	log      *slog.Logger
	clock    clock.Clock
	reaper   Reaper
	interval time.Duration
	maxAge   time.Duration
}

func NewPresenceReaper(log *slog.Logger, clk clock.Clock, reaper Reaper, interval, maxAge time.Duration) *PresenceReaper {
	return &PresenceReaper{log: log, clock: clk, reaper: reaper, interval: interval, maxAge: maxAge}
}

func (w *PresenceReaper) Run(ctx context.Context) error {
	w.log.Info("Starting presence reaper", "interval", w.interval, "max_age", w.maxAge)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := w.reaper.Reap(w.maxAge); n > 0 {
				w.log.Info("Stale presences dropped", "count", n)
			}
		}
	}
}
