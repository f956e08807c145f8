package runtime

import (
	"cursor-chat/chat"
	"cursor-chat/input"
	"cursor-chat/presence"
	"cursor-chat/projection"
	"time"
)

// Options gathers the tuning of every component of a room.
type Options struct {
	Presence        presence.Options
	Chat            chat.Options
	ThrottleWindow  time.Duration
	TransientWindow time.Duration
	MaxTypingLength int
	// StaleAfter hides participants whose presence was not refreshed for
	// that long. Zero keeps everyone.
	StaleAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		Presence:        presence.DefaultOptions(),
		Chat:            chat.Options{HistoryCapacity: projection.DefaultHistoryCapacity},
		ThrottleWindow:  presence.DefaultThrottleWindow,
		TransientWindow: projection.DefaultVisibilityWindow,
		MaxTypingLength: input.DefaultMaxLength,
		StaleAfter:      10 * time.Second,
	}
}
