package internal

import (
	"cursor-chat/chat"
	"cursor-chat/moderation"
	"cursor-chat/presence"
	"cursor-chat/runtime"
	"fmt"
	"log/slog"
	"time"
)

// Config holds the room tuning shared by every client binary.
type Config struct {
	ThrottleWindow    time.Duration `env:"THROTTLE_WINDOW,default=16ms"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=1s"`
	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY,default=1s"`
	MaxRetryAttempts  int           `env:"MAX_RETRY_ATTEMPTS,default=3"`
	PublishTimeout    time.Duration `env:"PUBLISH_TIMEOUT,default=5s"`
	TransientWindow   time.Duration `env:"TRANSIENT_WINDOW,default=3s"`
	HistoryCapacity   int           `env:"HISTORY_CAPACITY,default=100"`
	MaxTypingLength   int           `env:"MAX_TYPING_LENGTH,default=50"`
	StaleAfter        time.Duration `env:"STALE_AFTER,default=10s"`
	ModerationEnabled bool          `env:"MODERATION_ENABLED,default=false"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// RoomOptions converts the configuration. The moderator is built from the
// embedded dictionaries when moderation is enabled.
func (c Config) RoomOptions(log *slog.Logger) (runtime.Options, error) {
	opts := runtime.Options{
		Presence: presence.Options{
			HeartbeatInterval: c.HeartbeatInterval,
			RetryBaseDelay:    c.RetryBaseDelay,
			MaxRetryAttempts:  c.MaxRetryAttempts,
			PublishTimeout:    c.PublishTimeout,
		},
		Chat: chat.Options{
			HistoryCapacity:  c.HistoryCapacity,
			SendTimeout:      c.PublishTimeout,
			RetryBaseDelay:   c.RetryBaseDelay,
			MaxRetryAttempts: c.MaxRetryAttempts,
		},
		ThrottleWindow:  c.ThrottleWindow,
		TransientWindow: c.TransientWindow,
		MaxTypingLength: c.MaxTypingLength,
		StaleAfter:      c.StaleAfter,
	}
	if !c.ModerationEnabled {
		return opts, nil
	}

	char, err := CharacterRune(c.CharReplacement)
	if err != nil {
		return runtime.Options{}, err
	}
	data, err := moderation.LoadEmbedded()
	if err != nil {
		return runtime.Options{}, fmt.Errorf("loading censored words: %w", err)
	}
	moderator, err := moderation.NewModerator(data.Words, char, log)
	if err != nil {
		return runtime.Options{}, fmt.Errorf("building moderator: %w", err)
	}
	log.Info("Chat moderation enabled", "words", len(data.Words), "languages", data.Languages)
	opts.Chat.Moderator = moderator
	return opts, nil
}
