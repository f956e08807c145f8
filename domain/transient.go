package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransientDisplayEntry is the visible bubble derived from the latest
// message of one sender.
type TransientDisplayEntry struct {
	SenderID  string
	MessageID uuid.UUID
	Text      string
	ShownAt   time.Time
	ExpiresAt time.Time
}
