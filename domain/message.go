// Package domain contains core concepts of the presence and chat system.
// This file defines ChatMessage events and related rules.
// Messages are immutable once built.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength bounds the text of a single chat message, in runes.
const MaxMessageLength = 500

// ChatMessage is one committed text utterance.
type ChatMessage struct {
	ID                uuid.UUID `json:"id" validate:"required"`
	SenderID          string    `json:"user_id" validate:"required"`
	SenderDisplayName string    `json:"username"`
	SenderAvatarRef   string    `json:"avatar"`
	Text              string    `json:"message" validate:"required,max=500"`
	SentAt            time.Time `json:"timestamp" validate:"required"`
}

// NewChatMessage builds a message from the sender identity.
// It returns false when the trimmed text is empty.
func NewChatMessage(id uuid.UUID, sender Identity, text string, now time.Time) (ChatMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ChatMessage{}, false
	}
	return ChatMessage{
		ID:                id,
		SenderID:          sender.UserID,
		SenderDisplayName: sender.DisplayName,
		SenderAvatarRef:   sender.AvatarRef,
		Text:              trimmed,
		SentAt:            now,
	}, true
}
