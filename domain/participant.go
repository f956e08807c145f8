// Package domain contains core concepts of the presence and chat system.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// Cursor is a pointer position in viewport coordinates.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is the full presence record pushed by one connected identity.
// The transport only accepts whole records, never deltas.
type Participant struct {
	UserID      string    `json:"user_id" validate:"required"`
	DisplayName string    `json:"username"`
	AvatarRef   string    `json:"avatar"`
	Cursor      Cursor    `json:"cursor"`
	Typing      string    `json:"typing,omitempty" validate:"max=200"`
	LastSeen    time.Time `json:"lastSeen"`
}

// NewLocalParticipant builds the initial record for the local identity.
func NewLocalParticipant(identity Identity, now time.Time) Participant {
	return Participant{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		AvatarRef:   identity.AvatarRef,
		LastSeen:    now,
	}
}

// IsStale reports whether the participant has not refreshed its presence
// within threshold. A zero threshold disables staleness.
func (p Participant) IsStale(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	return now.Sub(p.LastSeen) > threshold
}

// ParticipantUpdate carries the fields a caller wants to change.
// Nil fields keep their last known value.
type ParticipantUpdate struct {
	Cursor *Cursor
	Typing *string
}

// Apply merges the update over p and stamps lastSeen.
func (u ParticipantUpdate) Apply(p Participant, now time.Time) Participant {
	if u.Cursor != nil {
		p.Cursor = *u.Cursor
	}
	if u.Typing != nil {
		p.Typing = *u.Typing
	}
	p.LastSeen = now
	return p
}

func CursorUpdate(x, y float64) ParticipantUpdate {
	return ParticipantUpdate{Cursor: &Cursor{X: x, Y: y}}
}

func TypingUpdate(text string) ParticipantUpdate {
	return ParticipantUpdate{Typing: &text}
}
