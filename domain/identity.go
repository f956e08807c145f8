// Package domain contains core concepts of the presence and chat system.
// This file defines the local session identity.
// No runtime, network, or UI logic should be added here.
package domain

// Identity is the session supplied by the identity provider.
// The zero value is a guest: presence and chat are disabled for it.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

func (i Identity) IsGuest() bool {
	return i.UserID == ""
}
