package domain

import "fmt"

// RoomID names a logical scope within which presence and chat are shared.
type RoomID string

const DefaultRoom RoomID = "main"

// PresenceTopic is the transport topic carrying participant presence for the room.
func (r RoomID) PresenceTopic() string {
	return fmt.Sprintf("room:%s", r)
}

// ChatTopic is the transport topic carrying chat broadcasts for the room.
func (r RoomID) ChatTopic() string {
	return fmt.Sprintf("chat:%s", r)
}
