package realtime

import "cursor-chat/contract"

// EnvelopeType tags every frame exchanged between a subscriber and the hub.
type EnvelopeType string

const (
	TypeJoin          EnvelopeType = "join"
	TypeLeave         EnvelopeType = "leave"
	TypeTrack         EnvelopeType = "track"
	TypeBroadcast     EnvelopeType = "broadcast"
	TypeReply         EnvelopeType = "reply"
	TypePresenceState EnvelopeType = "presence_state"
	TypePresenceDiff  EnvelopeType = "presence_diff"
)

// Presence is one tracked state. Ref identifies the subscriber that
// tracked it, so one presence key may hold several states.
type Presence struct {
	Ref   string `json:"ref"`
	State []byte `json:"state"`
}

// Envelope is the unit of the realtime protocol. Requests carry a Ref that
// the hub echoes in its reply.
type Envelope struct {
	Type    EnvelopeType             `json:"type"`
	Topic   string                   `json:"topic,omitempty"`
	Ref     uint64                   `json:"ref,omitempty"`
	Event   string                   `json:"event,omitempty"`
	Payload []byte                   `json:"payload,omitempty"`
	Options *contract.ChannelOptions `json:"options,omitempty"`
	State   map[string][]Presence    `json:"state,omitempty"`
	Joins   map[string][]Presence    `json:"joins,omitempty"`
	Leaves  map[string][]Presence    `json:"leaves,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Delivery pushes an envelope to one subscriber. It must not block.
type Delivery func(Envelope)
