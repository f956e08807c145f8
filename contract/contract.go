//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Status is the subscription state reported by a Channel.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// PresenceEventKind selects which presence notifications a handler receives.
type PresenceEventKind string

const (
	PresenceSync  PresenceEventKind = "sync"
	PresenceJoin  PresenceEventKind = "join"
	PresenceLeave PresenceEventKind = "leave"
)

// PresenceEvent is delivered for join and leave. Sync carries no payload:
// handlers read Channel.PresenceState instead.
type PresenceEvent struct {
	Kind          PresenceEventKind
	Key           string
	NewPresences  [][]byte
	LeftPresences [][]byte
}

// BroadcastEvent is one inbound broadcast message.
type BroadcastEvent struct {
	Event   string
	Payload []byte
}

// ChannelOptions configures a topic subscription.
type ChannelOptions struct {
	// PresenceKey identifies this subscriber's presence within the topic.
	PresenceKey string `json:"presence_key,omitempty"`
	// BroadcastSelf delivers this subscriber's own broadcasts back to it.
	BroadcastSelf bool `json:"self,omitempty"`
	// BroadcastAck makes Send wait for the broker to acknowledge.
	BroadcastAck bool `json:"ack,omitempty"`
}

// Transport is the provider-managed pub/sub primitive.
type Transport interface {
	Channel(topic string, opts ChannelOptions) Channel
}

// Channel is one topic subscription. Handlers must be registered before
// Subscribe. Subscribe may be called again after an error to resubscribe.
// Unsubscribe is idempotent.
type Channel interface {
	Topic() string
	OnPresence(kind PresenceEventKind, handler func(PresenceEvent))
	OnBroadcast(event string, handler func(BroadcastEvent))
	Subscribe(onStatus func(status Status, err error))
	Track(ctx context.Context, state []byte) error
	Send(ctx context.Context, event string, payload []byte) error
	PresenceState() map[string][][]byte
	Unsubscribe() error
}
