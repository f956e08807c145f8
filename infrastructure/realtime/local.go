package realtime

import (
	"context"
	"cursor-chat/contract"
	"log/slog"

	"github.com/google/uuid"
)

// LocalTransport connects channels to a Hub in the same process. All the
// channels of one transport share a member id, like one network connection.
type LocalTransport struct {
	log      *slog.Logger
	hub      *Hub
	memberID string
}

var _ contract.Transport = (*LocalTransport)(nil)

func NewLocalTransport(log *slog.Logger, hub *Hub) *LocalTransport {
	return &LocalTransport{log: log, hub: hub, memberID: uuid.NewString()}
}

func (t *LocalTransport) MemberID() string { return t.memberID }

func (t *LocalTransport) Channel(topic string, opts contract.ChannelOptions) contract.Channel {
	return NewChannel(t.log, topic, opts, localLink{hub: t.hub, memberID: t.memberID})
}

type localLink struct {
	hub      *Hub
	memberID string
}

func (l localLink) Join(ctx context.Context, topic string, opts contract.ChannelOptions, deliver Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.hub.Join(topic, l.memberID, opts, deliver)
	return nil
}

func (l localLink) Track(ctx context.Context, topic string, state []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.hub.Track(topic, l.memberID, state)
}

func (l localLink) Broadcast(ctx context.Context, topic, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.hub.Broadcast(topic, l.memberID, event, payload)
}

func (l localLink) Leave(topic string) error {
	l.hub.Leave(topic, l.memberID)
	return nil
}
