package realtime

import (
	"context"
	"cursor-chat/contract"
	"cursor-chat/errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

const joinTimeout = 10 * time.Second

// Link carries one subscriber's requests to the hub, in process or over
// the network. Inbound envelopes for a joined topic go to deliver.
type Link interface {
	Join(ctx context.Context, topic string, opts contract.ChannelOptions, deliver Delivery) error
	Track(ctx context.Context, topic string, state []byte) error
	Broadcast(ctx context.Context, topic, event string, payload []byte) error
	Leave(topic string) error
}

// Channel implements contract.Channel on top of a Link. It mirrors the
// topic's presence state from presence_state and presence_diff envelopes.
type Channel struct {
	mu    sync.Mutex
	log   *slog.Logger
	topic string
	opts  contract.ChannelOptions
	link  Link

	presenceHandlers  map[contract.PresenceEventKind][]func(contract.PresenceEvent)
	broadcastHandlers map[string][]func(contract.BroadcastEvent)
	state             map[string][]Presence
	onStatus          func(contract.Status, error)
	joined            bool
	closed            bool
}

var _ contract.Channel = (*Channel)(nil)

func NewChannel(log *slog.Logger, topic string, opts contract.ChannelOptions, link Link) *Channel {
	return &Channel{
		log:               log,
		topic:             topic,
		opts:              opts,
		link:              link,
		presenceHandlers:  make(map[contract.PresenceEventKind][]func(contract.PresenceEvent)),
		broadcastHandlers: make(map[string][]func(contract.BroadcastEvent)),
		state:             make(map[string][]Presence),
	}
}

func (c *Channel) Topic() string { return c.topic }

func (c *Channel) OnPresence(kind contract.PresenceEventKind, handler func(contract.PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenceHandlers[kind] = append(c.presenceHandlers[kind], handler)
}

func (c *Channel) OnBroadcast(event string, handler func(contract.BroadcastEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastHandlers[event] = append(c.broadcastHandlers[event], handler)
}

// Subscribe joins the topic and reports the outcome to onStatus, which is
// kept to report later connection loss.
func (c *Channel) Subscribe(onStatus func(status contract.Status, err error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		onStatus(contract.StatusClosed, errors.ErrChannelClosed)
		return
	}
	c.onStatus = onStatus
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := c.link.Join(ctx, c.topic, c.opts, c.dispatch); err != nil {
		status := contract.StatusChannelError
		if ctx.Err() != nil {
			status = contract.StatusTimedOut
		}
		onStatus(status, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.joined = true
	c.mu.Unlock()
	onStatus(contract.StatusSubscribed, nil)
}

func (c *Channel) Track(ctx context.Context, state []byte) error {
	if !c.isJoined() {
		return errors.ErrNoActiveChannel
	}
	return c.link.Track(ctx, c.topic, state)
}

func (c *Channel) Send(ctx context.Context, event string, payload []byte) error {
	if !c.isJoined() {
		return errors.ErrNoActiveChannel
	}
	return c.link.Broadcast(ctx, c.topic, event, payload)
}

// PresenceState returns every key's states, most recent first.
func (c *Channel) PresenceState() map[string][][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.MapValues(c.state, func(ps []Presence, _ string) [][]byte {
		return lo.Map(ps, func(p Presence, _ int) []byte { return p.State })
	})
}

// Unsubscribe leaves the topic once; later calls return nil.
func (c *Channel) Unsubscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	joined := c.joined
	c.joined = false
	c.state = make(map[string][]Presence)
	onStatus := c.onStatus
	c.mu.Unlock()

	var err error
	if joined {
		err = c.link.Leave(c.topic)
	}
	if onStatus != nil {
		onStatus(contract.StatusClosed, nil)
	}
	return err
}

// Fail reports a lost connection. The channel can be subscribed again.
func (c *Channel) Fail(cause error) {
	c.mu.Lock()
	if !c.joined || c.closed {
		c.mu.Unlock()
		return
	}
	c.joined = false
	onStatus := c.onStatus
	c.mu.Unlock()

	c.log.Warn("Channel lost its connection", "topic", c.topic, "error", cause)
	if onStatus != nil {
		onStatus(contract.StatusChannelError, cause)
	}
}

func (c *Channel) isJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Channel) dispatch(env Envelope) {
	switch env.Type {
	case TypePresenceState:
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = copyState(env.State)
		c.mu.Unlock()
		c.emitPresence(contract.PresenceEvent{Kind: contract.PresenceSync})

	case TypePresenceDiff:
		c.applyDiff(env)

	case TypeBroadcast:
		c.mu.Lock()
		handlers := append([]func(contract.BroadcastEvent){}, c.broadcastHandlers[env.Event]...)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		for _, fn := range handlers {
			fn(contract.BroadcastEvent{Event: env.Event, Payload: env.Payload})
		}

	default:
		c.log.Debug("Ignoring envelope", "topic", c.topic, "type", env.Type)
	}
}

// applyDiff updates the mirrored state, then emits join and leave per key
// followed by one sync.
func (c *Channel) applyDiff(env Envelope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for key, joined := range env.Joins {
		current := c.state[key]
		for _, p := range joined {
			current = lo.Reject(current, func(old Presence, _ int) bool { return old.Ref == p.Ref })
			current = append([]Presence{p}, current...)
		}
		c.state[key] = current
	}
	for key, left := range env.Leaves {
		refs := lo.Map(left, func(p Presence, _ int) string { return p.Ref })
		remaining := lo.Reject(c.state[key], func(p Presence, _ int) bool { return lo.Contains(refs, p.Ref) })
		if len(remaining) == 0 {
			delete(c.state, key)
		} else {
			c.state[key] = remaining
		}
	}
	c.mu.Unlock()

	for key, joined := range env.Joins {
		c.emitPresence(contract.PresenceEvent{Kind: contract.PresenceJoin, Key: key, NewPresences: states(joined)})
	}
	for key, left := range env.Leaves {
		c.emitPresence(contract.PresenceEvent{Kind: contract.PresenceLeave, Key: key, LeftPresences: states(left)})
	}
	c.emitPresence(contract.PresenceEvent{Kind: contract.PresenceSync})
}

func (c *Channel) emitPresence(e contract.PresenceEvent) {
	c.mu.Lock()
	handlers := append([]func(contract.PresenceEvent){}, c.presenceHandlers[e.Kind]...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func states(ps []Presence) [][]byte {
	return lo.Map(ps, func(p Presence, _ int) []byte { return p.State })
}

func copyState(state map[string][]Presence) map[string][]Presence {
	out := make(map[string][]Presence, len(state))
	for key, ps := range state {
		out[key] = append([]Presence(nil), ps...)
	}
	return out
}
