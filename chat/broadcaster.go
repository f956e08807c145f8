// Package chat sends and receives short, non-persisted room messages over a
// broadcast channel and keeps a bounded local history of them.
package chat

import (
	"context"
	"cursor-chat/clock"
	"cursor-chat/codec"
	"cursor-chat/contract"
	"cursor-chat/domain"
	"cursor-chat/errors"
	"cursor-chat/moderation"
	"cursor-chat/projection"
	"cursor-chat/retry"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const EventChatMessage = "chat-message"

// Moderator rewrites outbound text before it leaves the client.
type Moderator interface {
	Inspect(text string) moderation.Verdict
}

type Options struct {
	HistoryCapacity  int
	SendTimeout      time.Duration
	RetryBaseDelay   time.Duration
	MaxRetryAttempts int
	Moderator        Moderator
}

func (o Options) withDefaults() Options {
	if o.HistoryCapacity <= 0 {
		o.HistoryCapacity = projection.DefaultHistoryCapacity
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = 3
	}
	return o
}

// Broadcaster owns the chat channel of one room. The transport does not
// deliver our own broadcasts back, so a sent message is echoed into the
// history directly.
type Broadcaster struct {
	mu        sync.Mutex
	log       *slog.Logger
	clock     clock.Clock
	transport contract.Transport
	identity  domain.Identity
	opts      Options
	history   *projection.Timeline

	room       domain.RoomID
	channel    contract.Channel
	generation uint64
	connected  bool
	lastErr    error
	backoff    *retry.Backoff

	listeners        []func(domain.ChatMessage)
	retractListeners []func(domain.ChatMessage)
	statusListeners  []func()
}

func NewBroadcaster(log *slog.Logger, clk clock.Clock, transport contract.Transport,
	identity domain.Identity, opts Options) *Broadcaster {
	opts = opts.withDefaults()
	policy := retry.Policy{BaseDelay: opts.RetryBaseDelay, MaxAttempts: opts.MaxRetryAttempts}
	return &Broadcaster{
		log:       log,
		clock:     clk,
		transport: transport,
		identity:  identity,
		opts:      opts,
		history:   projection.NewTimeline(opts.HistoryCapacity),
		backoff:   retry.NewBackoff(clk, policy),
	}
}

// OnMessage registers fn for every message entering the history, local
// echoes included.
func (b *Broadcaster) OnMessage(fn func(domain.ChatMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// OnRetract registers fn for local echoes taken back after their broadcast
// was rejected.
func (b *Broadcaster) OnRetract(fn func(domain.ChatMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retractListeners = append(b.retractListeners, fn)
}

// OnStatus registers fn, called after the connection state changed.
func (b *Broadcaster) OnStatus(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusListeners = append(b.statusListeners, fn)
}

func (b *Broadcaster) Connect(room domain.RoomID) {
	if b.identity.IsGuest() {
		b.log.Debug("Chat disabled for guest")
		return
	}

	b.mu.Lock()
	if b.channel != nil && b.room == room {
		b.mu.Unlock()
		return
	}
	previous := b.releaseLocked()
	b.room = room
	b.lastErr = nil
	channel := b.transport.Channel(room.ChatTopic(), contract.ChannelOptions{
		BroadcastSelf: false,
		BroadcastAck:  true,
	})
	b.channel = channel
	generation := b.generation
	b.mu.Unlock()

	b.unsubscribe(previous)

	b.log.Info("Connecting chat channel", "room", room)
	channel.OnBroadcast(EventChatMessage, func(e contract.BroadcastEvent) {
		b.handleMessage(generation, e)
	})
	channel.Subscribe(b.statusHandler(generation))
}

// Retry resubscribes a channel that lost its subscription, typically after
// automatic reconnection gave up.
func (b *Broadcaster) Retry() {
	b.mu.Lock()
	if b.channel == nil || b.connected {
		b.mu.Unlock()
		return
	}
	b.backoff.Reset()
	b.lastErr = nil
	channel, generation, room := b.channel, b.generation, b.room
	b.mu.Unlock()

	b.log.Info("Manual chat retry", "room", room)
	channel.Subscribe(b.statusHandler(generation))
}

// Disconnect leaves the chat channel. The history is kept.
func (b *Broadcaster) Disconnect() {
	b.mu.Lock()
	room := b.room
	channel := b.releaseLocked()
	b.mu.Unlock()

	if channel == nil {
		return
	}
	b.unsubscribe(channel)
	b.log.Info("Chat channel released", "room", room)
}

// Send reports whether text was broadcast. Failures are logged, never returned.
func (b *Broadcaster) Send(ctx context.Context, text string) bool {
	if _, err := b.SendMessage(ctx, text); err != nil {
		b.log.Debug("Chat message not sent", "error", err)
		return false
	}
	return true
}

// SendMessage builds a message from text, echoes it locally and broadcasts
// it. When the broadcast is rejected the echo is removed again.
func (b *Broadcaster) SendMessage(ctx context.Context, text string) (domain.ChatMessage, error) {
	msg, ok := domain.NewChatMessage(uuid.New(), b.identity, text, b.clock.Now())
	if !ok {
		return domain.ChatMessage{}, errors.ErrEmptyMessage
	}

	b.mu.Lock()
	channel, connected, room := b.channel, b.connected, b.room
	b.mu.Unlock()
	if channel == nil || !connected {
		return domain.ChatMessage{}, errors.ErrNoActiveChannel
	}

	if b.opts.Moderator != nil {
		msg.Text = b.opts.Moderator.Inspect(msg.Text).Text
	}
	if err := domain.ValidateChatMessage(msg); err != nil {
		return domain.ChatMessage{}, err
	}
	payload, err := codec.Marshal(msg)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("encoding chat message: %w", err)
	}

	b.history.Append(msg)
	b.notify(msg)

	ctx, cancel := context.WithTimeout(ctx, b.opts.SendTimeout)
	defer cancel()
	if err := channel.Send(ctx, EventChatMessage, payload); err != nil {
		b.history.Remove(msg.ID)
		b.retract(msg)
		b.log.Warn("Chat broadcast rejected", "room", room, "id", msg.ID, "error", err)
		return domain.ChatMessage{}, fmt.Errorf("%w: %v", errors.ErrSendFailure, err)
	}
	return msg, nil
}

// Messages returns the history in receipt order.
func (b *Broadcaster) Messages() []domain.ChatMessage {
	return b.history.Messages()
}

// Clear empties the local history only.
func (b *Broadcaster) Clear() {
	b.history.Clear()
}

func (b *Broadcaster) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// LastError is the last connection failure, or nil once subscribed.
// It wraps errors.ErrRetriesExhausted when automatic retries stopped.
func (b *Broadcaster) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Broadcaster) statusHandler(generation uint64) func(contract.Status, error) {
	return func(status contract.Status, err error) {
		b.handleStatus(generation, status, err)
	}
}

func (b *Broadcaster) handleStatus(generation uint64, status contract.Status, err error) {
	b.mu.Lock()
	if generation != b.generation {
		b.mu.Unlock()
		return
	}
	room := b.room

	switch status {
	case contract.StatusSubscribed:
		b.connected = true
		b.backoff.Reset()
		b.lastErr = nil
		b.mu.Unlock()
		b.log.Info("Connected to chat channel", "room", room)

	case contract.StatusChannelError, contract.StatusTimedOut:
		b.connected = false
		b.lastErr = fmt.Errorf("%w: %s: %v", errors.ErrConnectionFailure, status, err)
		b.scheduleRetryLocked(generation)
		b.mu.Unlock()

	case contract.StatusClosed:
		b.connected = false
		b.mu.Unlock()
		b.log.Info("Chat channel closed", "room", room)

	default:
		b.mu.Unlock()
		b.log.Warn("Unknown chat channel status", "status", status)
		return
	}
	b.notifyStatus()
}

func (b *Broadcaster) scheduleRetryLocked(generation uint64) {
	channel := b.channel
	attempt, delay, ok := b.backoff.Schedule(func() {
		b.mu.Lock()
		stale := generation != b.generation
		b.mu.Unlock()
		if !stale {
			channel.Subscribe(b.statusHandler(generation))
		}
	})
	if !ok {
		b.lastErr = fmt.Errorf("%w: %w", errors.ErrRetriesExhausted, b.lastErr)
		b.log.Error("Chat reconnection abandoned", "room", b.room, "attempts", attempt)
		return
	}
	b.log.Warn("Retrying chat connection", "room", b.room, "attempt", attempt, "delay", delay)
}

func (b *Broadcaster) handleMessage(generation uint64, e contract.BroadcastEvent) {
	var msg domain.ChatMessage
	if err := codec.Unmarshal(e.Payload, &msg); err != nil {
		b.log.Warn("Dropping undecodable chat message", "error", err)
		return
	}
	if err := domain.ValidateChatMessage(msg); err != nil {
		b.log.Warn("Dropping invalid chat message", "error", err)
		return
	}

	b.mu.Lock()
	stale := generation != b.generation
	b.mu.Unlock()
	if stale {
		return
	}

	b.history.Append(msg)
	b.log.Debug("Chat message received", "from", msg.SenderID, "id", msg.ID)
	b.notify(msg)
}

func (b *Broadcaster) releaseLocked() contract.Channel {
	channel := b.channel
	b.channel = nil
	b.generation++
	b.connected = false
	b.backoff.Reset()
	return channel
}

func (b *Broadcaster) unsubscribe(channel contract.Channel) {
	if channel == nil {
		return
	}
	if err := channel.Unsubscribe(); err != nil {
		b.log.Warn("Error unsubscribing chat channel", "topic", channel.Topic(), "error", err)
	}
}

func (b *Broadcaster) notify(msg domain.ChatMessage) {
	b.mu.Lock()
	listeners := append([]func(domain.ChatMessage){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

func (b *Broadcaster) retract(msg domain.ChatMessage) {
	b.mu.Lock()
	listeners := append([]func(domain.ChatMessage){}, b.retractListeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

func (b *Broadcaster) notifyStatus() {
	b.mu.Lock()
	listeners := append([]func(){}, b.statusListeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
