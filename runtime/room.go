// Package runtime assembles presence, chat, transient display and input
// capture into the per-room surface used by a rendering layer.
package runtime

import (
	"context"
	"cursor-chat/chat"
	"cursor-chat/clock"
	"cursor-chat/contract"
	"cursor-chat/domain"
	"cursor-chat/input"
	"cursor-chat/presence"
	"cursor-chat/projection"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Room is the live collaboration state of one room for the local identity.
// Guests get an inert room: nothing is published and nothing is received.
type Room struct {
	id       domain.RoomID
	log      *slog.Logger
	clock    clock.Clock
	identity domain.Identity
	opts     Options

	presence  *presence.Synchronizer
	chat      *chat.Broadcaster
	transient *projection.TransientScheduler
	throttle  *presence.Throttle[domain.Cursor]
	input     *input.Capture

	mu     sync.Mutex
	closed bool
}

func NewRoom(log *slog.Logger, clk clock.Clock, transport contract.Transport,
	identity domain.Identity, id domain.RoomID, opts Options) *Room {
	log = log.With("room", id)
	r := &Room{
		id:        id,
		log:       log,
		clock:     clk,
		identity:  identity,
		opts:      opts,
		presence:  presence.NewSynchronizer(log, clk, transport, identity, opts.Presence),
		chat:      chat.NewBroadcaster(log, clk, transport, identity, opts.Chat),
		transient: projection.NewTransientScheduler(clk, opts.TransientWindow),
	}
	r.throttle = presence.NewThrottle(clk, opts.ThrottleWindow, r.publishCursor)
	r.input = input.NewCapture(opts.MaxTypingLength,
		func(text string) { _ = r.PublishTyping(text) },
		func(text string) { r.SendChatMessage(context.Background(), text) })
	r.chat.OnMessage(r.transient.Show)
	r.chat.OnRetract(r.transient.Retract)
	return r
}

// Join connects presence and chat. It is a no-op for guests.
func (r *Room) Join() {
	r.presence.Connect(r.id)
	r.chat.Connect(r.id)
}

func (r *Room) ID() domain.RoomID { return r.id }

// OnChange registers fn for any change worth re-rendering: participants,
// connection state, chat history or transient bubbles.
func (r *Room) OnChange(fn func()) {
	r.presence.OnChange(fn)
	r.chat.OnStatus(fn)
	r.transient.OnChange(fn)
	r.chat.OnMessage(func(domain.ChatMessage) { fn() })
}

// Participants returns every other participant keyed by user id.
func (r *Room) Participants() map[string]domain.Participant {
	return r.presence.Participants()
}

// ActiveParticipants drops participants whose last presence refresh is
// older than Options.StaleAfter.
func (r *Room) ActiveParticipants() map[string]domain.Participant {
	now := r.clock.Now()
	return lo.PickBy(r.presence.Participants(), func(_ string, p domain.Participant) bool {
		return !p.IsStale(now, r.opts.StaleAfter)
	})
}

// Local is the record last pushed for the local identity.
func (r *Room) Local() domain.Participant {
	return r.presence.Local()
}

// IsConnected reports whether both the presence and the chat channel are
// subscribed.
func (r *Room) IsConnected() bool {
	return r.presence.IsConnected() && r.chat.IsConnected()
}

// LastError reports why the room is disconnected, if it is. A presence
// failure is reported before a chat one.
func (r *Room) LastError() error {
	if err := r.presence.LastError(); err != nil {
		return err
	}
	return r.chat.LastError()
}

// PublishCursor may be called at any rate; publishes are throttled.
func (r *Room) PublishCursor(x, y float64) {
	if r.isClosed() {
		return
	}
	r.throttle.Sample(domain.Cursor{X: x, Y: y})
}

func (r *Room) publishCursor(c domain.Cursor) {
	if err := r.presence.Publish(context.Background(), domain.CursorUpdate(c.X, c.Y)); err != nil {
		r.log.Debug("Cursor not published", "error", err)
	}
}

// PublishTyping shares the typing preview and keeps it for the local bubble.
// A preview peers would reject is refused and the previous one stays.
func (r *Room) PublishTyping(text string) error {
	if r.isClosed() {
		return nil
	}
	if err := r.presence.Publish(context.Background(), domain.TypingUpdate(text)); err != nil {
		r.log.Debug("Typing preview not published", "error", err)
		return err
	}
	return nil
}

// LocalTyping is the preview last accepted for the local identity.
func (r *Room) LocalTyping() string {
	return r.presence.Local().Typing
}

func (r *Room) SendChatMessage(ctx context.Context, text string) bool {
	if r.isClosed() {
		return false
	}
	return r.chat.Send(ctx, text)
}

// RecentChatEvents returns the bounded chat history in receipt order.
func (r *Room) RecentChatEvents() []domain.ChatMessage {
	return r.chat.Messages()
}

func (r *Room) ClearChat() {
	r.chat.Clear()
}

// VisibleTransientEntries returns the bubbles currently on screen by sender.
func (r *Room) VisibleTransientEntries() map[string]domain.TransientDisplayEntry {
	return r.transient.Visible()
}

// HandleKey feeds the input state machine and reports whether the key was consumed.
func (r *Room) HandleKey(ev input.KeyEvent) bool {
	if r.isClosed() {
		return false
	}
	return r.input.Handle(ev)
}

func (r *Room) InputState() input.State {
	return r.input.State()
}

// Retry reconnects after automatic reconnection gave up.
func (r *Room) Retry() {
	r.presence.Retry()
	r.chat.Retry()
}

// Close cancels every pending timer and leaves both channels. Calling it
// again does nothing.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.throttle.Cancel()
	r.transient.Close()
	r.presence.Disconnect()
	r.chat.Disconnect()
	r.log.Info("Room closed")
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
