// Package presence keeps a room-scoped view of every other participant's
// live state converged with the transport, and publishes the local
// participant at bounded frequency.
package presence

import (
	"context"
	"cursor-chat/clock"
	"cursor-chat/codec"
	"cursor-chat/contract"
	"cursor-chat/domain"
	"cursor-chat/errors"
	"cursor-chat/retry"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Options tunes the synchronizer. Zero fields take the defaults.
type Options struct {
	HeartbeatInterval time.Duration
	RetryBaseDelay    time.Duration
	MaxRetryAttempts  int
	PublishTimeout    time.Duration
}

func (o Options) RetryPolicy() retry.Policy {
	return retry.Policy{BaseDelay: o.RetryBaseDelay, MaxAttempts: o.MaxRetryAttempts}
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: time.Second,
		RetryBaseDelay:    time.Second,
		MaxRetryAttempts:  3,
		PublishTimeout:    5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = d.RetryBaseDelay
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = d.PublishTimeout
	}
	return o
}

// Synchronizer exclusively owns the participant map of one room and the
// presence channel it was built from.
//
// Every channel callback carries the generation it was registered under;
// callbacks from a torn-down or replaced channel are ignored.
type Synchronizer struct {
	mu        sync.Mutex
	publishMu sync.Mutex
	log       *slog.Logger
	clock     clock.Clock
	transport contract.Transport
	identity  domain.Identity
	opts      Options

	room       domain.RoomID
	channel    contract.Channel
	generation uint64
	connected  bool
	lastErr    error
	backoff    *retry.Backoff
	heartbeat  *clock.Timer

	local     domain.Participant
	others    map[string]domain.Participant
	listeners []func()
}

func NewSynchronizer(log *slog.Logger, clk clock.Clock, transport contract.Transport,
	identity domain.Identity, opts Options) *Synchronizer {
	opts = opts.withDefaults()
	return &Synchronizer{
		log:       log,
		clock:     clk,
		transport: transport,
		identity:  identity,
		opts:      opts,
		backoff:   retry.NewBackoff(clk, opts.RetryPolicy()),
		local:     domain.NewLocalParticipant(identity, clk.Now()),
		others:    make(map[string]domain.Participant),
	}
}

// OnChange registers fn to be called after the participant map or the
// connection state changes. Register before Connect.
func (s *Synchronizer) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Connect opens the presence channel of room. Connecting again to the same
// room is a no-op; connecting to another room leaves the current one first.
// Guests never connect.
func (s *Synchronizer) Connect(room domain.RoomID) {
	if s.identity.IsGuest() {
		s.log.Debug("Presence disabled for guest")
		return
	}

	s.mu.Lock()
	if s.channel != nil && s.room == room {
		s.mu.Unlock()
		return
	}
	previous := s.releaseLocked()
	s.room = room
	s.lastErr = nil
	channel := s.transport.Channel(room.PresenceTopic(), contract.ChannelOptions{
		PresenceKey: s.identity.UserID,
	})
	s.channel = channel
	generation := s.generation
	s.mu.Unlock()

	s.unsubscribe(previous)

	s.log.Info("Connecting presence channel", "room", room, "user", s.identity.UserID)
	channel.OnPresence(contract.PresenceSync, func(contract.PresenceEvent) {
		s.handleSync(generation, channel)
	})
	channel.OnPresence(contract.PresenceJoin, func(e contract.PresenceEvent) {
		s.handleJoin(generation, e)
	})
	channel.OnPresence(contract.PresenceLeave, func(e contract.PresenceEvent) {
		s.handleLeave(generation, e)
	})
	channel.Subscribe(s.statusHandler(generation))
}

// Disconnect unsubscribes, clears the participant map and cancels every
// pending timer. Calling it again does nothing.
func (s *Synchronizer) Disconnect() {
	s.mu.Lock()
	room := s.room
	channel := s.releaseLocked()
	s.mu.Unlock()

	if channel == nil {
		return
	}
	s.unsubscribe(channel)
	s.log.Info("Presence channel released", "room", room)
	s.notify()
}

// Retry resubscribes after reconnection attempts were exhausted.
func (s *Synchronizer) Retry() {
	s.mu.Lock()
	if s.channel == nil || s.connected {
		s.mu.Unlock()
		return
	}
	s.backoff.Reset()
	s.lastErr = nil
	channel, generation, room := s.channel, s.generation, s.room
	s.mu.Unlock()

	s.log.Info("Manual presence retry", "room", room)
	channel.Subscribe(s.statusHandler(generation))
}

// Publish merges update over the local participant and pushes the whole
// record. The local state is kept even when no channel is active. A merged
// record that peers would reject is refused with ErrMalformedPayload and
// leaves the local state untouched.
func (s *Synchronizer) Publish(ctx context.Context, update domain.ParticipantUpdate) error {
	if s.identity.IsGuest() {
		return errors.ErrNoActiveChannel
	}
	s.mu.Lock()
	next := update.Apply(s.local, s.clock.Now())
	if err := domain.ValidateParticipant(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.local = next
	s.mu.Unlock()
	return s.push(ctx)
}

// Participants returns every remote participant, never the local one.
func (s *Synchronizer) Participants() map[string]domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Assign(s.others)
}

func (s *Synchronizer) Local() domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Synchronizer) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastError is the last connection failure, or nil once subscribed.
// It wraps errors.ErrRetriesExhausted when automatic retries stopped.
func (s *Synchronizer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// push serializes publishes and reads the latest local state right before
// sending, so a slow push can never overwrite a newer one with stale data.
func (s *Synchronizer) push(ctx context.Context) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	channel, connected, room := s.channel, s.connected, s.room
	s.local.LastSeen = s.clock.Now()
	snapshot := s.local
	s.mu.Unlock()

	if channel == nil || !connected {
		return errors.ErrNoActiveChannel
	}

	payload, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding presence: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	if err := channel.Track(ctx, payload); err != nil {
		s.log.Warn("Error tracking presence", "room", room, "error", err)
		return fmt.Errorf("%w: %v", errors.ErrSendFailure, err)
	}
	return nil
}

func (s *Synchronizer) statusHandler(generation uint64) func(contract.Status, error) {
	return func(status contract.Status, err error) {
		s.handleStatus(generation, status, err)
	}
}

func (s *Synchronizer) handleStatus(generation uint64, status contract.Status, err error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	room := s.room

	switch status {
	case contract.StatusSubscribed:
		s.connected = true
		s.backoff.Reset()
		s.lastErr = nil
		s.scheduleHeartbeatLocked(generation)
		s.mu.Unlock()

		s.log.Info("Connected to presence channel", "room", room)
		if err := s.push(context.Background()); err != nil {
			s.log.Warn("Initial presence track failed", "room", room, "error", err)
		}

	case contract.StatusChannelError, contract.StatusTimedOut:
		s.connected = false
		s.heartbeat.Stop()
		s.heartbeat = nil
		s.lastErr = fmt.Errorf("%w: %s: %v", errors.ErrConnectionFailure, status, err)
		s.scheduleRetryLocked(generation)
		s.mu.Unlock()

	case contract.StatusClosed:
		s.connected = false
		s.heartbeat.Stop()
		s.heartbeat = nil
		s.mu.Unlock()
		s.log.Info("Presence channel closed", "room", room)

	default:
		s.mu.Unlock()
		s.log.Warn("Unknown presence channel status", "status", status)
		return
	}
	s.notify()
}

// scheduleRetryLocked resubscribes after baseDelay * attempt, up to
// MaxRetryAttempts, then leaves the room disconnected.
func (s *Synchronizer) scheduleRetryLocked(generation uint64) {
	channel := s.channel
	attempt, delay, ok := s.backoff.Schedule(func() {
		s.mu.Lock()
		stale := generation != s.generation
		s.mu.Unlock()
		if !stale {
			channel.Subscribe(s.statusHandler(generation))
		}
	})
	if !ok {
		s.lastErr = fmt.Errorf("%w: %w", errors.ErrRetriesExhausted, s.lastErr)
		s.log.Error("Presence reconnection abandoned", "room", s.room, "attempts", attempt)
		return
	}
	s.log.Warn("Retrying presence connection", "room", s.room, "attempt", attempt, "delay", delay)
}

func (s *Synchronizer) scheduleHeartbeatLocked(generation uint64) {
	s.heartbeat.Stop()
	s.heartbeat = s.clock.AfterFunc(s.opts.HeartbeatInterval, func() {
		s.mu.Lock()
		if generation != s.generation || !s.connected {
			s.mu.Unlock()
			return
		}
		s.scheduleHeartbeatLocked(generation)
		room := s.room
		s.mu.Unlock()

		if err := s.push(context.Background()); err != nil {
			s.log.Debug("Heartbeat publish failed", "room", room, "error", err)
		}
	})
}

// handleSync replaces the whole remote map: the last full snapshot wins
// over any join or leave processed before it.
func (s *Synchronizer) handleSync(generation uint64, channel contract.Channel) {
	state := lo.OmitByKeys(channel.PresenceState(), []string{s.identity.UserID})

	others := make(map[string]domain.Participant, len(state))
	for key, presences := range state {
		if p, ok := s.decode(key, presences); ok {
			others[key] = p
		}
	}

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.others = others
	s.mu.Unlock()
	s.notify()
}

func (s *Synchronizer) handleJoin(generation uint64, e contract.PresenceEvent) {
	if e.Key == s.identity.UserID {
		return
	}
	p, ok := s.decode(e.Key, e.NewPresences)
	if !ok {
		return
	}

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.others[e.Key] = p
	room := s.room
	s.mu.Unlock()

	s.log.Debug("User joined", "room", room, "user", e.Key)
	s.notify()
}

func (s *Synchronizer) handleLeave(generation uint64, e contract.PresenceEvent) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	_, known := s.others[e.Key]
	delete(s.others, e.Key)
	room := s.room
	s.mu.Unlock()

	if known {
		s.log.Debug("User left", "room", room, "user", e.Key)
		s.notify()
	}
}

// decode reads the most recent state of a presence key. Malformed states
// are dropped, never propagated.
func (s *Synchronizer) decode(key string, presences [][]byte) (domain.Participant, bool) {
	if len(presences) == 0 {
		return domain.Participant{}, false
	}
	var p domain.Participant
	if err := codec.Unmarshal(presences[0], &p); err != nil {
		s.log.Warn("Dropping undecodable presence", "key", key, "error", err)
		return domain.Participant{}, false
	}
	if err := domain.ValidateParticipant(p); err != nil {
		s.log.Warn("Dropping invalid presence", "key", key, "error", err)
		return domain.Participant{}, false
	}
	if p.UserID != key {
		s.log.Warn("Dropping presence with mismatched key", "key", key, "user", p.UserID)
		return domain.Participant{}, false
	}
	return p, true
}

// releaseLocked detaches the current channel, clears the map and stops
// every timer. The caller unsubscribes the returned channel unlocked.
func (s *Synchronizer) releaseLocked() contract.Channel {
	channel := s.channel
	s.channel = nil
	s.generation++
	s.connected = false
	s.others = make(map[string]domain.Participant)
	s.backoff.Reset()
	s.heartbeat.Stop()
	s.heartbeat = nil
	return channel
}

func (s *Synchronizer) unsubscribe(channel contract.Channel) {
	if channel == nil {
		return
	}
	if err := channel.Unsubscribe(); err != nil {
		s.log.Warn("Error unsubscribing presence channel", "topic", channel.Topic(), "error", err)
	}
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
