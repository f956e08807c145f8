// Package realtime is an in-memory topic broker with presence tracking and
// broadcast, and the client-side channel that speaks to it.
package realtime

import (
	"cursor-chat/clock"
	"cursor-chat/contract"
	"cursor-chat/errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

type member struct {
	id      string
	opts    contract.ChannelOptions
	deliver Delivery
}

func (m *member) presenceKey() string {
	if m.opts.PresenceKey != "" {
		return m.opts.PresenceKey
	}
	return m.id
}

type trackedPresence struct {
	key       string
	presence  Presence
	updatedAt time.Time
}

type topicState struct {
	members   map[string]*member
	presences map[string]*trackedPresence // by member id
}

type outbound struct {
	deliver  Delivery
	envelope Envelope
}

// TopicInfo summarizes one live topic.
type TopicInfo struct {
	Topic     string `json:"topic"`
	Members   int    `json:"members"`
	Presences int    `json:"presences"`
}

// Hub routes presence and broadcast traffic between members of a topic.
// Deliveries happen after the hub lock is released.
type Hub struct {
	mu     sync.Mutex
	log    *slog.Logger
	clock  clock.Clock
	topics map[string]*topicState
}

func NewHub(log *slog.Logger, clk clock.Clock) *Hub {
	return &Hub{log: log, clock: clk, topics: make(map[string]*topicState)}
}

// Join adds memberID to topic and sends it the current presence state.
// Joining again refreshes the member's options and delivery.
func (h *Hub) Join(topic, memberID string, opts contract.ChannelOptions, deliver Delivery) {
	h.mu.Lock()
	t, ok := h.topics[topic]
	if !ok {
		t = &topicState{members: make(map[string]*member), presences: make(map[string]*trackedPresence)}
		h.topics[topic] = t
	}
	t.members[memberID] = &member{id: memberID, opts: opts, deliver: deliver}
	state := stateOf(t)
	h.mu.Unlock()

	h.log.Debug("Member joined topic", "topic", topic, "member", memberID)
	deliver(Envelope{Type: TypePresenceState, Topic: topic, State: state})
}

// Leave removes memberID and its presence from topic. Unknown members are ignored.
func (h *Hub) Leave(topic, memberID string) {
	h.mu.Lock()
	out := h.leaveLocked(topic, memberID)
	h.mu.Unlock()
	flush(out)
}

// LeaveAll removes memberID from every topic, e.g. when its connection drops.
func (h *Hub) LeaveAll(memberID string) {
	h.mu.Lock()
	var out []outbound
	for topic, t := range h.topics {
		if _, ok := t.members[memberID]; ok {
			out = append(out, h.leaveLocked(topic, memberID)...)
		}
	}
	h.mu.Unlock()
	flush(out)
}

func (h *Hub) leaveLocked(topic, memberID string) []outbound {
	t, ok := h.topics[topic]
	if !ok {
		return nil
	}
	if _, ok := t.members[memberID]; !ok {
		return nil
	}
	delete(t.members, memberID)
	var out []outbound
	if tracked, ok := t.presences[memberID]; ok {
		delete(t.presences, memberID)
		out = diffLocked(t, topic, nil, map[string][]Presence{tracked.key: {tracked.presence}})
	}
	if len(t.members) == 0 {
		delete(h.topics, topic)
	}
	return out
}

// Track stores the member's presence state and announces it to the topic.
func (h *Hub) Track(topic, memberID string, state []byte) error {
	h.mu.Lock()
	t, m, err := h.memberLocked(topic, memberID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	p := Presence{Ref: memberID, State: state}
	t.presences[memberID] = &trackedPresence{key: m.presenceKey(), presence: p, updatedAt: h.clock.Now()}
	out := diffLocked(t, topic, map[string][]Presence{m.presenceKey(): {p}}, nil)
	h.mu.Unlock()

	flush(out)
	return nil
}

// Broadcast delivers payload to every other member of topic, and to the
// sender as well when it joined with BroadcastSelf.
func (h *Hub) Broadcast(topic, memberID, event string, payload []byte) error {
	h.mu.Lock()
	t, sender, err := h.memberLocked(topic, memberID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	env := Envelope{Type: TypeBroadcast, Topic: topic, Event: event, Payload: payload}
	out := make([]outbound, 0, len(t.members))
	for id, m := range t.members {
		if id == sender.id && !sender.opts.BroadcastSelf {
			continue
		}
		out = append(out, outbound{deliver: m.deliver, envelope: env})
	}
	h.mu.Unlock()

	flush(out)
	return nil
}

// Reap drops presences not refreshed within maxAge and returns how many
// were dropped. Members stay joined.
func (h *Hub) Reap(maxAge time.Duration) int {
	now := h.clock.Now()

	h.mu.Lock()
	var out []outbound
	reaped := 0
	for topic, t := range h.topics {
		leaves := make(map[string][]Presence)
		for id, tracked := range t.presences {
			if now.Sub(tracked.updatedAt) <= maxAge {
				continue
			}
			delete(t.presences, id)
			leaves[tracked.key] = append(leaves[tracked.key], tracked.presence)
			reaped++
		}
		if len(leaves) > 0 {
			out = append(out, diffLocked(t, topic, nil, leaves)...)
		}
	}
	h.mu.Unlock()

	flush(out)
	return reaped
}

// PresenceState returns the tracked presences of topic by key.
func (h *Hub) PresenceState(topic string) (map[string][]Presence, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[topic]
	if !ok {
		return nil, false
	}
	return stateOf(t), true
}

func (h *Hub) Topics() []TopicInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	infos := lo.MapToSlice(h.topics, func(name string, t *topicState) TopicInfo {
		return TopicInfo{Topic: name, Members: len(t.members), Presences: len(t.presences)}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Topic < infos[j].Topic })
	return infos
}

func (h *Hub) memberLocked(topic, memberID string) (*topicState, *member, error) {
	t, ok := h.topics[topic]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", errors.ErrUnknownTopic, topic)
	}
	m, ok := t.members[memberID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not joined to %s", errors.ErrChannelClosed, memberID, topic)
	}
	return t, m, nil
}

// stateOf groups presences by key, most recently updated first.
func stateOf(t *topicState) map[string][]Presence {
	grouped := lo.GroupBy(lo.Values(t.presences), func(p *trackedPresence) string { return p.key })
	state := make(map[string][]Presence, len(grouped))
	for key, tracked := range grouped {
		sort.Slice(tracked, func(i, j int) bool { return tracked[i].updatedAt.After(tracked[j].updatedAt) })
		state[key] = lo.Map(tracked, func(p *trackedPresence, _ int) Presence { return p.presence })
	}
	return state
}

func diffLocked(t *topicState, topic string, joins, leaves map[string][]Presence) []outbound {
	env := Envelope{Type: TypePresenceDiff, Topic: topic, Joins: joins, Leaves: leaves}
	out := make([]outbound, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, outbound{deliver: m.deliver, envelope: env})
	}
	return out
}

func flush(out []outbound) {
	for _, o := range out {
		o.deliver(o.envelope)
	}
}
