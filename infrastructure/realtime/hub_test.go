package realtime

import (
	"cursor-chat/clock"
	"cursor-chat/contract"
	"cursor-chat/errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type inbox struct {
	envelopes []Envelope
}

func (i *inbox) deliver(env Envelope) { i.envelopes = append(i.envelopes, env) }

func (i *inbox) last() Envelope { return i.envelopes[len(i.envelopes)-1] }

func (i *inbox) ofType(t EnvelopeType) []Envelope {
	var out []Envelope
	for _, env := range i.envelopes {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func newTestHub() (*Hub, *clock.FakeClock) {
	clk := clock.Fake(epoch)
	return NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), clk), clk
}

func TestHub_Join_SendsCurrentState(t *testing.T) {
	req := require.New(t)
	hub, _ := newTestHub()
	alice, bob := &inbox{}, &inbox{}

	// Given alice tracked a state
	hub.Join("room:main", "m1", contract.ChannelOptions{PresenceKey: "alice"}, alice.deliver)
	req.NoError(hub.Track("room:main", "m1", []byte("a")))

	// When bob joins
	hub.Join("room:main", "m2", contract.ChannelOptions{PresenceKey: "bob"}, bob.deliver)

	// Then bob receives the snapshot
	req.Len(bob.envelopes, 1)
	req.Equal(TypePresenceState, bob.last().Type)
	req.Equal(map[string][]Presence{"alice": {{Ref: "m1", State: []byte("a")}}}, bob.last().State)
}

func TestHub_Track_AnnouncesDiffToEveryMember(t *testing.T) {
	req := require.New(t)
	hub, _ := newTestHub()
	alice, bob := &inbox{}, &inbox{}
	hub.Join("room:main", "m1", contract.ChannelOptions{PresenceKey: "alice"}, alice.deliver)
	hub.Join("room:main", "m2", contract.ChannelOptions{PresenceKey: "bob"}, bob.deliver)

	req.NoError(hub.Track("room:main", "m2", []byte("b")))

	for _, box := range []*inbox{alice, bob} {
		diff := box.last()
		req.Equal(TypePresenceDiff, diff.Type)
		req.Equal(map[string][]Presence{"bob": {{Ref: "m2", State: []byte("b")}}}, diff.Joins)
		req.Empty(diff.Leaves)
	}
}

func TestHub_Track_UnknownMember(t *testing.T) {
	req := require.New(t)
	hub, _ := newTestHub()

	req.ErrorIs(hub.Track("room:main", "ghost", nil), errors.ErrUnknownTopic)

	hub.Join("room:main", "m1", contract.ChannelOptions{}, (&inbox{}).deliver)
	req.ErrorIs(hub.Track("room:main", "ghost", nil), errors.ErrChannelClosed)
}

func TestHub_Broadcast_SelfSuppression(t *testing.T) {
	req := require.New(t)
	hub, _ := newTestHub()
	quiet, echo, other := &inbox{}, &inbox{}, &inbox{}
	hub.Join("chat:main", "quiet", contract.ChannelOptions{}, quiet.deliver)
	hub.Join("chat:main", "echo", contract.ChannelOptions{BroadcastSelf: true}, echo.deliver)
	hub.Join("chat:main", "other", contract.ChannelOptions{}, other.deliver)

	// When each sender broadcasts once
	req.NoError(hub.Broadcast("chat:main", "quiet", "chat-message", []byte("q")))
	req.NoError(hub.Broadcast("chat:main", "echo", "chat-message", []byte("e")))

	// Then only the member asking for self delivery hears itself
	req.Len(quiet.ofType(TypeBroadcast), 1)
	req.Len(echo.ofType(TypeBroadcast), 2)
	req.Len(other.ofType(TypeBroadcast), 2)
	req.Equal([]byte("e"), quiet.ofType(TypeBroadcast)[0].Payload)
}

func TestHub_Leave_AnnouncesAndDropsEmptyTopic(t *testing.T) {
	req := require.New(t)
	hub, _ := newTestHub()
	alice, bob := &inbox{}, &inbox{}
	hub.Join("room:main", "m1", contract.ChannelOptions{PresenceKey: "alice"}, alice.deliver)
	hub.Join("room:main", "m2", contract.ChannelOptions{PresenceKey: "bob"}, bob.deliver)
	req.NoError(hub.Track("room:main", "m1", []byte("a")))

	// When alice leaves
	hub.Leave("room:main", "m1")
	hub.Leave("room:main", "m1")

	// Then bob sees a single leave diff
	diffs := bob.ofType(TypePresenceDiff)
	req.Len(diffs, 2)
	req.Equal(map[string][]Presence{"alice": {{Ref: "m1", State: []byte("a")}}}, diffs[1].Leaves)

	// And the topic vanishes with its last member
	hub.LeaveAll("m2")
	req.Empty(hub.Topics())
}

func TestHub_Reap_DropsStalePresences(t *testing.T) {
	req := require.New(t)
	hub, clk := newTestHub()
	watcher := &inbox{}
	hub.Join("room:main", "w", contract.ChannelOptions{PresenceKey: "watcher"}, watcher.deliver)
	hub.Join("room:main", "m1", contract.ChannelOptions{PresenceKey: "alice"}, (&inbox{}).deliver)
	hub.Join("room:main", "m2", contract.ChannelOptions{PresenceKey: "bob"}, (&inbox{}).deliver)
	req.NoError(hub.Track("room:main", "m1", []byte("a")))
	req.NoError(hub.Track("room:main", "m2", []byte("b")))

	// Given alice keeps refreshing while bob goes silent
	clk.Advance(20 * time.Second)
	req.NoError(hub.Track("room:main", "m1", []byte("a2")))
	clk.Advance(15 * time.Second)

	// When reaping presences older than 30s
	reaped := hub.Reap(30 * time.Second)

	// Then only bob is dropped
	req.Equal(1, reaped)
	state, ok := hub.PresenceState("room:main")
	req.True(ok)
	req.Contains(state, "alice")
	req.NotContains(state, "bob")
	req.Contains(watcher.last().Leaves, "bob")
	req.Equal([]TopicInfo{{Topic: "room:main", Members: 3, Presences: 1}}, hub.Topics())
}

func TestHub_PresenceState_MostRecentFirst(t *testing.T) {
	req := require.New(t)
	hub, clk := newTestHub()

	// Given one user connected twice
	hub.Join("room:main", "tab1", contract.ChannelOptions{PresenceKey: "alice"}, (&inbox{}).deliver)
	hub.Join("room:main", "tab2", contract.ChannelOptions{PresenceKey: "alice"}, (&inbox{}).deliver)
	req.NoError(hub.Track("room:main", "tab1", []byte("old")))
	clk.Advance(time.Second)
	req.NoError(hub.Track("room:main", "tab2", []byte("new")))

	state, _ := hub.PresenceState("room:main")
	req.Equal([]Presence{{Ref: "tab2", State: []byte("new")}, {Ref: "tab1", State: []byte("old")}}, state["alice"])
}
