package chat

import (
	"context"
	"cursor-chat/clock"
	"cursor-chat/codec"
	"cursor-chat/contract"
	"cursor-chat/domain"
	"cursor-chat/errors"
	"cursor-chat/mocks"
	"cursor-chat/moderation"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	alice = domain.Identity{UserID: "alice", DisplayName: "Alice", AvatarRef: "a.png"}
)

type harness struct {
	t         *testing.T
	clock     *clock.FakeClock
	transport *mocks.MockTransport
	channel   *mocks.MockChannel
	chat      *Broadcaster
	onMessage func(contract.BroadcastEvent)
	onStatus  func(contract.Status, error)
}

func newHarness(t *testing.T, opts Options) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		t:         t,
		clock:     clock.Fake(epoch),
		transport: mocks.NewMockTransport(ctrl),
		channel:   mocks.NewMockChannel(ctrl),
	}
	h.chat = NewBroadcaster(logs.GetLoggerFromLevel(slog.LevelDebug), h.clock, h.transport, alice, opts)
	return h
}

// connect subscribes the broadcaster and reports SUBSCRIBED.
func (h *harness) connect() {
	h.transport.EXPECT().
		Channel("chat:main", contract.ChannelOptions{BroadcastSelf: false, BroadcastAck: true}).
		Return(h.channel)
	h.channel.EXPECT().
		OnBroadcast(EventChatMessage, gomock.Any()).
		Do(func(_ string, handler func(contract.BroadcastEvent)) { h.onMessage = handler })
	h.channel.EXPECT().
		Subscribe(gomock.Any()).
		Do(func(onStatus func(contract.Status, error)) {
			h.onStatus = onStatus
			onStatus(contract.StatusSubscribed, nil)
		})
	h.chat.Connect(domain.DefaultRoom)
}

func (h *harness) receive(msg domain.ChatMessage) {
	payload, err := codec.Marshal(msg)
	require.NoError(h.t, err)
	h.onMessage(contract.BroadcastEvent{Event: EventChatMessage, Payload: payload})
}

func inbound(sender, text string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:                uuid.New(),
		SenderID:          sender,
		SenderDisplayName: strings.ToUpper(sender),
		Text:              text,
		SentAt:            epoch,
	}
}

func TestBroadcaster_Send_RejectsBlankTextWithoutTransport(t *testing.T) {
	// Given a connected broadcaster whose channel must never be used to send
	h := newHarness(t, Options{})
	h.connect()

	for _, text := range []string{"", "   ", "\t\n"} {
		require.False(t, h.chat.Send(context.Background(), text))
	}
	require.Empty(t, h.chat.Messages())
}

func TestBroadcaster_Send_WithoutChannel(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})

	// When sending before connecting
	_, err := h.chat.SendMessage(context.Background(), "hello")

	// Then nothing is sent nor echoed
	req.ErrorIs(err, errors.ErrNoActiveChannel)
	req.False(h.chat.Send(context.Background(), "hello"))
	req.Empty(h.chat.Messages())
}

func TestBroadcaster_Send_EchoesBeforeBroadcastReturns(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()

	var echoed []domain.ChatMessage
	h.chat.OnMessage(func(m domain.ChatMessage) { echoed = append(echoed, m) })

	// Given a transport that inspects the history while sending
	h.channel.EXPECT().
		Send(gomock.Any(), EventChatMessage, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, payload []byte) error {
			var sent domain.ChatMessage
			req.NoError(codec.Unmarshal(payload, &sent))
			req.Equal("hello there", sent.Text)
			req.Equal("alice", sent.SenderID)
			req.Equal(epoch, sent.SentAt)
			req.Len(h.chat.Messages(), 1)
			return nil
		})

	// When sending a padded text
	ok := h.chat.Send(context.Background(), "  hello there ")

	// Then the trimmed message is in history and announced once
	req.True(ok)
	req.Len(h.chat.Messages(), 1)
	req.Equal("hello there", h.chat.Messages()[0].Text)
	req.Len(echoed, 1)
}

func TestBroadcaster_Send_RollsBackRejectedBroadcast(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()
	h.receive(inbound("bob", "first"))

	h.channel.EXPECT().
		Send(gomock.Any(), EventChatMessage, gomock.Any()).
		Return(fmt.Errorf("rate limited"))

	// When the broadcast is rejected
	_, err := h.chat.SendMessage(context.Background(), "lost")

	// Then the echo is removed and the error is a send failure
	req.ErrorIs(err, errors.ErrSendFailure)
	req.Len(h.chat.Messages(), 1)
	req.Equal("first", h.chat.Messages()[0].Text)
}

func TestBroadcaster_Send_RetractsRejectedEcho(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()

	var echoed, retracted []domain.ChatMessage
	h.chat.OnMessage(func(m domain.ChatMessage) { echoed = append(echoed, m) })
	h.chat.OnRetract(func(m domain.ChatMessage) { retracted = append(retracted, m) })

	h.channel.EXPECT().
		Send(gomock.Any(), EventChatMessage, gomock.Any()).
		Return(fmt.Errorf("rate limited"))

	// When the broadcast of an echoed message is rejected
	req.False(h.chat.Send(context.Background(), "lost"))

	// Then the very same message is announced as retracted
	req.Len(echoed, 1)
	req.Equal(echoed, retracted)
}

func TestBroadcaster_Send_AcceptedIsNeverRetracted(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect()
	retracted := 0
	h.chat.OnRetract(func(domain.ChatMessage) { retracted++ })

	h.channel.EXPECT().Send(gomock.Any(), EventChatMessage, gomock.Any()).Return(nil)

	require.True(t, h.chat.Send(context.Background(), "kept"))
	require.Zero(t, retracted)
}

func TestBroadcaster_Send_TooLong(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect()

	_, err := h.chat.SendMessage(context.Background(), strings.Repeat("a", domain.MaxMessageLength+1))
	require.ErrorIs(t, err, errors.ErrMalformedPayload)
	require.Empty(t, h.chat.Messages())
}

func TestBroadcaster_Send_Moderated(t *testing.T) {
	req := require.New(t)
	mod, err := moderation.NewModerator([]string{"badger"}, '*', logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)
	h := newHarness(t, Options{Moderator: mod})
	h.connect()

	h.channel.EXPECT().
		Send(gomock.Any(), EventChatMessage, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, payload []byte) error {
			var sent domain.ChatMessage
			req.NoError(codec.Unmarshal(payload, &sent))
			req.Equal("hi ******", sent.Text)
			return nil
		})

	req.True(h.chat.Send(context.Background(), "hi badger"))
	req.Equal("hi ******", h.chat.Messages()[0].Text)
}

func TestBroadcaster_Inbound_AppendsAndDropsMalformed(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()

	// When valid, garbage and invalid payloads arrive
	h.receive(inbound("bob", "one"))
	h.onMessage(contract.BroadcastEvent{Event: EventChatMessage, Payload: []byte{0xff, 0x00}})
	h.receive(domain.ChatMessage{ID: uuid.New(), SenderID: "bob", SentAt: epoch})
	h.receive(inbound("carol", "two"))

	// Then only valid messages are kept in receipt order
	texts := make([]string, 0)
	for _, m := range h.chat.Messages() {
		texts = append(texts, m.Text)
	}
	req.Equal([]string{"one", "two"}, texts)
}

func TestBroadcaster_Inbound_DuplicatesAreKept(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect()

	msg := inbound("bob", "twice")
	h.receive(msg)
	h.receive(msg)

	require.Len(t, h.chat.Messages(), 2)
}

func TestBroadcaster_HistoryIsBounded(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{HistoryCapacity: 3})
	h.connect()

	for i := range 5 {
		h.receive(inbound("bob", fmt.Sprintf("m%d", i)))
	}

	msgs := h.chat.Messages()
	req.Len(msgs, 3)
	req.Equal("m2", msgs[0].Text)
	req.Equal("m4", msgs[2].Text)
}

func TestBroadcaster_Clear(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect()
	h.receive(inbound("bob", "hi"))

	h.chat.Clear()

	require.Empty(t, h.chat.Messages())
}

func TestBroadcaster_Disconnect_IdempotentAndIgnoresLateMessages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()
	h.channel.EXPECT().Unsubscribe().Return(nil).Times(1)

	// When disconnecting twice
	h.chat.Disconnect()
	h.chat.Disconnect()

	// Then a late delivery from the old channel is ignored
	h.receive(inbound("bob", "late"))
	req.Empty(h.chat.Messages())
	req.False(h.chat.IsConnected())
}

func TestBroadcaster_ChannelError_ThenRetry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()

	// When the channel errors
	h.onStatus(contract.StatusChannelError, errors.ErrConnectionFailure)

	// Then sending is refused until a retry succeeds
	req.False(h.chat.IsConnected())
	req.False(h.chat.Send(context.Background(), "hello"))

	h.channel.EXPECT().
		Subscribe(gomock.Any()).
		Do(func(onStatus func(contract.Status, error)) { onStatus(contract.StatusSubscribed, nil) })
	h.chat.Retry()
	req.True(h.chat.IsConnected())
}

func TestBroadcaster_ChannelError_ReconnectsWithBackoff(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()
	changes := 0
	h.chat.OnStatus(func() { changes++ })

	// When the connection is lost
	h.onStatus(contract.StatusChannelError, errors.ErrConnectionFailure)

	// Then the outage is reported
	req.False(h.chat.IsConnected())
	req.ErrorIs(h.chat.LastError(), errors.ErrConnectionFailure)
	req.Equal(1, changes)

	// And the channel is resubscribed after the base delay
	h.channel.EXPECT().
		Subscribe(gomock.Any()).
		Do(func(onStatus func(contract.Status, error)) { onStatus(contract.StatusSubscribed, nil) })
	h.clock.Advance(999 * time.Millisecond)
	req.False(h.chat.IsConnected())
	h.clock.Advance(time.Millisecond)
	req.True(h.chat.IsConnected())
	req.NoError(h.chat.LastError())
	req.Equal(2, changes)

	// And sending works again
	h.channel.EXPECT().Send(gomock.Any(), EventChatMessage, gomock.Any()).Return(nil)
	req.True(h.chat.Send(context.Background(), "back"))
}

func TestBroadcaster_ChannelError_GivesUpAfterMaxAttempts(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.connect()

	// Given a broker that keeps refusing the subscription
	subscribes := 0
	h.channel.EXPECT().
		Subscribe(gomock.Any()).
		Do(func(onStatus func(contract.Status, error)) {
			subscribes++
			onStatus(contract.StatusChannelError, errors.ErrConnectionFailure)
		}).
		Times(3)

	// When the connection is lost
	h.onStatus(contract.StatusChannelError, errors.ErrConnectionFailure)

	// Then retries happen after 1s, 2s and 3s and then stop
	h.clock.Advance(time.Second)
	h.clock.Advance(2 * time.Second)
	h.clock.Advance(3 * time.Second)
	req.Equal(3, subscribes)
	h.clock.Advance(time.Hour)
	req.Equal(3, subscribes)
	req.Equal(0, h.clock.PendingCount())
	req.False(h.chat.IsConnected())
	req.ErrorIs(h.chat.LastError(), errors.ErrRetriesExhausted)
}

func TestBroadcaster_Guest(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	b := NewBroadcaster(logs.GetLoggerFromLevel(slog.LevelDebug), clock.Fake(epoch), transport, domain.Identity{}, Options{})

	// The mocked transport has no expectation, so any call fails the test
	b.Connect(domain.DefaultRoom)
	require.False(t, b.Send(context.Background(), "hi"))
}
