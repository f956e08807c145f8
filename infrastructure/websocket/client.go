package websocket

import (
	"context"
	"cursor-chat/codec"
	"cursor-chat/contract"
	"cursor-chat/errors"
	"cursor-chat/infrastructure/realtime"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
)

const (
	leaveTimeout  = 5 * time.Second
	inboundBuffer = 256
)

type route struct {
	channel *realtime.Channel
	deliver realtime.Delivery
}

// Transport is a contract.Transport speaking to a Server. The connection is
// dialed on the first join and dialed again after it was lost.
type Transport struct {
	log    *slog.Logger
	url    string
	dialer *gws.Dialer

	// dialMu serializes dials; mu is never held while dialing.
	dialMu  sync.Mutex
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *gws.Conn
	closed  bool
	nextRef uint64
	pending map[uint64]chan realtime.Envelope
	routes  map[string]route
}

var _ contract.Transport = (*Transport)(nil)

func NewTransport(log *slog.Logger, url string) *Transport {
	return &Transport{
		log:     log,
		url:     url,
		dialer:  gws.DefaultDialer,
		pending: make(map[uint64]chan realtime.Envelope),
		routes:  make(map[string]route),
	}
}

func (t *Transport) Channel(topic string, opts contract.ChannelOptions) contract.Channel {
	l := &link{transport: t}
	l.channel = realtime.NewChannel(t.log, topic, opts, l)
	return l.channel
}

// Close drops the connection. Joined channels are reported as failed.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *Transport) connect(ctx context.Context) (*gws.Conn, error) {
	if conn, err := t.current(); conn != nil || err != nil {
		return conn, err
	}

	t.dialMu.Lock()
	defer t.dialMu.Unlock()
	if conn, err := t.current(); conn != nil || err != nil {
		return conn, err
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrConnectionFailure, err)
	}
	conn.SetReadLimit(maxMessageSize)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, errors.ErrChannelClosed
	}
	t.conn = conn
	t.mu.Unlock()

	t.log.Info("Connected to broker", "url", t.url)
	inbound := make(chan realtime.Envelope, inboundBuffer)
	go t.readLoop(conn, inbound)
	go t.dispatchLoop(inbound)
	return conn, nil
}

// current returns the live connection, or ErrChannelClosed once closed.
func (t *Transport) current() (*gws.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.ErrChannelClosed
	}
	return t.conn, nil
}

// request sends env and waits for the broker's reply.
func (t *Transport) request(ctx context.Context, env realtime.Envelope) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.nextRef++
	env.Ref = t.nextRef
	reply := make(chan realtime.Envelope, 1)
	t.pending[env.Ref] = reply
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, env.Ref)
		t.mu.Unlock()
	}()

	data, err := codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(gws.BinaryMessage, data)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConnectionFailure, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s %s", errors.ErrAckTimeout, env.Type, env.Topic)
	case r, ok := <-reply:
		if !ok {
			return errors.ErrConnectionFailure
		}
		if r.Error != "" {
			return fmt.Errorf("broker refused %s on %s: %s", env.Type, env.Topic, r.Error)
		}
		return nil
	}
}

// readLoop resolves replies itself and hands every other envelope to the
// dispatch loop, so handlers may issue requests without blocking the reader.
func (t *Transport) readLoop(conn *gws.Conn, inbound chan<- realtime.Envelope) {
	defer close(inbound)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.lost(conn, err)
			return
		}
		var env realtime.Envelope
		if err := codec.Unmarshal(data, &env); err != nil {
			t.log.Warn("Dropping malformed frame from broker", "error", err)
			continue
		}

		t.mu.Lock()
		if env.Type == realtime.TypeReply {
			if reply, ok := t.pending[env.Ref]; ok {
				reply <- env
			}
			t.mu.Unlock()
			continue
		}
		t.mu.Unlock()
		inbound <- env
	}
}

func (t *Transport) dispatchLoop(inbound <-chan realtime.Envelope) {
	for env := range inbound {
		t.mu.Lock()
		r, ok := t.routes[env.Topic]
		t.mu.Unlock()
		if ok {
			r.deliver(env)
		}
	}
}

// lost forgets conn, unblocks pending requests and fails every joined channel.
func (t *Transport) lost(conn *gws.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	for ref, reply := range t.pending {
		close(reply)
		delete(t.pending, ref)
	}
	routes := t.routes
	t.routes = make(map[string]route)
	t.mu.Unlock()

	_ = conn.Close()
	t.log.Warn("Broker connection lost", "error", cause)
	for _, r := range routes {
		r.channel.Fail(fmt.Errorf("%w: %v", errors.ErrConnectionFailure, cause))
	}
}

// link binds one channel to the transport.
type link struct {
	transport *Transport
	channel   *realtime.Channel
}

func (l *link) Join(ctx context.Context, topic string, opts contract.ChannelOptions, deliver realtime.Delivery) error {
	t := l.transport
	t.mu.Lock()
	t.routes[topic] = route{channel: l.channel, deliver: deliver}
	t.mu.Unlock()

	err := t.request(ctx, realtime.Envelope{Type: realtime.TypeJoin, Topic: topic, Options: &opts})
	if err != nil {
		l.forget(topic)
	}
	return err
}

func (l *link) Track(ctx context.Context, topic string, state []byte) error {
	return l.transport.request(ctx, realtime.Envelope{Type: realtime.TypeTrack, Topic: topic, Payload: state})
}

func (l *link) Broadcast(ctx context.Context, topic, event string, payload []byte) error {
	return l.transport.request(ctx, realtime.Envelope{Type: realtime.TypeBroadcast, Topic: topic, Event: event, Payload: payload})
}

func (l *link) Leave(topic string) error {
	l.forget(topic)
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	return l.transport.request(ctx, realtime.Envelope{Type: realtime.TypeLeave, Topic: topic})
}

func (l *link) forget(topic string) {
	t := l.transport
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[topic]; ok && r.channel == l.channel {
		delete(t.routes, topic)
	}
}
