package websocket

import (
	"cursor-chat/codec"
	"cursor-chat/contract"
	"cursor-chat/infrastructure/realtime"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
)

// session is one websocket connection, seen by the hub as one member.
type session struct {
	id   string
	log  *slog.Logger
	hub  *realtime.Hub
	conn *gws.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(log *slog.Logger, hub *realtime.Hub, conn *gws.Conn, id string, buffer int) *session {
	return &session{
		id:   id,
		log:  log,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// deliver queues env for the write pump. A full queue drops the frame.
func (s *session) deliver(env realtime.Envelope) {
	data, err := codec.Marshal(env)
	if err != nil {
		s.log.Error("Error encoding envelope", "member", s.id, "error", err)
		return
	}
	select {
	case <-s.done:
	case s.send <- data:
	default:
		s.log.Warn("Send queue full, frame dropped", "member", s.id, "type", env.Type, "topic", env.Topic)
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.LeaveAll(s.id)
		_ = s.conn.Close()
		s.log.Info("Websocket disconnected", "member", s.id)
	})
}

func (s *session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure) {
				s.log.Warn("Websocket read failed", "member", s.id, "error", err)
			}
			return
		}

		var env realtime.Envelope
		if err := codec.Unmarshal(data, &env); err != nil {
			s.log.Warn("Dropping malformed frame", "member", s.id, "error", err)
			continue
		}
		s.handle(env)
	}
}

func (s *session) handle(env realtime.Envelope) {
	var err error
	switch env.Type {
	case realtime.TypeJoin:
		opts := env.Options
		if opts == nil {
			opts = new(contract.ChannelOptions)
		}
		// presence_state is queued before the reply
		s.hub.Join(env.Topic, s.id, *opts, s.deliver)
	case realtime.TypeTrack:
		err = s.hub.Track(env.Topic, s.id, env.Payload)
	case realtime.TypeBroadcast:
		err = s.hub.Broadcast(env.Topic, s.id, env.Event, env.Payload)
	case realtime.TypeLeave:
		s.hub.Leave(env.Topic, s.id)
	default:
		err = fmt.Errorf("unsupported envelope type %q", env.Type)
	}

	reply := realtime.Envelope{Type: realtime.TypeReply, Topic: env.Topic, Ref: env.Ref}
	if err != nil {
		reply.Error = err.Error()
		s.log.Debug("Request refused", "member", s.id, "type", env.Type, "topic", env.Topic, "error", err)
	}
	s.deliver(reply)
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(gws.CloseMessage,
				gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(gws.BinaryMessage, data); err != nil {
				s.log.Debug("Websocket write failed", "member", s.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
