// Package websocket exposes the realtime hub over websocket connections and
// provides the matching client transport.
package websocket

import (
	"cursor-chat/codec"
	"cursor-chat/infrastructure/realtime"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

type ServerOptions struct {
	// SendBuffer is the number of outbound frames queued per connection
	// before frames are dropped.
	SendBuffer int
}

// Server serves the hub on /ws plus a small read-only HTTP surface.
type Server struct {
	log      *slog.Logger
	hub      *realtime.Hub
	opts     ServerOptions
	upgrader gws.Upgrader
	engine   *gin.Engine
}

func NewServer(log *slog.Logger, hub *realtime.Hub, opts ServerOptions) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		log:  log,
		hub:  hub,
		opts: opts,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/rooms", s.listTopics)
	s.engine.GET("/rooms/:topic", s.topicPresence)
	s.engine.GET("/ws", s.serveWS)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "topics": len(s.hub.Topics())})
}

func (s *Server) listTopics(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Topics())
}

type presenceView struct {
	Ref   string `json:"ref"`
	State any    `json:"state"`
}

// topicPresence decodes every tracked state so that operators can read it.
func (s *Server) topicPresence(c *gin.Context) {
	topic := c.Param("topic")
	state, ok := s.hub.PresenceState(topic)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown topic", "topic": topic})
		return
	}
	view := lo.MapValues(state, func(ps []realtime.Presence, _ string) []presenceView {
		return lo.Map(ps, func(p realtime.Presence, _ int) presenceView {
			var decoded any
			if err := codec.Unmarshal(p.State, &decoded); err != nil {
				decoded = nil
			}
			return presenceView{Ref: p.Ref, State: decoded}
		})
	})
	c.JSON(http.StatusOK, gin.H{"topic": topic, "presences": view})
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	sess := newSession(s.log, s.hub, conn, uuid.NewString(), s.opts.SendBuffer)
	s.log.Info("Websocket connected", "member", sess.id, "remote", c.Request.RemoteAddr)
	go sess.writePump()
	go sess.readPump()
}
