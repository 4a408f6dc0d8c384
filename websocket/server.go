package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"taskflow-realtime/domain"
)

// Server is the inbound WebSocket endpoint. Each successful handshake
// becomes one admitted Conn; a failed handshake never reaches the hub.
type Server struct {
	upgrader    websocket.Upgrader
	broadcaster domain.Broadcaster
	handler     domain.MessageHandler
	opts        Options
}

func NewServer(b domain.Broadcaster, h domain.MessageHandler, opts Options, allowedOrigins []string) *Server {
	origins := newOriginPolicy(allowedOrigins)
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		broadcaster: b,
		handler:     h,
		opts:        opts,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConn(uuid.New().String(), ws, s.broadcaster, s.handler, s.opts)
	if err := conn.Start(); err != nil {
		slog.Warn("connection refused", "clientId", conn.ID(), "error", err)
	}
}

// isExpectedCloseError reports errors that only mean the peer or the
// server already tore the socket down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
