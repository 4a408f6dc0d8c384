package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"taskflow-realtime/domain"
)

const (
	TypeJoinRoom     = "join_room"
	TypeRoomJoined   = "room_joined"
	TypeError        = "error"
	TypeNotification = "notification"
)

type Option func(*Handler)

// WithPresence makes the handler announce connects and room joins to the
// affected room.
func WithPresence(enabled bool) Option {
	return func(h *Handler) { h.presence = enabled }
}

type Handler struct {
	broadcaster domain.Broadcaster
	presence    bool
}

func NewHandler(b domain.Broadcaster, opts ...Option) *Handler {
	h := &Handler{broadcaster: b}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Connected(conn domain.Connection) {
	if h.presence {
		h.notify(domain.DefaultRoom, "New user connected")
	}
}

// Handle applies join_room. Everything else, including input that is not
// JSON, is relayed unchanged to every connection.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("relaying non-json message", "clientId", conn.ID(), "error", err)
		h.broadcaster.Broadcast(domain.ScopeGlobal, data)
		return
	}

	if msg.Type != TypeJoinRoom {
		h.broadcaster.Broadcast(domain.ScopeGlobal, data)
		return
	}
	h.join(conn, msg.Room)
}

func (h *Handler) join(conn domain.Connection, room string) {
	room = strings.TrimSpace(room)
	if room == "" {
		room = domain.DefaultRoom
	}

	if err := h.broadcaster.Join(conn.ID(), room); err != nil {
		slog.Warn("join rejected", "clientId", conn.ID(), "room", room, "error", err)
		reply(conn, errorEvent(fmt.Errorf("join %q: %w", room, err)))
		return
	}

	reply(conn, domain.NewEvent(TypeRoomJoined, map[string]any{"room": room}))
	if h.presence {
		h.notify(room, "User joined room "+room)
	}
}

func (h *Handler) notify(room, message string) {
	h.broadcaster.Deliver(domain.NewEvent(TypeNotification, map[string]any{"message": message}), room)
}

func errorEvent(err error) domain.Event {
	return domain.NewEvent(TypeError, map[string]any{"message": err.Error()})
}

func reply(conn domain.Connection, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("marshal error", "clientId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Debug("reply dropped", "clientId", conn.ID(), "type", event.Type, "error", err)
	}
}
