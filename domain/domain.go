package domain

import "errors"

const (
	// ScopeGlobal targets every registered connection.
	ScopeGlobal = "global"
	// DefaultRoom is joined by every connection on admission.
	DefaultRoom = "general"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Event is the outbound payload pushed to observers after a mutation commits.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func NewEvent(eventType string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Type: eventType, Data: data}
}

// Message is the inbound control envelope sent by clients.
type Message struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is a bidirectional client channel. Send must not block and
// Close must be safe to call more than once.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type Broadcaster interface {
	Admit(conn Connection) (string, error)
	Remove(id string)
	Join(id, room string) error
	Leave(id, room string)
	Deliver(event Event, scope string)
	Broadcast(scope string, payload []byte)
	Stats() (rooms, clients int)
}

// Publisher is the only surface business handlers use to emit events.
type Publisher interface {
	Publish(event Event, scope string)
}

// MessageHandler receives inbound traffic for an admitted connection.
type MessageHandler interface {
	Connected(conn Connection)
	Handle(conn Connection, data []byte)
}
