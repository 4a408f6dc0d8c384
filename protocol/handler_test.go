package protocol

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow-realtime/domain"
	"taskflow-realtime/hub"
)

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) getSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

type broadcastCall struct {
	scope string
	data  []byte
}

type mockBroadcaster struct {
	broadcasts []broadcastCall
	joins      map[string][]string
	leaves     map[string][]string
	deliveries []broadcastCall
	joinErr    error
	mu         sync.Mutex
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{joins: map[string][]string{}, leaves: map[string][]string{}}
}

func (m *mockBroadcaster) Admit(conn domain.Connection) (string, error) { return conn.ID(), nil }
func (m *mockBroadcaster) Remove(id string)                            {}
func (m *mockBroadcaster) Stats() (int, int)                           { return 0, 0 }

func (m *mockBroadcaster) Join(id, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joinErr != nil {
		return m.joinErr
	}
	m.joins[id] = append(m.joins[id], room)
	return nil
}

func (m *mockBroadcaster) Leave(id, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves[id] = append(m.leaves[id], room)
}

func (m *mockBroadcaster) Deliver(event domain.Event, scope string) {
	data, _ := json.Marshal(event)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, broadcastCall{scope: scope, data: data})
}

func (m *mockBroadcaster) Broadcast(scope string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, broadcastCall{scope: scope, data: data})
}

func (m *mockBroadcaster) getBroadcasts() []broadcastCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broadcastCall(nil), m.broadcasts...)
}

func (m *mockBroadcaster) getDeliveries() []broadcastCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broadcastCall(nil), m.deliveries...)
}

func decodeEvent(t *testing.T, raw []byte) domain.Event {
	t.Helper()
	var ev domain.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestHandler_JoinRoom(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantRoom string
	}{
		{name: "named room", payload: `{"type":"join_room","room":"team1"}`, wantRoom: "team1"},
		{name: "missing room falls back to general", payload: `{"type":"join_room"}`, wantRoom: domain.DefaultRoom},
		{name: "whitespace trimmed", payload: `{"type":"join_room","room":"  project:4 "}`, wantRoom: "project:4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBroadcaster()
			handler := NewHandler(b)
			conn := &mockConn{id: "client1"}

			handler.Handle(conn, []byte(tt.payload))

			assert.Equal(t, []string{tt.wantRoom}, b.joins["client1"])
			assert.Empty(t, b.getBroadcasts())
			assert.Empty(t, b.getDeliveries())

			sent := conn.getSent()
			require.Len(t, sent, 1)
			ack := decodeEvent(t, sent[0])
			assert.Equal(t, TypeRoomJoined, ack.Type)
			assert.Equal(t, tt.wantRoom, ack.Data["room"])
		})
	}
}

func TestHandler_JoinRejected(t *testing.T) {
	b := newMockBroadcaster()
	b.joinErr = hub.ErrInvalidRoom
	handler := NewHandler(b, WithPresence(true))
	conn := &mockConn{id: "client1"}

	handler.Handle(conn, []byte(`{"type":"join_room","room":"global"}`))

	sent := conn.getSent()
	require.Len(t, sent, 1)
	ev := decodeEvent(t, sent[0])
	assert.Equal(t, TypeError, ev.Type)
	assert.Contains(t, ev.Data["message"], "invalid room name")
	assert.Empty(t, b.getDeliveries())
}

func TestHandler_PassThrough(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "application event", payload: `{"type":"issue_moved","data":{"id":3}}`},
		{name: "untyped object", payload: `{"hello":"world"}`},
		{name: "invalid json", payload: `not json`},
		{name: "json array", payload: `[1,2,3]`},
		{name: "ping", payload: `{"type":"ping","timestamp":12345}`},
		{name: "leave room", payload: `{"type":"leave_room","room":"team1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBroadcaster()
			handler := NewHandler(b)
			conn := &mockConn{id: "client1"}

			handler.Handle(conn, []byte(tt.payload))

			broadcasts := b.getBroadcasts()
			require.Len(t, broadcasts, 1)
			assert.Equal(t, domain.ScopeGlobal, broadcasts[0].scope)
			assert.Equal(t, tt.payload, string(broadcasts[0].data))
			assert.Empty(t, conn.getSent())
			assert.Empty(t, b.joins)
			assert.Empty(t, b.leaves)
		})
	}
}

func TestHandler_Presence(t *testing.T) {
	b := newMockBroadcaster()
	handler := NewHandler(b, WithPresence(true))
	conn := &mockConn{id: "client1"}

	handler.Connected(conn)
	handler.Handle(conn, []byte(`{"type":"join_room","room":"team1"}`))

	deliveries := b.getDeliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, domain.DefaultRoom, deliveries[0].scope)
	assert.Equal(t, "team1", deliveries[1].scope)

	ev := decodeEvent(t, deliveries[1].data)
	assert.Equal(t, TypeNotification, ev.Type)
	assert.Equal(t, "User joined room team1", ev.Data["message"])
}

func TestHandler_PresenceDisabled(t *testing.T) {
	b := newMockBroadcaster()
	handler := NewHandler(b)

	handler.Connected(&mockConn{id: "client1"})

	assert.Empty(t, b.getDeliveries())
}

func TestHandler_WithHub(t *testing.T) {
	h := hub.New()
	handler := NewHandler(h)
	a, b, c := &mockConn{id: "a"}, &mockConn{id: "b"}, &mockConn{id: "c"}
	for _, conn := range []*mockConn{a, b, c} {
		_, err := h.Admit(conn)
		require.NoError(t, err)
	}

	handler.Handle(a, []byte(`{"type":"join_room","room":"team1"}`))
	handler.Handle(b, []byte(`{"type":"join_room","room":"team1"}`))
	assert.Equal(t, []string{"a", "b"}, h.MembersOf("team1"))

	h.Deliver(domain.NewEvent("issue_created", map[string]any{"id": 1}), "team1")
	handler.Handle(c, []byte(`{"type":"chat","data":{"text":"hi"}}`))

	// a and b: join ack, room event, relayed message; c: relayed message only
	assert.Len(t, a.getSent(), 3)
	assert.Len(t, b.getSent(), 3)
	require.Len(t, c.getSent(), 1)
	assert.Equal(t, `{"type":"chat","data":{"text":"hi"}}`, string(c.getSent()[0]))
}

func TestHandler_LeaveRoomIsRelayed(t *testing.T) {
	h := hub.New()
	handler := NewHandler(h)
	a, b := &mockConn{id: "a"}, &mockConn{id: "b"}
	for _, conn := range []*mockConn{a, b} {
		_, err := h.Admit(conn)
		require.NoError(t, err)
	}
	handler.Handle(a, []byte(`{"type":"join_room","room":"team1"}`))

	leave := `{"type":"leave_room","room":"team1"}`
	handler.Handle(a, []byte(leave))

	assert.Equal(t, []string{"a"}, h.MembersOf("team1"))
	require.Len(t, b.getSent(), 1)
	assert.Equal(t, leave, string(b.getSent()[0]))
	require.Len(t, a.getSent(), 2)
	assert.Equal(t, leave, string(a.getSent()[1]))
}
