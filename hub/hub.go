package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"taskflow-realtime/domain"
)

var (
	ErrHubClosed           = errors.New("hub closed")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrUnknownConnection   = errors.New("connection not registered")
	ErrInvalidRoom         = errors.New("invalid room name")
)

const defaultFailureThreshold = 3

type Option func(*Hub)

// WithFailureThreshold sets how many consecutive full-buffer sends a
// connection may accumulate before it is dropped. Values below 1 mean 1.
func WithFailureThreshold(n int) Option {
	return func(h *Hub) {
		if n < 1 {
			n = 1
		}
		h.failureThreshold = int32(n)
	}
}

// Hub owns the connection registry and the room index. Both are guarded by
// mu, and no connection I/O ever runs while it is held.
type Hub struct {
	mu       sync.RWMutex
	registry *registry
	rooms    *roomIndex
	closed   bool

	failureThreshold int32
	removals         sync.WaitGroup
}

func New(opts ...Option) *Hub {
	h := &Hub{
		registry:         newRegistry(),
		rooms:            newRoomIndex(),
		failureThreshold: defaultFailureThreshold,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Admit registers conn and places it in the default room.
func (h *Hub) Admit(conn domain.Connection) (string, error) {
	id := conn.ID()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", ErrHubClosed
	}
	e, ok := h.registry.add(conn)
	if !ok {
		h.mu.Unlock()
		return "", ErrDuplicateConnection
	}
	e.rooms[domain.DefaultRoom] = struct{}{}
	h.rooms.join(id, domain.DefaultRoom)
	count := h.registry.len()
	h.mu.Unlock()

	slog.Info("client connected", "clientId", id, "room", domain.DefaultRoom, "clients", count)
	return id, nil
}

// Remove drops the connection from the registry and every room, then closes
// it. Calling it for an unknown or already removed id does nothing.
func (h *Hub) Remove(id string) {
	h.remove(id, nil)
}

// remove deletes id only while it is still bound to want; nil matches any.
func (h *Hub) remove(id string, want *entry) {
	h.mu.Lock()
	e, ok := h.registry.get(id)
	if !ok || (want != nil && e != want) {
		h.mu.Unlock()
		return
	}
	h.registry.remove(id)
	for room := range e.rooms {
		h.rooms.leave(id, room)
	}
	count := h.registry.len()
	h.mu.Unlock()

	if err := e.conn.Close(); err != nil {
		slog.Debug("close error", "clientId", id, "error", err)
	}
	slog.Info("client disconnected", "clientId", id, "clients", count)
}

func (h *Hub) Exists(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.registry.get(id)
	return ok
}

func (h *Hub) Join(id, room string) error {
	if room == "" || room == domain.ScopeGlobal {
		return ErrInvalidRoom
	}

	h.mu.Lock()
	e, ok := h.registry.get(id)
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	e.rooms[room] = struct{}{}
	added := h.rooms.join(id, room)
	h.mu.Unlock()

	if added {
		slog.Debug("client joined room", "clientId", id, "room", room)
	}
	return nil
}

func (h *Hub) Leave(id, room string) {
	h.mu.Lock()
	if e, ok := h.registry.get(id); ok {
		delete(e.rooms, room)
	}
	removed := h.rooms.leave(id, room)
	h.mu.Unlock()

	if removed {
		slog.Debug("client left room", "clientId", id, "room", room)
	}
}

// MembersOf returns a sorted copy of the room's member ids.
func (h *Hub) MembersOf(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms.members(room)
}

// Rooms returns the sorted room names conn id currently belongs to.
func (h *Hub) Rooms(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.registry.get(id)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.rooms))
	for room := range e.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Deliver serialises event once and fans it out to scope.
func (h *Hub) Deliver(event domain.Event, scope string) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event", "type", event.Type, "error", err)
		return
	}
	h.Broadcast(scope, payload)
}

// Broadcast pushes payload to every connection in scope. Send failures are
// handled per connection and never reach the caller.
func (h *Hub) Broadcast(scope string, payload []byte) {
	targets := h.targets(scope)
	if len(targets) == 0 {
		slog.Debug("no recipients", "scope", scope)
		return
	}

	for _, e := range targets {
		if err := e.conn.Send(payload); err != nil {
			h.sendFailed(e, err)
			continue
		}
		e.failures.Store(0)
	}
}

func (h *Hub) targets(scope string) []*entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if scope == domain.ScopeGlobal {
		return h.registry.snapshot()
	}

	ids := h.rooms.members(scope)
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := h.registry.get(id); ok {
			out = append(out, e)
		}
	}
	return out
}

func (h *Hub) sendFailed(e *entry, err error) {
	id := e.conn.ID()
	if errors.Is(err, domain.ErrSendBufferFull) {
		if n := e.failures.Add(1); n < h.failureThreshold {
			slog.Warn("send buffer full, event dropped", "clientId", id, "failures", n)
			return
		}
	}
	slog.Warn("dropping client after send failure", "clientId", id, "error", err)
	h.removeAsync(e)
}

func (h *Hub) removeAsync(e *entry) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.removals.Add(1)
	h.mu.RUnlock()

	go func() {
		defer h.removals.Done()
		h.remove(e.conn.ID(), e)
	}()
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms.count(), h.registry.len()
}

// Shutdown refuses further admissions, force-closes every connection and
// waits for in-flight removals or ctx, whichever comes first.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	entries := h.registry.drain()
	h.rooms = newRoomIndex()
	h.mu.Unlock()

	for _, e := range entries {
		if err := e.conn.Close(); err != nil {
			slog.Debug("close error", "clientId", e.conn.ID(), "error", err)
		}
	}
	slog.Info("hub stopped", "closed", len(entries))

	done := make(chan struct{})
	go func() {
		h.removals.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
