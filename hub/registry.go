package hub

import (
	"sync/atomic"

	"taskflow-realtime/domain"
)

// entry is a registered connection. rooms is guarded by the hub lock;
// failures is touched by broadcasts holding only the read lock.
type entry struct {
	conn     domain.Connection
	rooms    map[string]struct{}
	failures atomic.Int32
}

// registry is not safe for concurrent use; Hub serialises access.
type registry struct {
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

func (r *registry) add(conn domain.Connection) (*entry, bool) {
	if _, exists := r.entries[conn.ID()]; exists {
		return nil, false
	}
	e := &entry{conn: conn, rooms: make(map[string]struct{})}
	r.entries[conn.ID()] = e
	return e, true
}

func (r *registry) get(id string) (*entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func (r *registry) remove(id string) (*entry, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	return e, true
}

func (r *registry) snapshot() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *registry) drain() []*entry {
	out := r.snapshot()
	r.entries = make(map[string]*entry)
	return out
}

func (r *registry) len() int {
	return len(r.entries)
}
