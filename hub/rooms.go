package hub

import "sort"

// roomIndex maps room name to member ids. Rooms are created on first join
// and kept when they empty out.
type roomIndex struct {
	rooms map[string]map[string]struct{}
}

func newRoomIndex() *roomIndex {
	return &roomIndex{rooms: make(map[string]map[string]struct{})}
}

func (ri *roomIndex) join(id, room string) bool {
	members, ok := ri.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		ri.rooms[room] = members
	}
	if _, exists := members[id]; exists {
		return false
	}
	members[id] = struct{}{}
	return true
}

func (ri *roomIndex) leave(id, room string) bool {
	members, ok := ri.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[id]; !exists {
		return false
	}
	delete(members, id)
	return true
}

func (ri *roomIndex) members(room string) []string {
	members := ri.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (ri *roomIndex) count() int {
	return len(ri.rooms)
}
