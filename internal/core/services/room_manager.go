package services

import (
	"sort"
	"sync"
	"time"

	"streamrelay/internal/core/domain"
)

type room struct {
	id        domain.StreamID
	members   map[domain.ConnectionID]struct{}
	createdAt time.Time
}

// JoinResult describes the membership change caused by a join.
type JoinResult struct {
	// Previous is the room the connection left, if it was somewhere else.
	Previous        domain.StreamID
	PreviousRemoved bool
	Created         bool
	// Others holds the members that were already in the room.
	Others []domain.ConnectionID
	// Unchanged is set when the connection was already in the room.
	Unchanged bool
}

// RoomManager tracks which connection is in which room. A connection is in
// at most one room. Rooms exist only while they have members.
type RoomManager struct {
	mu         sync.Mutex
	rooms      map[domain.StreamID]*room
	membership map[domain.ConnectionID]domain.StreamID
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:      make(map[domain.StreamID]*room),
		membership: make(map[domain.ConnectionID]domain.StreamID),
	}
}

// Join places conn in streamID, leaving any other room first.
func (m *RoomManager) Join(conn domain.ConnectionID, streamID domain.StreamID) JoinResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result JoinResult

	if current, ok := m.membership[conn]; ok {
		if current == streamID {
			result.Unchanged = true
			return result
		}
		result.Previous = current
		result.PreviousRemoved = m.removeLocked(conn, current)
	}

	r, exists := m.rooms[streamID]
	if !exists {
		r = &room{
			id:        streamID,
			members:   make(map[domain.ConnectionID]struct{}),
			createdAt: time.Now(),
		}
		m.rooms[streamID] = r
		result.Created = true
	}

	result.Others = sortedMembers(r, conn)
	r.members[conn] = struct{}{}
	m.membership[conn] = streamID

	return result
}

// Leave removes conn from its room. It is safe to call for connections that
// are in no room.
func (m *RoomManager) Leave(conn domain.ConnectionID) (streamID domain.StreamID, removed bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	streamID, ok = m.membership[conn]
	if !ok {
		return "", false, false
	}
	removed = m.removeLocked(conn, streamID)
	return streamID, removed, true
}

func (m *RoomManager) removeLocked(conn domain.ConnectionID, streamID domain.StreamID) bool {
	delete(m.membership, conn)

	r, exists := m.rooms[streamID]
	if !exists {
		return false
	}
	delete(r.members, conn)
	if len(r.members) == 0 {
		delete(m.rooms, streamID)
		return true
	}
	return false
}

// RoomOf returns the room conn is in.
func (m *RoomManager) RoomOf(conn domain.ConnectionID) (domain.StreamID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	streamID, ok := m.membership[conn]
	return streamID, ok
}

// Peers returns conn's room and every other member of it.
func (m *RoomManager) Peers(conn domain.ConnectionID) (domain.StreamID, []domain.ConnectionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	streamID, ok := m.membership[conn]
	if !ok {
		return "", nil, domain.ErrNotInRoom
	}
	r, exists := m.rooms[streamID]
	if !exists {
		return "", nil, domain.ErrNotInRoom
	}
	return streamID, sortedMembers(r, conn), nil
}

func (m *RoomManager) Snapshot(streamID domain.StreamID) (domain.RoomSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.rooms[streamID]
	if !exists {
		return domain.RoomSnapshot{}, false
	}
	return domain.RoomSnapshot{
		StreamID:  r.id,
		Members:   sortedMembers(r, ""),
		CreatedAt: r.createdAt,
	}, true
}

func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func sortedMembers(r *room, exclude domain.ConnectionID) []domain.ConnectionID {
	members := make([]domain.ConnectionID, 0, len(r.members))
	for id := range r.members {
		if id != exclude {
			members = append(members, id)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}
