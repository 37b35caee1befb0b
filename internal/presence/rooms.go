package presence

import (
	"sort"
	"time"
)

// Room is one live class session's real-time channel.
type Room struct {
	SessionID   string
	CourseID    string
	OwnerUserID string
	OwnerName   string
	OpenedAt    time.Time

	// OwnerConnectionID follows the owner across connection replacement
	OwnerConnectionID string

	members map[string]struct{}
}

// RoomInfo is an immutable snapshot of a Room
type RoomInfo struct {
	SessionID         string
	CourseID          string
	OwnerUserID       string
	OwnerName         string
	OwnerConnectionID string
	OpenedAt          time.Time
	Members           []string
}

func (r *Room) snapshot() *RoomInfo {
	return &RoomInfo{
		SessionID:         r.SessionID,
		CourseID:          r.CourseID,
		OwnerUserID:       r.OwnerUserID,
		OwnerName:         r.OwnerName,
		OwnerConnectionID: r.OwnerConnectionID,
		OpenedAt:          r.OpenedAt,
		Members:           r.memberList(),
	}
}

func (r *Room) memberList() []string {
	members := make([]string, 0, len(r.members))
	for id := range r.members {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// RoomMetadata is the descriptive part of an open request
type RoomMetadata struct {
	CourseID  string
	OwnerName string
	OpenedAt  time.Time
}

// RoomTable maps session IDs to rooms. Like Registry it relies on the
// Coordinator lock.
type RoomTable struct {
	rooms map[string]*Room
}

// NewRoomTable creates an empty room table
func NewRoomTable() *RoomTable {
	return &RoomTable{rooms: make(map[string]*Room)}
}

// Open creates the room with owner as its first member. Reopening by the
// same user returns the existing room and moves ownership to the calling
// connection; any other user gets ErrAlreadyOpen.
func (t *RoomTable) Open(sessionID string, owner Connection, meta RoomMetadata) (*RoomInfo, bool, error) {
	if room, exists := t.rooms[sessionID]; exists {
		if room.OwnerUserID != owner.Identity.UserID {
			return nil, false, ErrAlreadyOpen
		}
		if room.OwnerConnectionID != owner.ID {
			t.replaceMember(room, room.OwnerConnectionID, owner.ID)
			room.OwnerConnectionID = owner.ID
		}
		room.members[owner.ID] = struct{}{}
		return room.snapshot(), false, nil
	}

	room := &Room{
		SessionID:         sessionID,
		CourseID:          meta.CourseID,
		OwnerUserID:       owner.Identity.UserID,
		OwnerName:         meta.OwnerName,
		OpenedAt:          meta.OpenedAt,
		OwnerConnectionID: owner.ID,
		members:           map[string]struct{}{owner.ID: {}},
	}
	t.rooms[sessionID] = room
	return room.snapshot(), true, nil
}

// Close removes the room and returns its last state, including the member
// set the caller must notify. Only the owning user may close it.
func (t *RoomTable) Close(sessionID, requesterUserID string) (*RoomInfo, error) {
	room, exists := t.rooms[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if room.OwnerUserID != requesterUserID {
		return nil, ErrNotOwner
	}
	delete(t.rooms, sessionID)
	return room.snapshot(), nil
}

// Join adds a member. It reports whether membership changed.
func (t *RoomTable) Join(sessionID, connectionID string) (bool, error) {
	room, exists := t.rooms[sessionID]
	if !exists {
		return false, ErrSessionNotFound
	}
	if _, member := room.members[connectionID]; member {
		return false, nil
	}
	room.members[connectionID] = struct{}{}
	return true, nil
}

// Leave removes a member. Leaving never closes the room, even for the owner.
func (t *RoomTable) Leave(sessionID, connectionID string) (bool, error) {
	room, exists := t.rooms[sessionID]
	if !exists {
		return false, ErrSessionNotFound
	}
	if _, member := room.members[connectionID]; !member {
		return false, nil
	}
	delete(room.members, connectionID)
	return true, nil
}

// MembersOf returns a fresh copy of the member set
func (t *RoomTable) MembersOf(sessionID string) ([]string, bool) {
	room, exists := t.rooms[sessionID]
	if !exists {
		return nil, false
	}
	return room.memberList(), true
}

// Get returns a snapshot of the room
func (t *RoomTable) Get(sessionID string) (*RoomInfo, bool) {
	room, exists := t.rooms[sessionID]
	if !exists {
		return nil, false
	}
	return room.snapshot(), true
}

// SessionIDs lists open rooms in a stable order
func (t *RoomTable) SessionIDs() []string {
	ids := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of open rooms
func (t *RoomTable) Len() int {
	return len(t.rooms)
}

// evict drops a member without any ownership checks
func (t *RoomTable) evict(sessionID, connectionID string) {
	if room, exists := t.rooms[sessionID]; exists {
		delete(room.members, connectionID)
	}
}

// handOver moves a connection's membership and ownership in sessionID to its
// replacement.
func (t *RoomTable) handOver(sessionID, oldID, newID string) {
	room, exists := t.rooms[sessionID]
	if !exists {
		return
	}
	t.replaceMember(room, oldID, newID)
	if room.OwnerConnectionID == oldID {
		room.OwnerConnectionID = newID
	}
}

func (t *RoomTable) replaceMember(room *Room, oldID, newID string) {
	if _, member := room.members[oldID]; member {
		delete(room.members, oldID)
		room.members[newID] = struct{}{}
	}
}
