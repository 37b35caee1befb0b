package presence

import (
	"sort"
	"time"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Connection is the registry entry of one live client attachment.
// Identity never changes after registration. SessionID is written through
// Registry.SetSession and OwnedSessionID directly, both only by the Coordinator.
type Connection struct {
	ID          string
	Identity    types.Identity
	ConnectedAt time.Time

	// SessionID is the room this connection is a member of, "" when none
	SessionID string

	// OwnedSessionID is the room this connection controls, "" when none.
	// It differs from SessionID only after an owner leaves its own room.
	OwnedSessionID string

	outbox interfaces.Outbox
}

// Registry maps connection IDs to their entries, one entry per connected user.
// It is not safe for concurrent use: the Coordinator serialises every call
// under the same lock that guards the RoomTable.
type Registry struct {
	connections map[string]*Connection // connectionID -> entry
	byUser      map[string]string      // userID -> connectionID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]string),
	}
}

// Register inserts a new entry. A duplicate connection ID is refused.
//
// ARCHITECTURAL DISCOVERY: byUser is overwritten, not checked. Replacing a
// user's older connection is the Coordinator's decision, made before it
// removes the old entry.
func (r *Registry) Register(conn *Connection) error {
	if _, exists := r.connections[conn.ID]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID] = conn
	r.byUser[conn.Identity.UserID] = conn.ID
	return nil
}

// Lookup returns a copy of the entry for connectionID
func (r *Registry) Lookup(connectionID string) (Connection, bool) {
	conn, exists := r.connections[connectionID]
	if !exists {
		return Connection{}, false
	}
	return *conn, true
}

// get returns the live entry for in-package mutation
func (r *Registry) get(connectionID string) *Connection {
	return r.connections[connectionID]
}

// SetSession updates the membership pointer. Unknown IDs are ignored.
func (r *Registry) SetSession(connectionID, sessionID string) bool {
	conn, exists := r.connections[connectionID]
	if !exists {
		return false
	}
	conn.SessionID = sessionID
	return true
}

// Remove deletes the entry and returns it so the caller can clean up its
// last known session.
func (r *Registry) Remove(connectionID string) (Connection, bool) {
	conn, exists := r.connections[connectionID]
	if !exists {
		return Connection{}, false
	}
	delete(r.connections, connectionID)

	// Only drop the user index if it still points at this connection;
	// a replacement may already own it.
	if r.byUser[conn.Identity.UserID] == connectionID {
		delete(r.byUser, conn.Identity.UserID)
	}
	return *conn, true
}

// ConnectionOf returns the current connection ID of a user
func (r *Registry) ConnectionOf(userID string) (string, bool) {
	id, exists := r.byUser[userID]
	return id, exists
}

// IDs returns every registered connection ID in a stable order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	return len(r.connections)
}
