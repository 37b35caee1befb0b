package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Close reasons recorded in the journal
const (
	ReasonClosed            = "closed"
	ReasonOwnerDisconnected = "owner_disconnected"
)

// Stats is a point-in-time view of coordinator state
type Stats struct {
	Connections     int    `json:"connections"`
	Sessions        int    `json:"sessions"`
	EventsDelivered uint64 `json:"eventsDelivered"`
	EventsDropped   uint64 `json:"eventsDropped"`
	MembersEvicted  uint64 `json:"membersEvicted"`
}

// Coordinator is the session lifecycle state machine and the only writer of
// the registry and the room table.
//
// TECHNICAL DISCOVERY: every transition runs under mu, which covers both
// tables. Outbound events are collected into a Batch and flushed after mu is
// released; deliverMu is taken before mu is dropped so batches reach the
// outboxes in commit order.
type Coordinator struct {
	mu         sync.Mutex
	registry   *Registry
	rooms      *RoomTable
	dispatcher *Dispatcher
	closed     bool

	deliverMu sync.Mutex

	journal   interfaces.Journal
	logger    *slog.Logger
	now       func() time.Time
	newConnID func() string
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithJournal reports committed transitions to j
func WithJournal(j interfaces.Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides connection ID assignment
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newConnID = gen }
}

// NewCoordinator creates a coordinator with empty state
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:  NewRegistry(),
		rooms:     NewRoomTable(),
		logger:    slog.Default(),
		now:       time.Now,
		newConnID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "presence")
	c.dispatcher = newDispatcher(c.registry, c.rooms, c.logger, c.now)
	return c
}

// transact runs fn as one critical section and flushes its batch afterwards.
// fn must not block.
//
// ARCHITECTURAL DISCOVERY: deliverMu is acquired before mu is released.
// The next transition may commit while this batch is still being
// delivered, but it cannot start delivering until this one finishes.
// Closers run last, outside both locks, since Close may block on I/O.
func (c *Coordinator) transact(fn func(b *Batch) error) error {
	b := &Batch{}

	c.mu.Lock()
	err := fn(b)
	c.deliverMu.Lock()
	c.mu.Unlock()

	c.dispatcher.deliver(b)
	if c.journal != nil {
		for _, entry := range b.journal {
			c.journal.Record(entry)
		}
	}
	c.deliverMu.Unlock()

	for _, outbox := range b.closers {
		go func(o interfaces.Outbox) {
			if err := o.Close(); err != nil {
				c.logger.Debug("closing replaced connection", "error", err)
			}
		}(outbox)
	}
	return err
}

func (c *Coordinator) journalEntry(sessionID, kind, actorID string, detail map[string]interface{}) types.JournalEntry {
	return types.JournalEntry{
		ID:         xid.New().String(),
		SessionID:  sessionID,
		Kind:       kind,
		ActorID:    actorID,
		Detail:     detail,
		RecordedAt: c.now().UTC(),
	}
}

// Connect registers an authenticated connection and returns its ID. If the
// user already has a live connection, the new one takes over its session
// membership and ownership and the old outbox is closed.
//
// FUNCTIONAL DISCOVERY: the newest connection wins. A reconnecting client
// keeps its room and its ownership without a leave/join pair, so members
// see no student_left and the owner's room is not ended.
func (c *Coordinator) Connect(identity types.Identity, outbox interfaces.Outbox) (string, error) {
	if !types.IsValidUserID(identity.UserID) || !types.IsValidRole(identity.Role) {
		return "", ErrInvalidIdentity
	}

	connID := c.newConnID()
	err := c.transact(func(b *Batch) error {
		if c.closed {
			return ErrCoordinatorClosed
		}

		previousID, replacing := c.registry.ConnectionOf(identity.UserID)
		conn := &Connection{
			ID:          connID,
			Identity:    identity,
			ConnectedAt: c.now(),
			outbox:      outbox,
		}
		if err := c.registry.Register(conn); err != nil {
			c.logger.Error("refusing connection", "connection_id", connID, "user_id", identity.UserID, "error", err)
			return err
		}

		if replacing {
			previous, _ := c.registry.Remove(previousID)
			c.registry.SetSession(connID, previous.SessionID)
			conn.OwnedSessionID = previous.OwnedSessionID
			if previous.SessionID != "" {
				c.rooms.handOver(previous.SessionID, previousID, connID)
			}
			if previous.OwnedSessionID != "" && previous.OwnedSessionID != previous.SessionID {
				c.rooms.handOver(previous.OwnedSessionID, previousID, connID)
			}
			b.closeLater(previous.outbox)
			c.logger.Info("connection replaced",
				"user_id", identity.UserID,
				"old_connection_id", previousID,
				"connection_id", connID)
		}

		c.dispatcher.ToConnection(b, connID, c.dispatcher.Event(types.EventConnectionSuccess, types.ConnectionSuccess{
			ConnectionID: connID,
			UserID:       identity.UserID,
			Role:         identity.Role,
			DisplayName:  identity.DisplayName,
		}))
		c.resync(b, conn)
		return nil
	})
	if err != nil {
		return "", err
	}
	return connID, nil
}

// resync tells a replacement connection which room it inherited
func (c *Coordinator) resync(b *Batch, conn *Connection) {
	if conn.OwnedSessionID != "" {
		if room, ok := c.rooms.Get(conn.OwnedSessionID); ok {
			c.dispatcher.ToConnection(b, conn.ID, c.dispatcher.Event(types.EventSessionStarted, types.SessionStarted{
				SessionID: room.SessionID,
				CourseID:  room.CourseID,
				OpenedAt:  room.OpenedAt,
			}))
		}
	}
	if conn.SessionID != "" && conn.SessionID != conn.OwnedSessionID {
		if room, ok := c.rooms.Get(conn.SessionID); ok {
			c.dispatcher.ToConnection(b, conn.ID, c.dispatcher.Event(types.EventSessionJoined, types.SessionJoined{
				SessionID: room.SessionID,
				CourseID:  room.CourseID,
				OwnerName: room.OwnerName,
			}))
		}
	}
}

// OpenSession opens a room owned by a faculty connection. A faculty
// connection controls at most one room; reopening its own room is
// idempotent and only repeats session_started.
func (c *Coordinator) OpenSession(ctx context.Context, connID, sessionID, courseID string) (*RoomInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := types.OpenSessionRequest{SessionID: sessionID, CourseID: courseID}
	if err := req.Validate(); err != nil {
		return nil, Invalid(err)
	}

	var info *RoomInfo
	err := c.transact(func(b *Batch) error {
		conn := c.registry.get(connID)
		if conn == nil {
			return ErrUnknownConnection
		}
		if conn.Identity.Role != types.RoleFaculty {
			return ErrNotFaculty
		}

		meta := RoomMetadata{
			CourseID:  courseID,
			OwnerName: conn.Identity.DisplayName,
			OpenedAt:  c.now().UTC(),
		}
		if conn.OwnedSessionID == sessionID {
			room, _, err := c.rooms.Open(sessionID, *conn, meta)
			if err != nil {
				return err
			}
			c.registry.SetSession(connID, sessionID)
			info = room
			c.dispatcher.ToConnection(b, connID, c.startedEvent(room))
			return nil
		}
		if conn.SessionID != "" || conn.OwnedSessionID != "" {
			return ErrAlreadyInSession
		}

		room, _, err := c.rooms.Open(sessionID, *conn, meta)
		if err != nil {
			return err
		}
		c.registry.SetSession(connID, sessionID)
		conn.OwnedSessionID = sessionID
		info = room

		c.dispatcher.ToAll(b, c.dispatcher.Event(types.EventSessionAvailable, types.SessionAvailable{
			SessionID: room.SessionID,
			CourseID:  room.CourseID,
			OwnerName: room.OwnerName,
			OpenedAt:  room.OpenedAt,
		}))
		c.dispatcher.ToConnection(b, connID, c.startedEvent(room))
		b.record(c.journalEntry(sessionID, types.JournalSessionOpened, conn.Identity.UserID, map[string]interface{}{
			"courseId":     room.CourseID,
			"connectionId": connID,
		}))

		c.logger.Info("session opened", "session_id", sessionID, "course_id", courseID, "user_id", conn.Identity.UserID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Coordinator) startedEvent(room *RoomInfo) types.Event {
	return c.dispatcher.Event(types.EventSessionStarted, types.SessionStarted{
		SessionID: room.SessionID,
		CourseID:  room.CourseID,
		OpenedAt:  room.OpenedAt,
	})
}

// CloseSession closes a room at its owner's request. A faculty member who
// does not own the room is refused like anyone else.
func (c *Coordinator) CloseSession(ctx context.Context, connID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref := types.SessionRef{SessionID: sessionID}
	if err := ref.Validate(); err != nil {
		return Invalid(err)
	}

	return c.transact(func(b *Batch) error {
		conn := c.registry.get(connID)
		if conn == nil {
			return ErrUnknownConnection
		}
		room, err := c.rooms.Close(sessionID, conn.Identity.UserID)
		if err != nil {
			return err
		}
		c.endRoom(b, room, ReasonClosed, conn.Identity.UserID)
		return nil
	})
}

// endRoom finishes a room that was already removed from the table. Explicit
// close and owner disconnect both end here.
func (c *Coordinator) endRoom(b *Batch, room *RoomInfo, reason, actorID string) {
	for _, id := range room.Members {
		if member := c.registry.get(id); member != nil && member.SessionID == room.SessionID {
			c.registry.SetSession(id, "")
		}
	}
	if owner := c.registry.get(room.OwnerConnectionID); owner != nil && owner.OwnedSessionID == room.SessionID {
		owner.OwnedSessionID = ""
	}

	c.dispatcher.ToEach(b, room.Members, c.dispatcher.Event(types.EventSessionEnded, types.SessionEnded{
		SessionID: room.SessionID,
		CourseID:  room.CourseID,
	}))
	b.record(c.journalEntry(room.SessionID, types.JournalSessionClosed, actorID, map[string]interface{}{
		"reason":   reason,
		"courseId": room.CourseID,
		"members":  len(room.Members),
	}))

	c.logger.Info("session closed", "session_id", room.SessionID, "reason", reason, "members", len(room.Members))
}

// JoinSession adds a non-owner connection to an open room. Joining a room
// the connection is already in repeats session_joined and changes nothing.
func (c *Coordinator) JoinSession(ctx context.Context, connID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref := types.SessionRef{SessionID: sessionID}
	if err := ref.Validate(); err != nil {
		return Invalid(err)
	}

	return c.transact(func(b *Batch) error {
		conn := c.registry.get(connID)
		if conn == nil {
			return ErrUnknownConnection
		}
		room, ok := c.rooms.Get(sessionID)
		if !ok {
			return ErrSessionNotFound
		}
		if room.OwnerUserID == conn.Identity.UserID {
			return ErrOwnerCannotJoin
		}

		joined := c.dispatcher.Event(types.EventSessionJoined, types.SessionJoined{
			SessionID: room.SessionID,
			CourseID:  room.CourseID,
			OwnerName: room.OwnerName,
		})
		if conn.SessionID == sessionID {
			c.dispatcher.ToConnection(b, connID, joined)
			return nil
		}
		if conn.SessionID != "" || conn.OwnedSessionID != "" {
			return ErrAlreadyInSession
		}

		if _, err := c.rooms.Join(sessionID, connID); err != nil {
			return err
		}
		c.registry.SetSession(connID, sessionID)

		c.dispatcher.ToConnection(b, connID, joined)
		c.dispatcher.ToConnection(b, room.OwnerConnectionID, c.dispatcher.Event(types.EventStudentJoined, types.ParticipantChange{
			SessionID:   sessionID,
			StudentID:   conn.Identity.UserID,
			StudentName: conn.Identity.DisplayName,
		}))
		return nil
	})
}

// LeaveSession removes a connection from a room. Leaving a room the
// connection is not in succeeds without effect. An owner that leaves keeps
// ownership; only close or disconnect ends the room.
func (c *Coordinator) LeaveSession(ctx context.Context, connID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref := types.SessionRef{SessionID: sessionID}
	if err := ref.Validate(); err != nil {
		return Invalid(err)
	}

	return c.transact(func(b *Batch) error {
		conn := c.registry.get(connID)
		if conn == nil {
			return ErrUnknownConnection
		}
		room, ok := c.rooms.Get(sessionID)
		if !ok {
			return ErrSessionNotFound
		}

		left, err := c.rooms.Leave(sessionID, connID)
		if err != nil {
			return err
		}
		if !left {
			if conn.SessionID == sessionID {
				c.logger.Error("internal inconsistency: connection points at a room it is not a member of",
					"connection_id", connID, "session_id", sessionID)
				c.registry.SetSession(connID, "")
			}
			return nil
		}
		c.registry.SetSession(connID, "")

		c.dispatcher.ToConnection(b, connID, c.dispatcher.Event(types.EventSessionLeft, types.SessionLeft{SessionID: sessionID}))
		if connID != room.OwnerConnectionID {
			c.notifyStudentLeft(b, room, conn)
		}
		return nil
	})
}

func (c *Coordinator) notifyStudentLeft(b *Batch, room *RoomInfo, conn *Connection) {
	c.dispatcher.ToConnection(b, room.OwnerConnectionID, c.dispatcher.Event(types.EventStudentLeft, types.ParticipantChange{
		SessionID:   room.SessionID,
		StudentID:   conn.Identity.UserID,
		StudentName: conn.Identity.DisplayName,
	}))
}

// MarkAttendance fans an attendance mark out to every member of the room,
// the marker included. Only the room owner or an admin may mark.
func (c *Coordinator) MarkAttendance(ctx context.Context, connID, sessionID string, mark types.AttendanceMark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mark.SessionID = sessionID
	if err := mark.Validate(); err != nil {
		return Invalid(err)
	}

	return c.transact(func(b *Batch) error {
		conn := c.registry.get(connID)
		if conn == nil {
			return ErrUnknownConnection
		}
		room, ok := c.rooms.Get(sessionID)
		if !ok {
			return ErrSessionNotFound
		}
		if conn.Identity.Role != types.RoleAdmin && room.OwnerUserID != conn.Identity.UserID {
			return ErrNotOwnerOrAdmin
		}

		event := c.attendanceEvent(b, mark, conn.Identity.UserID)
		c.dispatcher.ToRoom(b, sessionID, event, "")
		if conn.SessionID != sessionID {
			c.dispatcher.ToConnection(b, connID, event)
		}
		return nil
	})
}

// BroadcastAttendanceUpdate pushes an attendance mark that was recorded
// outside the real-time path, such as face verification over REST.
func (c *Coordinator) BroadcastAttendanceUpdate(ctx context.Context, sessionID string, mark types.AttendanceMark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mark.SessionID = sessionID
	if err := mark.Validate(); err != nil {
		return Invalid(err)
	}

	return c.transact(func(b *Batch) error {
		if _, ok := c.rooms.Get(sessionID); !ok {
			return ErrSessionNotFound
		}
		c.dispatcher.ToRoom(b, sessionID, c.attendanceEvent(b, mark, ""), "")
		return nil
	})
}

func (c *Coordinator) attendanceEvent(b *Batch, mark types.AttendanceMark, markedBy string) types.Event {
	update := types.AttendanceUpdate{
		SessionID: mark.SessionID,
		StudentID: mark.StudentID,
		Status:    mark.Status,
		Method:    mark.Method,
		MarkedBy:  markedBy,
		MarkedAt:  c.now().UTC(),
	}
	b.record(c.journalEntry(mark.SessionID, types.JournalAttendanceUpdate, markedBy, map[string]interface{}{
		"studentId": mark.StudentID,
		"status":    mark.Status,
		"method":    mark.Method,
	}))
	return c.dispatcher.Event(types.EventAttendanceUpdate, update)
}

// BroadcastSessionUpdate pushes an arbitrary session change to the room.
// The payload is copied and stamped with sessionId and timestamp.
func (c *Coordinator) BroadcastSessionUpdate(ctx context.Context, sessionID string, payload map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !types.IsValidSessionID(sessionID) {
		return Invalid(types.ErrInvalidSessionID)
	}

	data := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		data[k] = v
	}

	return c.transact(func(b *Batch) error {
		if _, ok := c.rooms.Get(sessionID); !ok {
			return ErrSessionNotFound
		}
		data["sessionId"] = sessionID
		data["timestamp"] = c.now().UTC()
		c.dispatcher.ToRoom(b, sessionID, c.dispatcher.Event(types.EventSessionUpdate, data), "")
		return nil
	})
}

// Disconnect is the transport's report that a connection is gone. A member
// leaves its room; an owner's room is closed exactly as if the owner had
// closed it. Unknown connections are ignored, so calling it twice is safe.
func (c *Coordinator) Disconnect(connID string) {
	_ = c.transact(func(b *Batch) error {
		c.disconnect(b, connID)
		return nil
	})
}

func (c *Coordinator) disconnect(b *Batch, connID string) {
	conn, ok := c.registry.Remove(connID)
	if !ok {
		return
	}

	if conn.SessionID != "" && conn.SessionID != conn.OwnedSessionID {
		if room, exists := c.rooms.Get(conn.SessionID); exists {
			if left, _ := c.rooms.Leave(conn.SessionID, connID); left && connID != room.OwnerConnectionID {
				c.notifyStudentLeft(b, room, &conn)
			}
		}
	}

	if conn.OwnedSessionID != "" {
		room, err := c.rooms.Close(conn.OwnedSessionID, conn.Identity.UserID)
		if err == nil {
			c.endRoom(b, room, ReasonOwnerDisconnected, conn.Identity.UserID)
		}
	}

	c.logger.Debug("connection removed", "connection_id", connID, "user_id", conn.Identity.UserID)
}

// OpenSessions lists the IDs of every open room
func (c *Coordinator) OpenSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.SessionIDs()
}

// Members lists the connections currently joined to sessionID
func (c *Coordinator) Members(sessionID string) ([]types.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, ok := c.rooms.MembersOf(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	members := make([]types.Member, 0, len(ids))
	for _, id := range ids {
		conn, exists := c.registry.Lookup(id)
		if !exists {
			continue
		}
		members = append(members, types.Member{
			ConnectionID: id,
			UserID:       conn.Identity.UserID,
			Role:         conn.Identity.Role,
		})
	}
	return members, nil
}

// Room returns a snapshot of an open room
func (c *Coordinator) Room(sessionID string) (*RoomInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.Get(sessionID)
}

// Connection returns a copy of a registry entry
func (c *Coordinator) Connection(connID string) (Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Lookup(connID)
}

// Stats returns current counts
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connections:     c.registry.Len(),
		Sessions:        c.rooms.Len(),
		EventsDelivered: c.dispatcher.delivered.Load(),
		EventsDropped:   c.dispatcher.dropped.Load(),
		MembersEvicted:  c.dispatcher.healed.Load(),
	}
}

// Shutdown disconnects every connection and refuses new ones. Each
// connection's outbox is closed after its disconnect has been processed.
func (c *Coordinator) Shutdown() {
	_ = c.transact(func(b *Batch) error {
		if c.closed {
			return nil
		}
		c.closed = true
		for _, id := range c.registry.IDs() {
			if conn := c.registry.get(id); conn != nil {
				b.closeLater(conn.outbox)
			}
			c.disconnect(b, id)
		}
		c.logger.Info("coordinator shut down")
		return nil
	})
}
