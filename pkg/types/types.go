package types

import (
	"encoding/json"
	"time"
)

// Roles resolved from the account directory at connect time
const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

// Inbound event names accepted from an authenticated connection
const (
	EventOpenSession      = "open_session"
	EventCloseSession     = "close_session"
	EventJoinSession      = "join_session"
	EventLeaveSession     = "leave_session"
	EventAttendanceMarked = "attendance_marked"
)

// Outbound event names
const (
	EventConnectionSuccess = "connection_success"
	EventSessionAvailable  = "session_available"
	EventSessionStarted    = "session_started"
	EventSessionEnded      = "session_ended"
	EventSessionJoined     = "session_joined"
	EventStudentJoined     = "student_joined"
	EventSessionLeft       = "session_left"
	EventStudentLeft       = "student_left"
	EventAttendanceUpdate  = "attendance_update"
	EventSessionUpdate     = "session_update"
	EventAck               = "ack"
	EventError             = "error"
)

// Attendance statuses
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
)

// DefaultMarkMethod is used when an attendance mark omits its method.
const DefaultMarkMethod = "manual"

// Identity is what the credential verifier resolves a bearer token to.
// It is immutable for the lifetime of a connection.
type Identity struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
}

// Event is the outbound envelope written to a client.
type Event struct {
	ID        string      `json:"id"`
	Name      string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Request is the inbound envelope read from a client. Ref is echoed back
// in the matching ack or error so clients can correlate replies.
type Request struct {
	Ref  string          `json:"ref,omitempty"`
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SessionRef is the payload of close_session, join_session and leave_session.
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

// OpenSessionRequest is the payload of open_session.
type OpenSessionRequest struct {
	SessionID string `json:"sessionId"`
	CourseID  string `json:"courseId"`
}

// AttendanceMark is the payload of attendance_marked and of the REST-path
// attendance broadcast. Both paths share the attendance_update shape.
type AttendanceMark struct {
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
	Method    string `json:"method,omitempty"`
}

// ConnectionSuccess is sent once to a freshly registered connection.
type ConnectionSuccess struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	DisplayName  string `json:"displayName"`
}

// SessionAvailable is announced to every connected client when a room opens.
type SessionAvailable struct {
	SessionID string    `json:"sessionId"`
	CourseID  string    `json:"courseId"`
	OwnerName string    `json:"ownerName"`
	OpenedAt  time.Time `json:"openedAt"`
}

// SessionStarted is sent to the owner that opened a room.
type SessionStarted struct {
	SessionID string    `json:"sessionId"`
	CourseID  string    `json:"courseId"`
	OpenedAt  time.Time `json:"openedAt"`
}

// SessionEnded is sent to every member of a room when it closes, whether
// the owner closed it or disconnected.
type SessionEnded struct {
	SessionID string `json:"sessionId"`
	CourseID  string `json:"courseId"`
}

// SessionJoined is sent to a connection that joined a room.
type SessionJoined struct {
	SessionID string `json:"sessionId"`
	CourseID  string `json:"courseId"`
	OwnerName string `json:"ownerName"`
}

// SessionLeft is sent to a connection that left a room.
type SessionLeft struct {
	SessionID string `json:"sessionId"`
}

// ParticipantChange is sent to a room owner as student_joined or student_left.
type ParticipantChange struct {
	SessionID   string `json:"sessionId"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

// AttendanceUpdate is fanned out to a room when attendance is marked.
type AttendanceUpdate struct {
	SessionID string    `json:"sessionId"`
	StudentID string    `json:"studentId"`
	Status    string    `json:"status"`
	Method    string    `json:"method"`
	MarkedBy  string    `json:"markedBy,omitempty"`
	MarkedAt  time.Time `json:"markedAt"`
}

// Ack confirms a successful inbound request to its sender.
type Ack struct {
	Ref   string `json:"ref,omitempty"`
	Event string `json:"event"`
}

// Rejection reports a failed inbound request to its sender only.
type Rejection struct {
	Ref     string `json:"ref,omitempty"`
	Event   string `json:"event"`
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Member describes one connection currently joined to a room.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Role         string `json:"role"`
}

// Account is a row of the account directory.
type Account struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
}

// JournalEntry records a committed session transition.
type JournalEntry struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"sessionId"`
	Kind       string                 `json:"kind"`
	ActorID    string                 `json:"actorId,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	RecordedAt time.Time              `json:"recordedAt"`
}

// Journal entry kinds
const (
	JournalSessionOpened    = "session_opened"
	JournalSessionClosed    = "session_closed"
	JournalAttendanceUpdate = "attendance_update"
)
