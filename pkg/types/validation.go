package types

import (
	"regexp"
)

// Compiled once; validation runs on every inbound event.
var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSessionID checks if a session ID meets format requirements.
// Session IDs come from the REST layer so dots are allowed for composite keys.
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 64 {
		return false
	}
	return sessionIDRegex.MatchString(sessionID)
}

// IsValidRole reports whether role is one of the three known roles
func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsValidStatus reports whether status is a known attendance status
func IsValidStatus(status string) bool {
	switch status {
	case StatusPresent, StatusAbsent, StatusLate:
		return true
	default:
		return false
	}
}

// Validate ensures the open request names a session and a course
func (r *OpenSessionRequest) Validate() error {
	if !IsValidSessionID(r.SessionID) {
		return ErrInvalidSessionID
	}
	if len(r.CourseID) < 1 || len(r.CourseID) > 64 {
		return ErrInvalidCourseID
	}
	return nil
}

// Validate ensures the session reference is well formed
func (r *SessionRef) Validate() error {
	if !IsValidSessionID(r.SessionID) {
		return ErrInvalidSessionID
	}
	return nil
}

// Validate checks the mark and defaults an empty method to "manual".
func (m *AttendanceMark) Validate() error {
	if !IsValidSessionID(m.SessionID) {
		return ErrInvalidSessionID
	}
	if m.StudentID == "" {
		return ErrMissingStudentID
	}
	if !IsValidUserID(m.StudentID) {
		return ErrInvalidUserID
	}
	if !IsValidStatus(m.Status) {
		return ErrInvalidStatus
	}
	if m.Method == "" {
		m.Method = DefaultMarkMethod
	}
	if len(m.Method) > 50 {
		return ErrInvalidMethod
	}
	return nil
}

// Validate ensures the account can be stored in the directory
func (a *Account) Validate() error {
	if !IsValidUserID(a.ID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(a.Role) {
		return ErrInvalidRole
	}
	if len(a.DisplayName) < 1 || len(a.DisplayName) > 200 {
		return ErrInvalidDisplayName
	}
	return nil
}

// Identity returns the connection identity an active account resolves to
func (a *Account) Identity() Identity {
	return Identity{UserID: a.ID, Role: a.Role, DisplayName: a.DisplayName}
}
