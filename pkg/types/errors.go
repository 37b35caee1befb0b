package types

import "errors"

// Validation errors for wire payloads and account records
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionID   = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot only")
	ErrInvalidCourseID    = errors.New("course ID must be 1-64 characters")
	ErrInvalidRole        = errors.New("role must be student, faculty or admin")
	ErrInvalidDisplayName = errors.New("display name must be 1-200 characters")
	ErrInvalidStatus      = errors.New("status must be present, absent or late")
	ErrInvalidMethod      = errors.New("method must be at most 50 characters")
	ErrMissingStudentID   = errors.New("student ID is required")
)
