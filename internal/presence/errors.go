package presence

import "errors"

// Kind classifies a failed transition for the requesting client.
type Kind string

const (
	KindAuthentication Kind = "authentication_failure"
	KindAuthorization  Kind = "authorization_failure"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInvalidRequest Kind = "invalid_request"
	KindRateLimited    Kind = "rate_limited"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// Error is the typed failure returned to the originating caller of a
// request-style transition. It is never broadcast.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transition errors
var (
	ErrUnknownConnection = &Error{Kind: KindAuthentication, Code: "connection_not_registered", Message: "connection is not registered"}
	ErrInvalidIdentity   = &Error{Kind: KindAuthentication, Code: "invalid_identity", Message: "identity is missing a user ID or role"}
	ErrNotFaculty        = &Error{Kind: KindAuthorization, Code: "faculty_only", Message: "only faculty can open a session"}
	ErrNotOwner          = &Error{Kind: KindAuthorization, Code: "not_owner", Message: "only the session owner can do this"}
	ErrNotOwnerOrAdmin   = &Error{Kind: KindAuthorization, Code: "owner_or_admin_only", Message: "only the session owner or an admin can mark attendance"}
	ErrOwnerCannotJoin   = &Error{Kind: KindAuthorization, Code: "owner_cannot_join", Message: "the session owner cannot join their own session"}
	ErrSessionNotFound   = &Error{Kind: KindNotFound, Code: "session_not_found", Message: "no open session with this id"}
	ErrAlreadyOpen       = &Error{Kind: KindConflict, Code: "session_already_open", Message: "session is already open by another user"}
	ErrAlreadyInSession  = &Error{Kind: KindConflict, Code: "already_in_session", Message: "connection already belongs to another session"}
	ErrRateLimited       = &Error{Kind: KindRateLimited, Code: "rate_limited", Message: "too many events, slow down"}
	ErrCoordinatorClosed = &Error{Kind: KindUnavailable, Code: "shutting_down", Message: "coordinator is shutting down"}
)

// Registry errors
var (
	ErrDuplicateConnection = errors.New("connection ID already registered")
)

// Invalid wraps a payload validation failure as an invalid_request error.
func Invalid(err error) error {
	return &Error{Kind: KindInvalidRequest, Code: "invalid_payload", Message: "invalid payload", Err: err}
}

// KindOf returns the kind of a transition error. Errors that did not come
// from this package are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable reason of a transition error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
