package router

import "rollcall/internal/presence"

// Router errors reported to the sending connection
var (
	ErrMalformedRequest = &presence.Error{Kind: presence.KindInvalidRequest, Code: "malformed_request", Message: "request is not a valid JSON envelope"}
	ErrUnknownEvent     = &presence.Error{Kind: presence.KindInvalidRequest, Code: "unknown_event", Message: "unknown event"}
)
