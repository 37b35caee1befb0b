package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrOutboxFull       = errors.New("outbox full, client too slow")
)

// Handler-related errors
var (
	ErrMissingToken = errors.New("missing bearer token")
)
