package interfaces

import "rollcall/pkg/types"

// Outbox is the delivery endpoint of one live connection.
// Send must never block on network I/O: the coordinator calls it right
// after committing a transition and a slow client must not delay others.
type Outbox interface {
	// Send queues an event for the client, or reports that the
	// connection is gone. Events queued on one outbox are written in
	// the order Send was called.
	Send(event types.Event) error

	// Close tears down the transport. Safe to call more than once.
	Close() error
}
