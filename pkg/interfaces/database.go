package interfaces

import (
	"context"

	"rollcall/pkg/types"
)

// AccountStore resolves user IDs to directory accounts.
// The directory is a replica synced from the REST layer.
type AccountStore interface {
	// GetAccount returns ErrAccountNotFound when the ID is unknown
	GetAccount(ctx context.Context, userID string) (*types.Account, error)

	// UpsertAccount inserts or replaces an account
	UpsertAccount(ctx context.Context, account *types.Account) error
}

// Journal records committed session transitions.
type Journal interface {
	// Record queues an entry for persistence. It must not block the caller
	// for longer than an enqueue; persistence failures are logged by the
	// implementation.
	Record(entry types.JournalEntry)

	// SessionEvents returns the entries recorded for a session, oldest first
	SessionEvents(ctx context.Context, sessionID string) ([]*types.JournalEntry, error)
}

// DatabaseManager is the full persistence surface used by the application
type DatabaseManager interface {
	AccountStore
	Journal

	// HealthCheck verifies database connectivity and basic reads
	HealthCheck(ctx context.Context) error

	Close() error
}
