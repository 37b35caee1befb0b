package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	dbconfig "rollcall/pkg/database"
	"rollcall/pkg/fifo"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// journalBatchSize caps how many queued journal entries go into one transaction
const journalBatchSize = 256

// Manager implements interfaces.DatabaseManager on sqlite. Reads run on the
// pool; every write runs on the single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation
	journal      *fifo.Queue
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations and starts the
// writer goroutine.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	n, err := dbconfig.NewMigrationManager(db).ApplyMigrations()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "schema check")
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		journal:      fifo.New(),
		shutdown:     make(chan struct{}),
		retryDelay:   time.Second,
	}
	if n > 0 {
		manager.logger.Info("applied migrations", "count", n, "path", config.DatabasePath)
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop serialises all writes. Queued journal entries are flushed in
// batches between account writes and once more on shutdown.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying", "error", err, "delay", m.retryDelay)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.journal.Signal():
			m.flushJournal()

		case <-m.shutdown:
			m.flushJournal()
			m.logger.Debug("write loop stopped")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetAccount looks up a directory account by user ID
func (m *Manager) GetAccount(ctx context.Context, userID string) (*types.Account, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, role, display_name, active
		FROM accounts
		WHERE id = ?
	`, userID)

	var account types.Account
	if err := row.Scan(&account.ID, &account.Role, &account.DisplayName, &account.Active); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "query account")
	}
	return &account, nil
}

// UpsertAccount inserts or replaces a directory account
func (m *Manager) UpsertAccount(ctx context.Context, account *types.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO accounts (id, role, display_name, active, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				role = excluded.role,
				display_name = excluded.display_name,
				active = excluded.active,
				updated_at = excluded.updated_at
		`, account.ID, account.Role, account.DisplayName, account.Active, time.Now().UTC())
		return errors.Wrap(err, "upsert account")
	})
}

// ListAccounts returns every account, optionally filtered by role
func (m *Manager) ListAccounts(ctx context.Context, role string) ([]*types.Account, error) {
	query := `SELECT id, role, display_name, active FROM accounts`
	var args []interface{}
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY id`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query accounts")
	}
	defer func() { _ = rows.Close() }()

	var accounts []*types.Account
	for rows.Next() {
		var a types.Account
		if err := rows.Scan(&a.ID, &a.Role, &a.DisplayName, &a.Active); err != nil {
			return nil, errors.Wrap(err, "scan account row")
		}
		accounts = append(accounts, &a)
	}
	return accounts, errors.Wrap(rows.Err(), "iterate account rows")
}

// Record queues a journal entry for the writer goroutine. It never blocks.
func (m *Manager) Record(entry types.JournalEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.logger.Warn("journal entry dropped after close", "session_id", entry.SessionID, "kind", entry.Kind)
		return
	}
	m.journal.Append(entry)
}

// flushJournal drains the journal queue into the database, one transaction
// per batch. A failed batch is retried once after retryDelay, then logged
// and dropped.
func (m *Manager) flushJournal() {
	for !m.journal.Empty() {
		batch := make([]types.JournalEntry, 0, journalBatchSize)
		for len(batch) < journalBatchSize {
			element, ok := m.journal.Next()
			if !ok {
				break
			}
			if entry, ok := element.(types.JournalEntry); ok {
				batch = append(batch, entry)
			}
		}
		if len(batch) == 0 {
			return
		}
		if err := m.insertJournal(batch); err != nil {
			m.logger.Warn("journal write failed, retrying", "entries", len(batch), "error", err, "delay", m.retryDelay)
			time.Sleep(m.retryDelay)
			if err := m.insertJournal(batch); err != nil {
				m.logger.Error("journal batch dropped after retry", "entries", len(batch), "error", err)
			}
		}
	}
}

func (m *Manager) insertJournal(batch []types.JournalEntry) error {
	tx, err := m.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin journal transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO session_events (id, session_id, kind, actor_id, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "prepare journal insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range batch {
		detail, err := json.Marshal(entry.Detail)
		if err != nil {
			return errors.Wrapf(err, "marshal detail of %s", entry.ID)
		}
		var actor sql.NullString
		if entry.ActorID != "" {
			actor = sql.NullString{String: entry.ActorID, Valid: true}
		}
		if _, err := stmt.Exec(entry.ID, entry.SessionID, entry.Kind, actor, string(detail), entry.RecordedAt); err != nil {
			return errors.Wrapf(err, "insert journal entry %s", entry.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit journal batch")
}

// SessionEvents returns the journal of one session, oldest first
func (m *Manager) SessionEvents(ctx context.Context, sessionID string) ([]*types.JournalEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, kind, actor_id, detail, recorded_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY recorded_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query session events")
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.JournalEntry
	for rows.Next() {
		var entry types.JournalEntry
		var actor sql.NullString
		var detail string
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Kind, &actor, &detail, &entry.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan session event row")
		}
		entry.ActorID = actor.String
		if err := json.Unmarshal([]byte(detail), &entry.Detail); err != nil {
			return nil, errors.Wrapf(err, "unmarshal detail of %s", entry.ID)
		}
		entries = append(entries, &entry)
	}
	return entries, errors.Wrap(rows.Err(), "iterate session event rows")
}

// HealthCheck validates connectivity and a basic read
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return errors.Wrap(err, "database read test failed")
	}
	return nil
}

// JournalBacklog returns the number of journal entries not yet written
func (m *Manager) JournalBacklog() int {
	return m.journal.Len()
}

// Close flushes the journal and shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return errors.Wrap(m.db.Close(), "close database")
}
