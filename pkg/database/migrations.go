package database

import (
	"database/sql"
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const dialect = "sqlite3"

// MigrationManager applies the embedded schema migrations
type MigrationManager struct {
	db  *sql.DB
	set *migrate.MigrationSet
	src migrate.MigrationSource
}

// NewMigrationManager creates a migration manager for db. Applied versions
// are tracked in schema_migrations.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{
		db:  db,
		set: &migrate.MigrationSet{TableName: "schema_migrations"},
		src: migrate.EmbedFileSystemMigrationSource{
			FileSystem: migrationFiles,
			Root:       "migrations",
		},
	}
}

// ApplyMigrations applies all pending migrations and returns how many ran
func (m *MigrationManager) ApplyMigrations() (int, error) {
	n, err := m.set.Exec(m.db, dialect, m.src, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return n, nil
}

// Rollback reverts up to steps migrations, most recent first
func (m *MigrationManager) Rollback(steps int) (int, error) {
	n, err := m.set.ExecMax(m.db, dialect, m.src, migrate.Down, steps)
	if err != nil {
		return n, fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return n, nil
}

// Applied lists the IDs of applied migrations in order
func (m *MigrationManager) Applied() ([]string, error) {
	records, err := m.set.GetMigrationRecords(m.db, dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration records: %w", err)
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.Id)
	}
	return ids, nil
}

// Pending counts migrations that have not been applied
func (m *MigrationManager) Pending() (int, error) {
	planned, _, err := m.set.PlanMigration(m.db, dialect, m.src, migrate.Up, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to plan migrations: %w", err)
	}
	return len(planned), nil
}
