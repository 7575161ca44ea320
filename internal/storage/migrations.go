package storage

import (
	"database/sql"
	"fmt"
)

// migration is one versioned schema change applied on top of the base
// schema.sql
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		// The resolved-alarm cleanup job scans by status and resolution
		// time; the base schema only indexes fingerprint and device.
		version: 2,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_alarms_resolved ON alarms(status, resolved_at)`,
		},
	},
}

// migrate applies all pending migrations in version order
func (ss *SQLiteStorage) migrate() error {
	var version int
	err := ss.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("checking migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}

		tx, err := ss.db.Begin()
		if err != nil {
			return err
		}

		if err := applyMigration(tx, m); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}

	return nil
}

func applyMigration(tx *sql.Tx, m migration) error {
	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := tx.Exec(`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, m.version)
	return err
}
