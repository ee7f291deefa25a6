package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version created by a fresh database.
const CurrentSchemaVersion = 2

func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 records failure traces and indexes failures by plan.
func migrateToVersion2(db *sql.DB) error {
	return execAll(db, []string{
		"ALTER TABLE failures ADD COLUMN trace TEXT NOT NULL DEFAULT ''",
		"CREATE INDEX IF NOT EXISTS idx_failures_plan ON failures(plan_id)",
	})
}

// version1Schema is the original layout; createSchema applies it and then
// every migration so fresh and upgraded databases match.
//
//nolint:gochecknoglobals // DDL table
var version1Schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id            TEXT PRIMARY KEY,
		mode          TEXT NOT NULL DEFAULT 'chat',
		last_plan_id  TEXT NOT NULL DEFAULT '',
		error_count   INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		metadata        TEXT NOT NULL DEFAULT '{}',
		created_at      DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		path            TEXT NOT NULL,
		content         TEXT NOT NULL,
		updated_at      DATETIME NOT NULL,
		PRIMARY KEY (conversation_id, path)
	)`,
	`CREATE TABLE IF NOT EXISTS failures (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		plan_id         TEXT NOT NULL DEFAULT '',
		kind            TEXT NOT NULL,
		severity        TEXT NOT NULL,
		message         TEXT NOT NULL,
		artifact_path   TEXT NOT NULL DEFAULT '',
		attempt         INTEGER NOT NULL DEFAULT 0,
		created_at      DATETIME NOT NULL
	)`,
	"CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)",
	"CREATE INDEX IF NOT EXISTS idx_failures_conversation ON failures(conversation_id)",
	"CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at)",
}

func createSchema(db *sql.DB) error {
	if err := execAll(db, version1Schema); err != nil {
		return err
	}
	if err := setSchemaVersion(db, 1); err != nil {
		return err
	}
	return runMigrations(db, 1, CurrentSchemaVersion)
}

func execAll(db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("failed to clear schema version: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the stored schema version, or 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
