package database

import (
	"context"
	"fmt"
)

// migration is one versioned schema step. Versions are consecutive
// integers starting at 1 and recorded via SQLite's user_version pragma.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations is the ordered schema history. Append only — never edit an
// entry that has shipped.
var migrations = []migration{
	{
		version: 1,
		name:    "shutter_history",
		sql: `
			CREATE TABLE IF NOT EXISTS shutter_history (
				id          TEXT PRIMARY KEY,
				target      TEXT NOT NULL,
				action      TEXT NOT NULL,
				outcome     TEXT NOT NULL,
				error       TEXT NOT NULL DEFAULT '',
				duration_ms INTEGER NOT NULL,
				created_at  TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_shutter_history_created_at
				ON shutter_history(created_at);
			CREATE INDEX IF NOT EXISTS idx_shutter_history_target
				ON shutter_history(target);
		`,
	},
}

// Migrate applies all pending schema migrations.
//
// Each migration runs in its own transaction together with the
// user_version bump, so a failure leaves the database at the last
// completed version and re-running Migrate continues from there.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If any migration fails (that migration is rolled back)
func (db *DB) Migrate(ctx context.Context) error {
	current, err := db.schemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
		}
	}

	return nil
}

// SchemaVersion returns the currently applied schema version.
// Zero means a fresh database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return db.schemaVersion(ctx)
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// applyMigration runs one migration and its version bump atomically.
func (db *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	// PRAGMA does not accept placeholders; version comes from the
	// compiled-in migration table, never from input.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}
