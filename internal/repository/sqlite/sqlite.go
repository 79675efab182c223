// Package sqlite implements the repository interfaces on an embedded SQLite
// database (modernc.org/sqlite, the CGo-free driver).
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps the shared connection pool and implements CredentialRepository,
// EventRepository and OwnerResolver.
type DB struct {
	conn *sql.DB

	// hasColor caches whether the optional events.color column exists in
	// this database. Probed once at open; older deployments that have not
	// run the color migration keep working with the column omitted.
	hasColor bool
}

// New opens (or creates) the database at dbPath, applies pragmas, runs
// migrations and probes optional columns. Use ":memory:" for tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	db, err := newWithConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// newWithConn finishes initialization on an already opened pool. Split from
// New so tests can hand in a connection with a pre-existing legacy schema.
func newWithConn(conn *sql.DB) (*DB, error) {
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL allows concurrent reads during a write; foreign keys are off by
	// default in SQLite.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	hasColor, err := db.columnExists("events", "color")
	if err != nil {
		return nil, fmt.Errorf("sqlite: probing events.color: %w", err)
	}
	db.hasColor = hasColor

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent;
// an existing events table from an older deployment is left as-is, which is
// how a database without the color column stays that way (the wider platform
// owns schema migrations — this subsystem only tolerates the drift).
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			user_id       TEXT PRIMARY KEY,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at    INTEGER,
			scope         TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating credentials table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id        INTEGER NOT NULL,
			remote_event_id TEXT,
			title           TEXT NOT NULL,
			description     TEXT,
			color           TEXT,
			date            TEXT NOT NULL,
			start_time      TEXT,
			end_time        TEXT,
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_owner_id ON events(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("creating events table: %w", err)
	}

	// remote_event_id is the reconciliation join key: unique per owner when
	// present. The partial index is also the conflict target of the bulk
	// upsert.
	_, err = db.conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_owner_remote
		ON events(owner_id, remote_event_id)
		WHERE remote_event_id IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("creating events remote index: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating profiles table: %w", err)
	}

	return nil
}

// columnExists checks pragma_table_info for a column.
func (db *DB) columnExists(table, column string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
