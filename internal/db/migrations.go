package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create session log",
		sql: `
CREATE TABLE IF NOT EXISTS session_log (
	id TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	cols INTEGER NOT NULL,
	rows INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_session_log_status ON session_log(status);
CREATE INDEX IF NOT EXISTS idx_session_log_started_at ON session_log(started_at);
`,
	},
	{
		version: 2,
		name:    "index session log by host",
		sql:     `CREATE INDEX IF NOT EXISTS idx_session_log_host ON session_log(host COLLATE NOCASE);`,
	},
}

// SchemaVersion is the version RunMigrations brings a database to.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// RunMigrations applies every pending migration in one transaction.
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := currentVersion(ctx, tx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(ctx, tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

func currentVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	const ensureMeta = `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0');
`
	if _, err := tx.ExecContext(ctx, ensureMeta); err != nil {
		return 0, fmt.Errorf("failed to ensure _meta table: %w", err)
	}

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	return v, nil
}

func (m migration) apply(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("failed migration %03d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
		return fmt.Errorf("failed to set schema version %03d: %w", m.version, err)
	}
	return nil
}
