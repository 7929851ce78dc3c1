package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type SessionLogRepo struct {
	db *sql.DB
}

func NewSessionLogRepo(db *sql.DB) *SessionLogRepo {
	return &SessionLogRepo{db: db}
}

const sessionLogColumns = `id, host, port, label, cols, rows, status, error, started_at, ended_at`

func (r *SessionLogRepo) Create(ctx context.Context, entry *SessionLog) error {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = nowUTC()
	}
	if entry.Status == "" {
		entry.Status = SessionStatusRunning
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO session_log (`+sessionLogColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, entry.ID, entry.Host, entry.Port, entry.Label, entry.Cols, entry.Rows, entry.Status, entry.Error, formatTimestamp(entry.StartedAt), formatTimestampOrEmpty(entry.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to create session log %q: %w", entry.ID, err)
	}
	return nil
}

// MarkEnded moves a running row to status. Rows that already ended are
// left alone, so whichever of kill or exit lands first wins. It reports
// whether a row changed.
func (r *SessionLogRepo) MarkEnded(ctx context.Context, id, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE session_log SET status = ?, ended_at = ?
WHERE id = ? AND status = ?
`, status, formatTimestamp(nowUTC()), id, SessionStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark session log %q %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// MarkRunningAsAbandoned closes rows left running by a previous process.
func (r *SessionLogRepo) MarkRunningAsAbandoned(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE session_log SET status = ?, ended_at = ?, error = 'server stopped'
WHERE status = ?
`, SessionStatusExited, formatTimestamp(nowUTC()), SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to close abandoned session logs: %w", err)
	}
	return res.RowsAffected()
}

func (r *SessionLogRepo) Get(ctx context.Context, id string) (*SessionLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionLogColumns+` FROM session_log WHERE id = ?`, id)
	entry, err := scanSessionLog(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session log %q: %w", id, err)
	}
	return entry, nil
}

func (r *SessionLogRepo) List(ctx context.Context, filter SessionLogFilter) ([]*SessionLog, error) {
	query := `SELECT ` + sessionLogColumns + ` FROM session_log`
	args := []any{}
	where := []string{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Host != "" {
		where = append(where, "host = ? COLLATE NOCASE")
		args = append(args, filter.Host)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list session logs: %w", err)
	}
	defer rows.Close()

	entries := []*SessionLog{}
	for rows.Next() {
		entry, err := scanSessionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating session logs: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionLog(row rowScanner) (*SessionLog, error) {
	var s SessionLog
	var startedAtRaw, endedAtRaw string
	if err := row.Scan(&s.ID, &s.Host, &s.Port, &s.Label, &s.Cols, &s.Rows, &s.Status, &s.Error, &startedAtRaw, &endedAtRaw); err != nil {
		return nil, err
	}
	var err error
	s.StartedAt, err = parseTimestamp(startedAtRaw)
	if err != nil {
		return nil, err
	}
	s.EndedAt, err = parseOptionalTimestamp(endedAtRaw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
