package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	SessionStatusRunning = "running"
	SessionStatusExited  = "exited"
	SessionStatusKilled  = "killed"
	SessionStatusFailed  = "failed"
)

// SessionLog is the history record of one start attempt. Rows are never
// used to restore sessions.
type SessionLog struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Label     string    `json:"label,omitempty"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

type SessionLogFilter struct {
	Status string
	// Host matches case-insensitively.
	Host  string
	Limit int
}

func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatTimestampOrEmpty(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return formatTimestamp(ts)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func parseOptionalTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(raw)
}
