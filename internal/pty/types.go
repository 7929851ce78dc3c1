package pty

import (
	"errors"
	"time"
)

// EventType distinguishes the kind of event produced by a session bridge.
type EventType int

const (
	// EventOutput indicates that new data was read from the PTY.
	EventOutput EventType = iota
	// EventClosed indicates that the PTY stream closed. It is always the
	// last event for a session.
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOutput:
		return "data"
	case EventClosed:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is a single notification emitted by a session bridge.
type Event struct {
	Type EventType
	ID   string
	Data string
}

// EventHandler receives bridge events. It is called from the session's
// bridge goroutine, so events for one session arrive in order.
type EventHandler func(Event)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrAllocation     = errors.New("pty allocation failed")
	ErrSpawn          = errors.New("spawn failed")
	ErrNotFound       = errors.New("session not found")
	ErrIO             = errors.New("session io failed")
	ErrRegistryClosed = errors.New("session registry closed")
)

// StartRequest describes a telnet session to launch. Zero Port, Cols and
// Rows select the defaults.
type StartRequest struct {
	Host  string
	Port  int
	Cols  int
	Rows  int
	Label string
}

// SessionInfo is a read-only snapshot of session metadata.
type SessionInfo struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Label     string    `json:"label,omitempty"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	Alive     bool      `json:"alive"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
