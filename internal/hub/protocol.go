package hub

import (
	"github.com/user/telterm/internal/deeplink"
	"github.com/user/telterm/internal/pty"
)

// Client → server message types.
const (
	MsgStart          = "start"
	MsgTerminalInput  = "terminal_input"
	MsgTerminalResize = "terminal_resize"
	MsgKill           = "kill"
	MsgSubscribe      = "subscribe"
)

// Server → client message types.
const (
	MsgSessionStarted = "session_started"
	MsgTerminalData   = "terminal_data"
	MsgTerminalExit   = "terminal_exit"
	MsgSessions       = "sessions"
	MsgTelnetRequests = "telnet_requests"
	MsgError          = "error"
)

type ClientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Label     string `json:"label,omitempty"`
	Keys      string `json:"keys,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

type SessionStartedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
}

type TerminalDataMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type TerminalExitMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type SessionsMessage struct {
	Type string            `json:"type"`
	List []pty.SessionInfo `json:"list"`
}

type TelnetRequestsMessage struct {
	Type    string            `json:"type"`
	Actions []deeplink.Action `json:"actions"`
}

type ErrorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type hubBroadcast struct {
	data      []byte
	sessionID string
}
