// Package deeplink turns telnet:// URLs handed to the process into open
// requests and queues them until the front end collects them.
package deeplink

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const scheme = "telnet://"

// LaunchRequest asks the front end to open a session.
type LaunchRequest struct {
	Host  string `json:"host"`
	Port  int    `json:"port,omitempty"`
	Label string `json:"label,omitempty"`
}

// Action is a pending request for the front end. Open is the only type.
type Action struct {
	Type    string        `json:"type"`
	Request LaunchRequest `json:"request"`
}

const ActionOpen = "open"

// ParseTelnetURL accepts telnet://host, telnet://host:port, or a bare
// host[:port] which is treated as if it had the telnet scheme.
func ParseTelnetURL(raw string) (LaunchRequest, bool) {
	work := strings.TrimSpace(raw)
	if work == "" {
		return LaunchRequest{}, false
	}
	if !strings.HasPrefix(strings.ToLower(work), scheme) {
		work = scheme + work
	}

	u, err := url.Parse(work)
	if err != nil {
		return LaunchRequest{}, false
	}
	host := u.Hostname()
	if host == "" {
		return LaunchRequest{}, false
	}

	req := LaunchRequest{Host: host}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return LaunchRequest{}, false
		}
		req.Port = port
	}
	return req, true
}

// FromArgs parses every argument and returns open actions for the ones
// that are telnet URLs. Anything else is skipped.
func FromArgs(args []string) []Action {
	var actions []Action
	for _, arg := range args {
		if req, ok := ParseTelnetURL(arg); ok {
			actions = append(actions, Action{Type: ActionOpen, Request: req})
		}
	}
	return actions
}

// Queue accumulates actions between polls.
type Queue struct {
	mu      sync.Mutex
	pending []Action
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends actions in order.
func (q *Queue) Push(actions ...Action) {
	if len(actions) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, actions...)
	q.mu.Unlock()
}

// Consume returns everything pending and empties the queue.
func (q *Queue) Consume() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	if out == nil {
		out = []Action{}
	}
	return out
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
