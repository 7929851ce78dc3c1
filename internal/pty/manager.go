package pty

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	// Command is the telnet client command line; host and port are
	// appended as the last two arguments.
	Command     string
	DefaultCols int
	DefaultRows int
	Logger      *slog.Logger
}

// Manager launches telnet sessions and routes caller operations to them.
// Output and exit notifications go to the handler installed with
// SetEventHandler.
type Manager struct {
	argv        []string
	defaultCols int
	defaultRows int
	registry    *Registry
	log         *slog.Logger
	newID       func() string

	handlerMu sync.RWMutex
	handler   EventHandler

	// bridges counts running bridge goroutines; idle is closed when the
	// count drops to zero.
	bridgeMu sync.Mutex
	bridges  int
	idle     chan struct{}
}

// NewManager creates a Manager with an empty registry.
func NewManager(opts Options) (*Manager, error) {
	argv, err := parseCommand(opts.Command)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		argv:        argv,
		defaultCols: DefaultCols,
		defaultRows: DefaultRows,
		registry:    NewRegistry(),
		log:         opts.Logger,
		newID:       uuid.NewString,
	}
	if opts.DefaultCols > 0 {
		m.defaultCols = opts.DefaultCols
	}
	if opts.DefaultRows > 0 {
		m.defaultRows = opts.DefaultRows
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "pty")
	return m, nil
}

// SetEventHandler installs the consumer of bridge events. Running bridges
// use the new handler from their next event on.
func (m *Manager) SetEventHandler(fn EventHandler) {
	m.handlerMu.Lock()
	m.handler = fn
	m.handlerMu.Unlock()
}

func (m *Manager) emit(evt Event) {
	m.handlerMu.RLock()
	fn := m.handler
	m.handlerMu.RUnlock()
	if fn != nil {
		fn(evt)
	}
}

// Start launches the telnet client for req and returns the new session id.
// The session's bridge is running by the time Start returns.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	req, err := m.normalize(req)
	if err != nil {
		return "", err
	}

	id := m.newID()
	argv := telnetArgv(m.argv, req.Host, req.Port)
	sess, reader, err := spawnSession(id, argv, req)
	if err != nil {
		m.log.Warn("session start failed", "host", req.Host, "port", req.Port, "error", err)
		return "", err
	}

	if err := m.registry.Insert(id, sess); err != nil {
		sess.Kill()
		_ = reader.Close()
		return "", err
	}

	m.bridgeStarted()
	go func() {
		defer m.bridgeDone()
		runBridge(id, reader, m.emit)
	}()

	m.log.Info("session started", "session_id", id, "host", req.Host, "port", req.Port, "pid", sess.Pid())
	return id, nil
}

func (m *Manager) normalize(req StartRequest) (StartRequest, error) {
	req.Host = strings.TrimSpace(req.Host)
	req.Label = strings.TrimSpace(req.Label)
	if err := validateHost(req.Host); err != nil {
		return req, err
	}
	if req.Port == 0 {
		req.Port = DefaultPort
	}
	if req.Port < 1 || req.Port > 65535 {
		return req, fmt.Errorf("%w: port %d out of range", ErrInvalidRequest, req.Port)
	}
	if req.Cols == 0 {
		req.Cols = m.defaultCols
	}
	if req.Rows == 0 {
		req.Rows = m.defaultRows
	}
	if err := validateSize(req.Cols, req.Rows); err != nil {
		return req, err
	}
	return req, nil
}

func validateSize(cols, rows int) error {
	if cols < 1 || cols > 0xffff || rows < 1 || rows > 0xffff {
		return fmt.Errorf("%w: terminal size %dx%d out of range", ErrInvalidRequest, cols, rows)
	}
	return nil
}

// Write forwards data to the session's telnet client.
func (m *Manager) Write(id, data string) error {
	sess, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	return sess.Write([]byte(data))
}

// Resize changes the session's terminal dimensions.
func (m *Manager) Resize(id string, cols, rows int) error {
	if err := validateSize(cols, rows); err != nil {
		return err
	}
	sess, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	return sess.Resize(uint16(cols), uint16(rows))
}

// Kill unregisters the session and kills its telnet client. Unknown ids
// are ignored. The reported bool tells whether a session was removed.
// Kill does not wait for the bridge; it emits its own EventClosed once the
// stream closes.
func (m *Manager) Kill(id string) bool {
	sess := m.registry.Remove(id)
	if sess == nil {
		return false
	}
	sess.Kill()
	m.log.Info("session killed", "session_id", id)
	return true
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (SessionInfo, error) {
	sess, err := m.registry.Get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.Info(), nil
}

// ListSessions returns snapshots of every registered session, including
// ones whose client already exited but were not killed yet.
func (m *Manager) ListSessions() []SessionInfo {
	sessions := m.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

func (m *Manager) bridgeStarted() {
	m.bridgeMu.Lock()
	if m.bridges == 0 {
		m.idle = make(chan struct{})
	}
	m.bridges++
	m.bridgeMu.Unlock()
}

func (m *Manager) bridgeDone() {
	m.bridgeMu.Lock()
	m.bridges--
	if m.bridges == 0 {
		close(m.idle)
	}
	m.bridgeMu.Unlock()
}

// Wait blocks until every bridge has delivered its EventClosed, or ctx
// ends.
func (m *Manager) Wait(ctx context.Context) error {
	m.bridgeMu.Lock()
	if m.bridges == 0 {
		m.bridgeMu.Unlock()
		return nil
	}
	idle := m.idle
	m.bridgeMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close kills every session and refuses further starts.
func (m *Manager) Close() {
	for _, sess := range m.registry.Close() {
		sess.Kill()
	}
}
