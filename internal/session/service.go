// Package session ties live telnet sessions to their history rows, the
// WebSocket hub and metrics.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/telterm/internal/db"
	"github.com/user/telterm/internal/metrics"
	"github.com/user/telterm/internal/pty"
)

const historyTimeout = 5 * time.Second

// Terminals is the live session registry. *pty.Manager implements it.
type Terminals interface {
	Start(ctx context.Context, req pty.StartRequest) (string, error)
	Write(id, data string) error
	Resize(id string, cols, rows int) error
	Kill(id string) bool
	Get(id string) (pty.SessionInfo, error)
	ListSessions() []pty.SessionInfo
	// Wait blocks until every output stream has closed.
	Wait(ctx context.Context) error
}

// HistoryStore persists one row per start attempt. *db.SessionLogRepo
// implements it.
type HistoryStore interface {
	Create(ctx context.Context, entry *db.SessionLog) error
	MarkEnded(ctx context.Context, id, status string) (bool, error)
	List(ctx context.Context, filter db.SessionLogFilter) ([]*db.SessionLog, error)
}

// Broadcaster fans session output out to connected clients.
type Broadcaster interface {
	BroadcastTerminalData(sessionID, text string)
	BroadcastTerminalExit(sessionID string)
	BroadcastSessions(list []pty.SessionInfo)
}

type Options struct {
	// AutoReap removes a session from the registry once its output
	// stream has ended. Off by default: the entry stays until killed.
	AutoReap bool
	Logger   *slog.Logger
}

type Service struct {
	terms   Terminals
	history HistoryStore
	metrics *metrics.Metrics
	log     *slog.Logger

	autoReap bool

	// rowMu orders a start's history row before that session's exit
	// mark. recorded holds ids whose running row exists; earlyExits
	// holds ids whose stream closed before the row was written.
	rowMu      sync.Mutex
	recorded   map[string]struct{}
	earlyExits map[string]struct{}

	bcMu        sync.RWMutex
	broadcaster Broadcaster
}

// New builds a service. history may be nil, in which case nothing is
// recorded.
func New(terms Terminals, history HistoryStore, m *metrics.Metrics, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		terms:    terms,
		history:  history,
		metrics:  m,
		log:      logger.With("component", "session"),
		autoReap: opts.AutoReap,

		recorded:   make(map[string]struct{}),
		earlyExits: make(map[string]struct{}),
	}
}

func (s *Service) SetBroadcaster(b Broadcaster) {
	s.bcMu.Lock()
	s.broadcaster = b
	s.bcMu.Unlock()
}

func (s *Service) currentBroadcaster() Broadcaster {
	s.bcMu.RLock()
	defer s.bcMu.RUnlock()
	return s.broadcaster
}

// Start launches a session and records the attempt.
func (s *Service) Start(ctx context.Context, req pty.StartRequest) (string, error) {
	id, err := s.terms.Start(ctx, req)
	if err != nil {
		reason := failureReason(err)
		s.metrics.SessionStartFailures.WithLabelValues(reason).Inc()
		s.record(&db.SessionLog{
			Host:   req.Host,
			Port:   req.Port,
			Label:  req.Label,
			Cols:   req.Cols,
			Rows:   req.Rows,
			Status: db.SessionStatusFailed,
			Error:  err.Error(),
		})
		return "", err
	}

	s.metrics.SessionsStarted.Inc()
	s.metrics.SessionsActive.Inc()

	entry := &db.SessionLog{ID: id, Host: req.Host, Port: req.Port, Label: req.Label, Cols: req.Cols, Rows: req.Rows}
	if info, err := s.terms.Get(id); err == nil {
		entry.Host, entry.Port, entry.Label = info.Host, info.Port, info.Label
		entry.Cols, entry.Rows = info.Cols, info.Rows
		entry.StartedAt = info.CreatedAt
	}
	s.recordStarted(entry)
	s.publishSessions()
	return id, nil
}

func (s *Service) Write(id, data string) error {
	return s.terms.Write(id, data)
}

func (s *Service) Resize(id string, cols, rows int) error {
	return s.terms.Resize(id, cols, rows)
}

// Kill terminates and removes a session. It reports whether the id was
// registered.
func (s *Service) Kill(id string) bool {
	if _, err := s.terms.Get(id); err != nil {
		return false
	}
	// Marked first: the exit event raced by the kill must not win.
	s.markEnded(id, db.SessionStatusKilled)
	if !s.terms.Kill(id) {
		return false
	}
	s.metrics.SessionsKilled.Inc()
	s.publishSessions()
	return true
}

func (s *Service) Get(id string) (pty.SessionInfo, error) {
	return s.terms.Get(id)
}

func (s *Service) ListSessions() []pty.SessionInfo {
	return s.terms.ListSessions()
}

// Shutdown kills every live session, recording each as killed, and waits
// for their exit events so history is complete before the store closes.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, info := range s.terms.ListSessions() {
		s.Kill(info.ID)
	}
	return s.terms.Wait(ctx)
}

// History lists recorded start attempts, newest first.
func (s *Service) History(ctx context.Context, filter db.SessionLogFilter) ([]*db.SessionLog, error) {
	if s.history == nil {
		return []*db.SessionLog{}, nil
	}
	return s.history.List(ctx, filter)
}

// HandleEvent consumes bridge events. It runs on the bridge goroutine of
// the session named by the event.
func (s *Service) HandleEvent(evt pty.Event) {
	s.metrics.BridgeEvents.WithLabelValues(evt.Type.String()).Inc()

	switch evt.Type {
	case pty.EventOutput:
		s.metrics.BridgeBytes.Add(float64(len(evt.Data)))
		if b := s.currentBroadcaster(); b != nil {
			b.BroadcastTerminalData(evt.ID, evt.Data)
		}

	case pty.EventClosed:
		s.metrics.SessionsActive.Dec()

		s.recordExited(evt.ID)

		if b := s.currentBroadcaster(); b != nil {
			b.BroadcastTerminalExit(evt.ID)
		}
		s.log.Debug("session output closed", "session_id", evt.ID)

		if s.autoReap && s.terms.Kill(evt.ID) {
			s.log.Info("session reaped", "session_id", evt.ID)
		}
		s.publishSessions()
	}
}

func (s *Service) publishSessions() {
	if b := s.currentBroadcaster(); b != nil {
		b.BroadcastSessions(s.terms.ListSessions())
	}
}

// recordStarted writes the running row, or an already exited one when the
// stream closed while Start was still returning.
func (s *Service) recordStarted(entry *db.SessionLog) {
	s.rowMu.Lock()
	defer s.rowMu.Unlock()

	entry.Status = db.SessionStatusRunning
	if _, ok := s.earlyExits[entry.ID]; ok {
		delete(s.earlyExits, entry.ID)
		entry.Status = db.SessionStatusExited
		entry.EndedAt = time.Now().UTC()
		s.record(entry)
		return
	}
	s.record(entry)
	s.recorded[entry.ID] = struct{}{}
}

func (s *Service) recordExited(id string) {
	s.rowMu.Lock()
	_, ok := s.recorded[id]
	if ok {
		delete(s.recorded, id)
	} else {
		s.earlyExits[id] = struct{}{}
	}
	s.rowMu.Unlock()

	if ok {
		s.markEnded(id, db.SessionStatusExited)
	}
}

func (s *Service) record(entry *db.SessionLog) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.history.Create(ctx, entry); err != nil {
		s.log.Warn("failed to record session", "session_id", entry.ID, "error", err)
	}
}

func (s *Service) markEnded(id, status string) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if _, err := s.history.MarkEnded(ctx, id, status); err != nil {
		s.log.Warn("failed to update session history", "session_id", id, "status", status, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, pty.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, pty.ErrAllocation):
		return "allocation"
	case errors.Is(err, pty.ErrSpawn):
		return "spawn"
	case errors.Is(err, pty.ErrRegistryClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
