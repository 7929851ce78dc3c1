// Package hub serves the WebSocket endpoint that streams telnet session
// output to browsers and accepts session commands from them.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/telterm/internal/deeplink"
	"github.com/user/telterm/internal/metrics"
	"github.com/user/telterm/internal/pty"
)

const defaultBatchInterval = 16 * time.Millisecond

// Controller executes session commands received from clients.
// *session.Service implements it.
type Controller interface {
	Start(ctx context.Context, req pty.StartRequest) (string, error)
	Write(id, data string) error
	Resize(id string, cols, rows int) error
	Kill(id string) bool
	ListSessions() []pty.SessionInfo
}

type Options struct {
	// BatchInterval is how long output for one session is coalesced.
	// Zero selects the default; negative disables batching.
	BatchInterval time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type Hub struct {
	clients      map[string]*Client
	register     chan *clientRegistration
	unregister   chan *Client
	broadcast    chan hubBroadcast
	token        string
	mu           sync.RWMutex
	ctlMu        sync.RWMutex
	controller   Controller
	actions      *deeplink.Queue
	rateLimiter  *RateLimiter
	batchEnabled atomic.Bool
	ctxWrap      *ctxWrapper
	running      atomic.Bool
	metrics      *metrics.Metrics
	log          *slog.Logger
}

type ctxWrapper struct {
	ctx context.Context
}

type clientRegistration struct {
	client  *Client
	initial [][]byte
}

func New(token string, opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.BatchInterval
	if interval == 0 {
		interval = defaultBatchInterval
	}

	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *clientRegistration, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 1024),
		token:      token,
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
		metrics:    opts.Metrics,
		log:        logger.With("component", "hub"),
	}
	h.batchEnabled.Store(interval > 0)
	if interval < 0 {
		interval = defaultBatchInterval
	}
	h.rateLimiter = NewRateLimiter(interval, func(sessionID string, text string) {
		h.sendTerminalData(sessionID, text)
	})
	return h
}

// SetController installs the handler for client commands. Until it is
// set, commands are answered with an error.
func (h *Hub) SetController(ctl Controller) {
	h.ctlMu.Lock()
	h.controller = ctl
	h.ctlMu.Unlock()
}

func (h *Hub) getController() Controller {
	h.ctlMu.RLock()
	defer h.ctlMu.RUnlock()
	return h.controller
}

// SetActionQueue sets the queue of pending telnet:// requests handed to
// the first client that connects.
func (h *Hub) SetActionQueue(q *deeplink.Queue) {
	h.ctlMu.Lock()
	h.actions = q
	h.ctlMu.Unlock()
}

func (h *Hub) actionQueue() *deeplink.Queue {
	h.ctlMu.RLock()
	defer h.ctlMu.RUnlock()
	return h.actions
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				c.close()
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			h.setClientGauge(0)
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			count := len(h.clients)
			h.mu.Unlock()
			h.setClientGauge(count)
			for _, data := range reg.initial {
				reg.client.deliver(data)
			}
			go reg.client.writePump(h.getContext())
			go reg.client.readPump(h.getContext())
			h.log.Info("client connected", "client_id", reg.client.id, "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.setClientGauge(count)
			h.log.Info("client disconnected", "client_id", client.id, "total", count)

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) broadcastToClients(msg hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wantsSession(msg.sessionID) {
			continue
		}
		if !c.deliver(msg.data) {
			h.log.Warn("client send buffer full, dropping message", "client_id", c.id)
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}

	client := newClient(conn, h)

	initial := [][]byte{h.sessionsPayload()}
	if q := h.actionQueue(); q != nil {
		if actions := q.Consume(); len(actions) > 0 {
			initial = append(initial, marshal(h.log, TelnetRequestsMessage{Type: MsgTelnetRequests, Actions: actions}))
		}
	}

	select {
	case h.register <- &clientRegistration{client: client, initial: initial}:
	default:
		h.log.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
}

// BroadcastTerminalData queues output for every client watching the
// session. Output may be coalesced but is never reordered.
func (h *Hub) BroadcastTerminalData(sessionID, text string) {
	if h.batchEnabled.Load() {
		h.rateLimiter.Add(sessionID, text)
		return
	}
	h.sendTerminalData(sessionID, text)
}

// BroadcastTerminalExit announces the end of a session's output after
// any output still held for it.
func (h *Hub) BroadcastTerminalExit(sessionID string) {
	data := marshal(h.log, TerminalExitMessage{Type: MsgTerminalExit, SessionID: sessionID})
	h.rateLimiter.Finish(sessionID, func() {
		h.enqueue(hubBroadcast{data: data, sessionID: sessionID})
	})
}

// BroadcastSessions sends the current session list to every client.
func (h *Hub) BroadcastSessions(list []pty.SessionInfo) {
	if list == nil {
		list = []pty.SessionInfo{}
	}
	h.enqueue(hubBroadcast{data: marshal(h.log, SessionsMessage{Type: MsgSessions, List: list})})
}

// BroadcastActions hands telnet:// requests to connected clients. It
// reports false when no client is connected, leaving the caller to keep
// them queued.
func (h *Hub) BroadcastActions(actions []deeplink.Action) bool {
	if len(actions) == 0 {
		return true
	}
	if h.ClientCount() == 0 {
		return false
	}
	h.enqueue(hubBroadcast{data: marshal(h.log, TelnetRequestsMessage{Type: MsgTelnetRequests, Actions: actions})})
	return true
}

func (h *Hub) sendTerminalData(sessionID, text string) {
	data := marshal(h.log, TerminalDataMessage{Type: MsgTerminalData, SessionID: sessionID, Text: text})
	h.enqueue(hubBroadcast{data: data, sessionID: sessionID})
}

func (h *Hub) enqueue(msg hubBroadcast) {
	if msg.data == nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast channel full, dropping message", "session_id", msg.sessionID)
	}
}

func (h *Hub) sessionsPayload() []byte {
	list := []pty.SessionInfo{}
	if ctl := h.getController(); ctl != nil {
		list = ctl.ListSessions()
	}
	return marshal(h.log, SessionsMessage{Type: MsgSessions, List: list})
}

func (h *Hub) SendError(client *Client, message, requestID string) {
	h.sendTo(client, ErrorMessage{Type: MsgError, Message: message, RequestID: requestID})
}

func (h *Hub) sendTo(client *Client, msg any) {
	h.sendRaw(client, marshal(h.log, msg))
}

func (h *Hub) sendRaw(client *Client, data []byte) {
	if data == nil {
		return
	}
	client.deliver(data)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SetBatchEnabled(enabled bool) {
	h.batchEnabled.Store(enabled)
	if !enabled {
		h.rateLimiter.FlushAll()
	}
}

func (h *Hub) FlushPendingOutput() {
	h.rateLimiter.FlushAll()
}

func (h *Hub) setClientGauge(n int) {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.log.Warn("unregister channel full, forcing close", "client_id", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

func marshal(log *slog.Logger, msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to marshal message", "error", err)
		return nil
	}
	return data
}
