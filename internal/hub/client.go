package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/user/telterm/internal/pty"
)

const (
	clientSendBuffer = 256
	clientReadLimit  = 64 * 1024
	pingInterval     = 30 * time.Second
)

type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	hub           *Hub
	subMu         sync.RWMutex
	subscribeAll  bool
	subscriptions map[string]struct{}
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, clientSendBuffer),
		done:          make(chan struct{}),
		hub:           hub,
		subscribeAll:  true,
		subscriptions: make(map[string]struct{}),
	}
}

// close stops the write pump. send is never closed, so late replies from
// an in-flight command are dropped instead of panicking.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// deliver queues data without blocking. It reports false when the client
// is gone or its buffer is full.
func (c *Client) deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(clientReadLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				c.hub.log.Debug("client read ended", "client_id", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Warn("invalid client message", "client_id", c.id, "error", err)
			c.hub.SendError(c, "invalid message format", "")
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg ClientMessage) {
	if msg.Type == MsgSubscribe {
		c.subscribe(msg.SessionID)
		c.hub.sendRaw(c, c.hub.sessionsPayload())
		return
	}

	ctl := c.hub.getController()
	if ctl == nil {
		c.hub.SendError(c, "sessions unavailable", msg.RequestID)
		return
	}

	switch msg.Type {
	case MsgStart:
		id, err := ctl.Start(ctx, pty.StartRequest{
			Host:  msg.Host,
			Port:  msg.Port,
			Cols:  msg.Cols,
			Rows:  msg.Rows,
			Label: msg.Label,
		})
		if err != nil {
			c.hub.SendError(c, err.Error(), msg.RequestID)
			return
		}
		c.hub.sendTo(c, SessionStartedMessage{Type: MsgSessionStarted, SessionID: id, RequestID: msg.RequestID})

	case MsgTerminalInput:
		if msg.SessionID == "" || msg.Keys == "" {
			return
		}
		if err := ctl.Write(msg.SessionID, msg.Keys); err != nil {
			c.hub.SendError(c, err.Error(), msg.RequestID)
		}

	case MsgTerminalResize:
		if msg.SessionID == "" {
			c.hub.SendError(c, "session_id is required", msg.RequestID)
			return
		}
		if err := ctl.Resize(msg.SessionID, msg.Cols, msg.Rows); err != nil {
			c.hub.SendError(c, err.Error(), msg.RequestID)
		}

	case MsgKill:
		// Killing an unknown or already removed session is a no-op.
		ctl.Kill(msg.SessionID)

	default:
		c.hub.SendError(c, "unknown message type: "+msg.Type, msg.RequestID)
	}
}

func (c *Client) subscribe(sessionID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sessionID == "" {
		c.subscribeAll = true
		c.subscriptions = make(map[string]struct{})
		return
	}
	c.subscribeAll = false
	c.subscriptions[sessionID] = struct{}{}
}

func (c *Client) wantsSession(sessionID string) bool {
	if sessionID == "" {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subscribeAll {
		return true
	}
	_, ok := c.subscriptions[sessionID]
	return ok
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				if !errors.Is(err, context.Canceled) {
					c.hub.log.Debug("client write failed", "client_id", c.id, "error", err)
				}
				return
			}
		}
	}
}
