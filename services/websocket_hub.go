package services

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

const wsWriteTimeout = 10 * time.Second

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(ctx context.Context, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// WebSocketHub tracks the live connection of each web chat user so that
// background dispatch can push replies to it.
type WebSocketHub struct {
	mu    sync.RWMutex
	conns map[string]*wsConn
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{conns: make(map[string]*wsConn)}
}

// Register makes conn the live connection of userID, replacing an older
// one. The returned func unregisters it if it is still current.
func (h *WebSocketHub) Register(userID string, conn *websocket.Conn) func() {
	c := &wsConn{conn: conn}
	h.mu.Lock()
	h.conns[userID] = c
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.conns[userID] == c {
			delete(h.conns, userID)
		}
	}
}

// Connected returns the number of live connections.
func (h *WebSocketHub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendPayload writes the payload as a chat response. A user without a live
// connection is a transient failure: the client may reconnect before the
// next retry.
func (h *WebSocketHub) SendPayload(ctx context.Context, to string, payload models.Payload) error {
	h.mu.RLock()
	c := h.conns[to]
	h.mu.RUnlock()
	if c == nil {
		return ErrNoLiveConnection
	}
	return c.writeJSON(ctx, models.ChatResponse{
		Response: payload.Text,
		Options:  payload.Options,
	})
}
