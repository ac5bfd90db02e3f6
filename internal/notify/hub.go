// Package notify pushes server messages to subscribed WebSocket clients.
//
// Delivery is best-effort: a severed connection makes Notify return false
// and is logged, never retried. Clients recover through the reconnection
// protocol, not through server-side redelivery.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/minhvn/holescan/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Notifier is the progress-push port consumed by the dispatcher and workers.
type Notifier interface {
	// Notify pushes msg over the live connection identified by connRef.
	// Returns false if the connection is gone or the write failed.
	Notify(ctx context.Context, connRef string, msg protocol.ServerMessage) bool
}

// Hub tracks live client connections keyed by an opaque connection ref.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*hubConn
	logger *slog.Logger
}

// hubConn serializes writes; gorilla/websocket allows one concurrent writer.
type hubConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*hubConn),
		logger: logger.With("component", "notify"),
	}
}

// Add registers a live connection and returns its connection ref.
func (h *Hub) Add(ws *websocket.Conn) string {
	ref := uuid.NewString()
	h.mu.Lock()
	h.conns[ref] = &hubConn{ws: ws}
	h.mu.Unlock()

	h.logger.Debug("connection registered", "conn_ref", ref)
	return ref
}

// Remove unregisters a connection. The caller owns closing the socket.
func (h *Hub) Remove(ref string) {
	h.mu.Lock()
	delete(h.conns, ref)
	h.mu.Unlock()
}

func (h *Hub) Notify(_ context.Context, connRef string, msg protocol.ServerMessage) bool {
	h.mu.RLock()
	c := h.conns[connRef]
	h.mu.RUnlock()

	if c == nil {
		h.logger.Warn("notify skipped, connection gone",
			"conn_ref", connRef, "message_type", msg.Type())
		return false
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("notify encode failed",
			"conn_ref", connRef, "message_type", msg.Type(), "error", err)
		return false
	}

	c.mu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		h.logger.Warn("notify failed, dropping connection",
			"conn_ref", connRef, "message_type", msg.Type(), "error", err)
		h.Remove(connRef)
		return false
	}
	return true
}
