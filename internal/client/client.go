// Package client implements the scan client: WebSocket session handling,
// local progress state and the persistent session pointer used for
// recovery after a disconnect.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minhvn/holescan/internal/protocol"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// EventFunc observes the view after each applied server message.
type EventFunc func(view View, msg protocol.ServerMessage)

// Client talks to a holescan server over WebSocket.
type Client struct {
	endpoint string
	cache    *Cache
	logger   *slog.Logger
	dialer   websocket.Dialer
}

// New creates a client. If endpoint is empty, HOLESCAN_SERVER_URL or the
// localhost default is used.
func New(endpoint string, cache *Cache, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("HOLESCAN_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "ws://localhost:8090/ws"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		cache:    cache,
		logger:   logger,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Start begins a new scan and follows it to completion, reconnecting and
// resyncing if the socket drops mid-session. The final view is returned.
func (c *Client) Start(ctx context.Context, itemSource string, targets []string, onEvent EventFunc) (View, error) {
	return c.run(ctx, protocol.StartScan{ItemSource: itemSource, SearchTargets: targets}, itemSource, onEvent)
}

// Resume reattaches to an existing session by id.
func (c *Client) Resume(ctx context.Context, sessionID string, onEvent EventFunc) (View, error) {
	return c.run(ctx, protocol.Reconnect{SessionID: sessionID}, "", onEvent)
}

// Snapshot fetches the current session state in one round trip and returns,
// whether or not the session is finished.
func (c *Client) Snapshot(ctx context.Context, sessionID string) (View, error) {
	view := View{SessionID: sessionID}

	ws, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return view, fmt.Errorf("connect %s: %w", c.endpoint, err)
	}
	defer ws.Close()

	data, err := protocol.EncodeClientMessage(protocol.Reconnect{SessionID: sessionID})
	if err != nil {
		return view, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return view, fmt.Errorf("send reconnect: %w", err)
	}

	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = ws.SetReadDeadline(deadline)
		}
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return view, fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			continue
		}

		view.Apply(msg)
		c.syncCache(msg, &view, "")
		switch m := msg.(type) {
		case protocol.SyncState:
			if m.Status != "COMPLETE" {
				return view, c.finish(&view)
			}
			// Wait for the replayed COMPLETE so the artifact URL is set.
		case protocol.Complete:
			return view, nil
		case protocol.ErrorMsg:
			return view, c.finish(&view)
		}
	}
}

func (c *Client) run(ctx context.Context, first protocol.ClientMessage, itemSource string, onEvent EventFunc) (View, error) {
	var view View
	if r, ok := first.(protocol.Reconnect); ok {
		view.SessionID = r.SessionID
	}

	initial := first
	backoff := reconnectBase
	for {
		err := c.follow(ctx, initial, itemSource, &view, onEvent)
		if err == nil || view.Done {
			return view, err
		}
		if ctx.Err() != nil {
			return view, ctx.Err()
		}
		if view.SessionID == "" {
			// Nothing to resume: the STARTED ack never arrived.
			return view, err
		}

		c.logger.Warn("connection lost, reconnecting",
			"session_id", view.SessionID, "retry_in", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return view, ctx.Err()
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}

		// Every retry resyncs; the SYNC_STATE snapshot replaces whatever
		// the view accumulated before the drop.
		initial = protocol.Reconnect{SessionID: view.SessionID}
	}
}

// follow runs one connection attempt: dial, send the opening message, then
// apply server messages until the session finishes or the socket fails.
func (c *Client) follow(ctx context.Context, first protocol.ClientMessage, itemSource string, view *View, onEvent EventFunc) error {
	ws, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.endpoint, err)
	}
	defer ws.Close()

	// Unblock reads when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	data, err := protocol.EncodeClientMessage(first)
	if err != nil {
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", first.Action(), err)
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		msg, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			c.logger.Warn("unparseable server message dropped", "error", err)
			continue
		}

		view.Apply(msg)
		c.syncCache(msg, view, itemSource)
		if onEvent != nil {
			onEvent(*view, msg)
		}
		if view.Done {
			return c.finish(view)
		}
	}
}

// syncCache keeps the on-disk session pointer in step with the session
// lifecycle: written on STARTED, dropped once the session cannot be resumed.
func (c *Client) syncCache(msg protocol.ServerMessage, view *View, itemSource string) {
	if c.cache == nil {
		return
	}
	switch m := msg.(type) {
	case protocol.Started:
		if err := c.cache.Save(CachedSession{
			SessionID:  m.SessionID,
			ItemSource: itemSource,
			StartedAt:  time.Now().UTC(),
		}); err != nil {
			c.logger.Warn("session cache write failed", "error", err)
		}
	case protocol.Complete:
		if err := c.cache.Clear(); err != nil {
			c.logger.Warn("session cache clear failed", "error", err)
		}
	case protocol.SyncState:
		// A snapshot of a finished session means there is nothing left to
		// resume, even if the replayed COMPLETE never makes it through.
		if m.Status == "COMPLETE" || m.Status == "COMPLETE_FAILED" {
			if err := c.cache.Clear(); err != nil {
				c.logger.Warn("session cache clear failed", "error", err)
			}
		}
	case protocol.ErrorMsg:
		if m.Code == protocol.CodeNotFound {
			if err := c.cache.Clear(); err != nil {
				c.logger.Warn("session cache clear failed", "error", err)
			}
		}
	}
}

func (c *Client) finish(view *View) error {
	if view.ErrorMessage != "" {
		return fmt.Errorf("scan failed: %s", view.ErrorMessage)
	}
	return nil
}
