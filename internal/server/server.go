// Package server exposes the scan coordination API over WebSocket, plus
// health and stats endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minhvn/holescan/internal/dispatch"
	"github.com/minhvn/holescan/internal/listing"
	"github.com/minhvn/holescan/internal/metrics"
	"github.com/minhvn/holescan/internal/models"
	"github.com/minhvn/holescan/internal/notify"
	"github.com/minhvn/holescan/internal/protocol"
	"github.com/minhvn/holescan/internal/store"
)

// maxMessageSize bounds inbound client frames.
const maxMessageSize = 64 * 1024

// Server handles client WebSocket sessions and routes their messages to the
// dispatcher and store.
type Server struct {
	store      store.Store
	lister     listing.Lister
	dispatcher *dispatch.Dispatcher
	hub        *notify.Hub
	metrics    *metrics.Collector
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// Deps carries the server's collaborators.
type Deps struct {
	Store      store.Store
	Lister     listing.Lister
	Dispatcher *dispatch.Dispatcher
	Hub        *notify.Hub
	Metrics    *metrics.Collector // optional
	Logger     *slog.Logger
}

// New creates a server. The hub passed in must be the same one the
// dispatcher and workers notify through.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      deps.Store,
		lister:     deps.Lister,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		logger:     logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // clients connect from the CLI, not browsers
			},
		},
	}
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.metrics.Snapshot()); err != nil {
		s.logger.Error("stats encoding failed", "error", err)
	}
}

// handleWS upgrades the connection and runs its read loop. Each connection
// gets a hub ref; sessions rebind to a new ref on reconnect.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	ref := s.hub.Add(ws)
	logger := s.logger.With("conn_ref", ref, "remote", r.RemoteAddr)
	logger.Info("client connected")

	defer func() {
		s.hub.Remove(ref)
		ws.Close()
		logger.Info("client disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("read failed", "error", err)
			}
			return
		}
		s.handleFrame(r.Context(), logger, ref, data)
	}
}

// handleFrame decodes and routes one client message, logging its timing.
func (s *Server) handleFrame(ctx context.Context, logger *slog.Logger, ref string, data []byte) {
	start := time.Now()

	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		logger.Warn("bad client message", "payload", truncate(string(data), maxPayloadLogLen), "error", err)
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{Code: protocol.CodeBadMessage, Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case protocol.StartScan:
		err = s.startScan(ctx, ref, m)
	case protocol.Reconnect:
		err = s.resync(ctx, ref, m.SessionID)
	}

	logFrame(logger, msg.Action(), data, time.Since(start), err)
}

// startScan resolves the item source and hands the batch to the dispatcher.
// The STARTED acknowledgement comes from the dispatcher, so the client sees
// it only once the session row and queue entries exist.
func (s *Server) startScan(ctx context.Context, ref string, m protocol.StartScan) error {
	items, err := s.lister.List(ctx, m.ItemSource)
	if err != nil {
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{
			Code:    protocol.CodeListFailed,
			Message: fmt.Sprintf("cannot list items for %q: %v", m.ItemSource, err),
		})
		return err
	}

	sessionID, err := s.dispatcher.Start(ctx, items, m.SearchTargets, ref)
	if errors.Is(err, dispatch.ErrEmptyBatch) {
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{
			Code:    protocol.CodeEmptyBatch,
			Message: fmt.Sprintf("no scannable items in %q", m.ItemSource),
		})
		return err
	}
	if err != nil {
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{Message: "failed to start scan"})
		return err
	}

	s.logger.Info("scan started", "session_id", sessionID, "items", len(items), "conn_ref", ref)
	return nil
}

// resync rebinds an existing session to this connection and replies with one
// authoritative SYNC_STATE snapshot. The client replaces its local state
// with it rather than merging.
func (s *Server) resync(ctx context.Context, ref, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{
			Code:    protocol.CodeNotFound,
			Message: fmt.Sprintf("session %s not found", sessionID),
		})
		return err
	}
	if err != nil {
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{Message: "failed to load session"})
		return err
	}

	if err := s.store.SetConnection(ctx, sessionID, ref); err != nil {
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{Message: "failed to rebind session"})
		return err
	}

	records, err := s.store.ListResults(ctx, sessionID)
	if err != nil {
		s.hub.Notify(ctx, ref, protocol.ErrorMsg{Message: "failed to load results"})
		return err
	}

	results := make([]protocol.SyncResult, 0, len(records))
	for _, rec := range records {
		results = append(results, protocol.SyncResult{
			ItemRef:    rec.ItemRef,
			FoundCodes: rec.Outcome.FoundCodes,
			Status:     rec.Outcome.Status,
			Link:       rec.Outcome.Link,
		})
	}

	snapshot := protocol.SyncState{
		TotalFiles:     sess.TotalItems,
		ProcessedCount: sess.ProcessedCount,
		Progress:       protocol.Percent(sess.ProcessedCount, sess.TotalItems),
		Results:        results,
		Status:         string(sess.Status),
	}
	s.hub.Notify(ctx, ref, snapshot)

	// A finished session's artifact is replayed too; the COMPLETE may have
	// been lost with the old connection.
	if sess.Status == models.StatusComplete && sess.ArtifactURL != "" {
		matches := 0
		for _, rec := range records {
			if rec.Outcome.Matched() {
				matches++
			}
		}
		s.hub.Notify(ctx, ref, protocol.Complete{
			DownloadURL:    sess.ArtifactURL,
			TotalMatches:   matches,
			TotalProcessed: sess.ProcessedCount,
		})
	}

	s.logger.Info("session resynced", "session_id", sessionID, "conn_ref", ref,
		"processed", sess.ProcessedCount, "total", sess.TotalItems)
	return nil
}
