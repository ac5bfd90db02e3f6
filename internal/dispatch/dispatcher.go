// Package dispatch creates scan sessions and fans their items out onto the
// work queue. The dispatcher never waits for processing; it enqueues and
// returns.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/minhvn/holescan/internal/models"
	"github.com/minhvn/holescan/internal/notify"
	"github.com/minhvn/holescan/internal/protocol"
	"github.com/minhvn/holescan/internal/queue"
	"github.com/minhvn/holescan/internal/store"
)

// ErrEmptyBatch rejects a scan request with no items; no session record is
// created for a degenerate batch.
var ErrEmptyBatch = errors.New("empty batch")

// DefaultBatchSize is the enqueue chunk size. A tuning knob, not a
// correctness parameter.
const DefaultBatchSize = 10

// Dispatcher accepts scan requests and hands work to the queue.
type Dispatcher struct {
	store     store.Store
	queue     queue.Queue
	notifier  notify.Notifier
	batchSize int
	logger    *slog.Logger
}

// New creates a dispatcher. batchSize <= 0 selects DefaultBatchSize.
func New(st store.Store, q queue.Queue, n notify.Notifier, batchSize int, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     st,
		queue:     q,
		notifier:  n,
		batchSize: batchSize,
		logger:    logger.With("component", "dispatch"),
	}
}

// Start creates the session, enqueues every item and emits STARTED. It
// returns the new session id without waiting for any item to be processed.
func (d *Dispatcher) Start(ctx context.Context, items []models.WorkItem, targets []string, connRef string) (string, error) {
	if len(items) == 0 {
		return "", ErrEmptyBatch
	}

	sessionID := uuid.NewString()
	sess := &models.Session{
		ID:            sessionID,
		ConnectionRef: connRef,
		TotalItems:    len(items),
		Status:        models.StatusInProgress,
		CreatedAt:     time.Now().UTC(),
	}
	if err := d.store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	msgs := make([]queue.Message, 0, len(items))
	for _, item := range items {
		msgs = append(msgs, queue.Message{
			SessionID:     sessionID,
			ItemRef:       item.Ref,
			ItemPayload:   item.Payload,
			Link:          item.Link,
			SearchTargets: targets,
		})
	}
	for start := 0; start < len(msgs); start += d.batchSize {
		end := min(start+d.batchSize, len(msgs))
		if err := d.queue.Enqueue(ctx, msgs[start:end]); err != nil {
			return "", fmt.Errorf("enqueue items %d-%d: %w", start, end-1, err)
		}
	}

	d.notifier.Notify(ctx, connRef, protocol.Started{
		SessionID:  sessionID,
		TotalFiles: len(items),
	})

	d.logger.Info("session dispatched",
		"session_id", sessionID, "total_items", len(items), "targets", len(targets))
	return sessionID, nil
}
