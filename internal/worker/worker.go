// Package worker consumes the work queue, records per-item results,
// advances the session counter and detects completion.
//
// Workers share no in-process state; all coordination goes through the
// store's increment and conditional-update primitives, so any number of
// workers (in-process or separate OS processes) can participate safely.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minhvn/holescan/internal/blob"
	"github.com/minhvn/holescan/internal/match"
	"github.com/minhvn/holescan/internal/metrics"
	"github.com/minhvn/holescan/internal/models"
	"github.com/minhvn/holescan/internal/notify"
	"github.com/minhvn/holescan/internal/protocol"
	"github.com/minhvn/holescan/internal/queue"
	"github.com/minhvn/holescan/internal/report"
	"github.com/minhvn/holescan/internal/store"
)

// DefaultReceiveBatch is how many queue messages one worker pulls per round.
const DefaultReceiveBatch = 10

// Deps carries the collaborators a worker needs.
type Deps struct {
	Store     store.Store
	Queue     queue.Queue
	Processor match.Processor
	Reports   report.Builder
	Blobs     blob.ObjectStore
	Notifier  notify.Notifier
	Metrics   *metrics.Collector // optional
	Logger    *slog.Logger
}

// Worker is one independent consumer of the work queue.
type Worker struct {
	id           int
	deps         Deps
	receiveBatch int
	logger       *slog.Logger
}

// New creates a worker. receiveBatch <= 0 selects DefaultReceiveBatch.
func New(id int, deps Deps, receiveBatch int) *Worker {
	if receiveBatch <= 0 {
		receiveBatch = DefaultReceiveBatch
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:           id,
		deps:         deps,
		receiveBatch: receiveBatch,
		logger:       logger.With("component", "worker", "worker_id", id),
	}
}

// Run consumes the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		deliveries, err := w.deps.Queue.Receive(ctx, w.receiveBatch)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Error("receive failed", "error", err)
			continue
		}
		w.ProcessBatch(ctx, deliveries)
	}
}

// ProcessBatch handles one received group of deliveries: per-item result
// writes with immediate match notifications, a single counter increment
// per session, the progress notification and the completion check.
// Exported so the coordination path is testable without the Run loop.
func (w *Worker) ProcessBatch(ctx context.Context, deliveries []queue.Delivery) {
	type sessionWork struct {
		connRef  string
		counted  int
		receipts []string
	}
	bySession := make(map[string]*sessionWork)

	for _, d := range deliveries {
		work := bySession[d.Message.SessionID]
		if work == nil {
			work = &sessionWork{}
			if sess, err := w.deps.Store.GetSession(ctx, d.Message.SessionID); err == nil {
				work.connRef = sess.ConnectionRef
			} else {
				w.logger.Warn("session lookup failed",
					"session_id", d.Message.SessionID, "error", err)
			}
			bySession[d.Message.SessionID] = work
		}

		counted, matchMsg, err := w.processItem(ctx, d.Message)
		if err != nil {
			// Leave unacked: the visibility timeout redelivers it and the
			// result upsert keeps the retry idempotent.
			w.logger.Error("item processing failed, leaving for redelivery",
				"session_id", d.Message.SessionID, "item_ref", d.Message.ItemRef,
				"attempt", d.Attempt, "error", err)
			continue
		}
		work.receipts = append(work.receipts, d.Receipt)
		work.counted += counted

		// A match goes out the moment its item finishes; only the counter
		// waits for the rest of the group.
		if matchMsg != nil {
			start := time.Now()
			w.deps.Notifier.Notify(ctx, work.connRef, *matchMsg)
			w.record(metrics.OpNotify, start)
		}
	}

	for sessionID, work := range bySession {
		if work.counted > 0 && !w.advance(ctx, sessionID, work.counted) {
			// The counter did not move; hold the acks so the visibility
			// timeout brings the group back.
			continue
		}
		for _, receipt := range work.receipts {
			if err := w.deps.Queue.Ack(ctx, receipt); err != nil {
				w.logger.Warn("ack failed", "error", err)
			}
		}
	}
}

// processItem writes the item's result record and reports whether it should
// count toward the session's processed counter (0 for redelivered
// duplicates, 1 otherwise). Collaborator failures become explicit failure
// records; an item is never silently dropped.
func (w *Worker) processItem(ctx context.Context, msg queue.Message) (int, *protocol.MatchFound, error) {
	exists, err := w.deps.Store.HasResult(ctx, msg.SessionID, msg.ItemRef)
	if err != nil {
		return 0, nil, fmt.Errorf("check existing result: %w", err)
	}
	if exists {
		w.logger.Debug("duplicate delivery suppressed",
			"session_id", msg.SessionID, "item_ref", msg.ItemRef)
		return 0, nil, nil
	}

	start := time.Now()
	outcome, procErr := w.deps.Processor.Process(ctx, msg.ItemPayload, msg.SearchTargets)
	w.record(metrics.OpProcess, start)
	if procErr != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		w.logger.Warn("item processing error recorded",
			"session_id", msg.SessionID, "item_ref", msg.ItemRef, "error", procErr)
		outcome = models.FailureOutcome(procErr)
	}
	outcome.Link = msg.Link

	start = time.Now()
	err = w.deps.Store.PutResult(ctx, models.ResultRecord{
		SessionID: msg.SessionID,
		ItemRef:   msg.ItemRef,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	})
	w.record(metrics.OpStoreWrite, start)
	if err != nil {
		return 0, nil, fmt.Errorf("put result: %w", err)
	}

	var matchMsg *protocol.MatchFound
	if outcome.Matched() {
		matchMsg = &protocol.MatchFound{Data: protocol.MatchData{
			ItemRef:    msg.ItemRef,
			FoundCodes: outcome.FoundCodes,
			Status:     outcome.Status,
			Link:       outcome.Link,
		}}
	}
	return 1, matchMsg, nil
}

// advance performs the single counter increment for a processed group,
// pushes PROGRESS and runs the completion check. Returns false when the
// increment failed and the group's deliveries must stay unacked.
func (w *Worker) advance(ctx context.Context, sessionID string, counted int) bool {
	sess, err := w.deps.Store.IncrementProcessed(ctx, sessionID, counted)
	if err != nil {
		w.logger.Error("increment failed", "session_id", sessionID, "error", err)
		return false
	}

	start := time.Now()
	w.deps.Notifier.Notify(ctx, sess.ConnectionRef, protocol.Progress{
		Processed: sess.ProcessedCount,
		Total:     sess.TotalItems,
		Value:     protocol.Percent(sess.ProcessedCount, sess.TotalItems),
	})
	w.record(metrics.OpNotify, start)

	w.logger.Debug("progress advanced",
		"session_id", sessionID, "processed", sess.ProcessedCount, "total", sess.TotalItems)

	if sess.ProcessedCount >= sess.TotalItems {
		w.maybeFinalize(ctx, sess)
	}
	return true
}

// maybeFinalize races the conditional COMPLETE flip. Several workers can
// observe the counter at total simultaneously; only the one whose flip
// succeeds builds the report, everyone else backs off.
func (w *Worker) maybeFinalize(ctx context.Context, sess *models.Session) {
	won, err := w.deps.Store.TryComplete(ctx, sess.ID)
	if err != nil {
		w.logger.Error("completion flip failed", "session_id", sess.ID, "error", err)
		return
	}
	if !won {
		w.logger.Debug("another worker is finalizing", "session_id", sess.ID)
		return
	}

	w.logger.Info("finalizing session", "session_id", sess.ID, "total", sess.TotalItems)
	if err := w.finalize(ctx, sess); err != nil {
		// The one-shot flip has been consumed and report assembly is not
		// retryable from here; park the session in its terminal failure
		// state and make the error operator-visible.
		if markErr := w.deps.Store.MarkCompleteFailed(ctx, sess.ID); markErr != nil {
			w.logger.Error("failed to mark session COMPLETE_FAILED",
				"session_id", sess.ID, "error", markErr)
		}
		w.logger.Error("session finalization failed",
			"session_id", sess.ID, "error", err, "operator_action_required", true)
		w.deps.Notifier.Notify(ctx, sess.ConnectionRef, protocol.ErrorMsg{
			Code:    protocol.CodeFinalizeFailed,
			Message: "report generation failed; session cannot complete",
		})
	}
}

// finalize builds and stores the report artifact and emits COMPLETE.
func (w *Worker) finalize(ctx context.Context, sess *models.Session) error {
	start := time.Now()
	defer w.record(metrics.OpReport, start)

	records, err := w.deps.Store.ListResults(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}

	artifact, err := w.deps.Reports.Build(ctx, records)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	key := fmt.Sprintf("reports/results_%s_%s.xlsx", sess.ID, time.Now().UTC().Format("20060102_150405"))
	url, err := w.deps.Blobs.Put(ctx, key, artifact)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	if err := w.deps.Store.SetArtifact(ctx, sess.ID, url); err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}

	matchCount := 0
	for _, rec := range records {
		if rec.Outcome.Matched() {
			matchCount++
		}
	}

	w.deps.Notifier.Notify(ctx, sess.ConnectionRef, protocol.Complete{
		DownloadURL:    url,
		TotalMatches:   matchCount,
		TotalProcessed: sess.TotalItems,
	})
	w.logger.Info("session complete",
		"session_id", sess.ID, "matches", matchCount, "artifact", url)
	return nil
}

func (w *Worker) record(op string, start time.Time) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.RecordTiming(op, time.Since(start))
	}
}

// Pool runs n workers until ctx is done and Wait returns.
type Pool struct {
	workers []*Worker
	done    chan struct{}
}

// NewPool builds n workers over shared deps.
func NewPool(n int, deps Deps, receiveBatch int) *Pool {
	if n <= 0 {
		n = 4
	}
	p := &Pool{done: make(chan struct{})}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, New(i+1, deps, receiveBatch))
	}
	return p
}

// Start launches every worker goroutine.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
}

// Wait blocks until all workers have stopped after ctx cancellation.
func (p *Pool) Wait() {
	<-p.done
}
