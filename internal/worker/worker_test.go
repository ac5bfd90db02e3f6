package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvn/holescan/internal/match"
	"github.com/minhvn/holescan/internal/models"
	"github.com/minhvn/holescan/internal/protocol"
	"github.com/minhvn/holescan/internal/queue"
	"github.com/minhvn/holescan/internal/report"
	"github.com/minhvn/holescan/internal/store"
)

// recordingNotifier captures pushed messages per connection ref.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []protocol.ServerMessage
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, msg protocol.ServerMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return true
}

func (n *recordingNotifier) byType(typ string) []protocol.ServerMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []protocol.ServerMessage
	for _, m := range n.sent {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

// memBlob keeps artifacts in memory; failing lets tests exercise the
// finalize failure path.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemBlob() *memBlob { return &memBlob{objects: make(map[string][]byte)} }

func (b *memBlob) Put(_ context.Context, key string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("bucket unavailable")
	}
	b.objects[key] = data
	return "mem://" + key, nil
}

// failingProcessor errors on payloads containing "bad".
type failingProcessor struct {
	inner match.Processor
}

func (p failingProcessor) Process(ctx context.Context, payload string, targets []string) (models.Outcome, error) {
	if strings.Contains(payload, "bad") {
		return models.Outcome{}, errors.New("extraction exploded")
	}
	return p.inner.Process(ctx, payload, targets)
}

// gateProcessor holds payloads containing "slow" until release is closed.
type gateProcessor struct {
	inner   match.Processor
	release chan struct{}
}

func (p *gateProcessor) Process(ctx context.Context, payload string, targets []string) (models.Outcome, error) {
	if strings.Contains(payload, "slow") {
		select {
		case <-p.release:
		case <-ctx.Done():
			return models.Outcome{}, ctx.Err()
		}
	}
	return p.inner.Process(ctx, payload, targets)
}

// flakyStore fails the counter increment while fail is set.
type flakyStore struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) IncrementProcessed(ctx context.Context, id string, delta int) (*models.Session, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return nil, errors.New("store unavailable")
	}
	return s.Store.IncrementProcessed(ctx, id, delta)
}

type fixture struct {
	store    *store.Memory
	queue    *queue.Memory
	notifier *recordingNotifier
	blobs    *memBlob
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemory(),
		queue:    queue.NewMemory(time.Minute),
		notifier: &recordingNotifier{},
		blobs:    newMemBlob(),
	}
	f.deps = Deps{
		Store:     f.store,
		Queue:     f.queue,
		Processor: failingProcessor{inner: match.NewCodeMatcher()},
		Reports:   report.NewExcelBuilder(),
		Blobs:     f.blobs,
		Notifier:  f.notifier,
	}
	return f
}

// startSession seeds a session and its queue messages, one per item.
func (f *fixture) startSession(t *testing.T, id string, payloads map[string]string, targets []string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateSession(ctx, &models.Session{
		ID:            id,
		ConnectionRef: "conn-1",
		TotalItems:    len(payloads),
		Status:        models.StatusInProgress,
		CreatedAt:     time.Now(),
	}))
	var msgs []queue.Message
	for ref, payload := range payloads {
		msgs = append(msgs, queue.Message{
			SessionID: id, ItemRef: ref, ItemPayload: payload, SearchTargets: targets,
		})
	}
	require.NoError(t, f.queue.Enqueue(ctx, msgs))
}

func receiveAll(t *testing.T, q *queue.Memory, n int) []queue.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []queue.Delivery
	for len(out) < n {
		ds, err := q.Receive(ctx, n-len(out))
		require.NoError(t, err)
		out = append(out, ds...)
	}
	return out
}

func TestWorkerProcessesBatchAndEmitsProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "s1", map[string]string{
		"a.pdf": "contains HOLE-1",
		"b.pdf": "nothing here",
	}, []string{"HOLE-1"})

	w := New(1, f.deps, 0)
	w.ProcessBatch(ctx, receiveAll(t, f.queue, 2))

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.ProcessedCount)

	matches := f.notifier.byType(protocol.TypeMatchFound)
	require.Len(t, matches, 1)
	assert.Equal(t, "a.pdf", matches[0].(protocol.MatchFound).Data.ItemRef)

	progress := f.notifier.byType(protocol.TypeProgress)
	require.Len(t, progress, 1, "one increment and one PROGRESS per group")
	assert.Equal(t, protocol.Progress{Processed: 2, Total: 2, Value: 100}, progress[0])
}

func TestWorkerRecordsExplicitFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "s1", map[string]string{
		"good.pdf": "HOLE-1 present",
		"bad.pdf":  "bad payload",
	}, []string{"HOLE-1"})

	New(1, f.deps, 0).ProcessBatch(ctx, receiveAll(t, f.queue, 2))

	// The failed item still counts toward completion.
	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.ProcessedCount)
	assert.Equal(t, models.StatusComplete, sess.Status)

	results, err := f.store.ListResults(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	var failed *models.ResultRecord
	for i := range results {
		if results[i].ItemRef == "bad.pdf" {
			failed = &results[i]
		}
	}
	require.NotNil(t, failed)
	assert.True(t, failed.Outcome.Failed)
	assert.Equal(t, "Error", failed.Outcome.Status)
	assert.Contains(t, failed.Outcome.Error, "extraction exploded")
}

func TestWorkerDuplicateRedeliveryDoesNotOvercount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "s1", map[string]string{
		"a.pdf": "HOLE-1",
		"b.pdf": "HOLE-2",
		"c.pdf": "plain",
	}, []string{"HOLE-1", "HOLE-2"})

	w := New(1, f.deps, 0)
	ds := receiveAll(t, f.queue, 3)
	w.ProcessBatch(ctx, ds)

	// Simulate at-least-once: replay the exact same deliveries.
	w.ProcessBatch(ctx, ds)

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, sess.ProcessedCount, "redelivery must not advance the counter")
	assert.LessOrEqual(t, sess.ProcessedCount, sess.TotalItems)

	// COMPLETE fired exactly once despite the replay.
	assert.Len(t, f.notifier.byType(protocol.TypeComplete), 1)
}

func TestThreeWorkersCompleteExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "s1", map[string]string{
		"a.pdf": "HOLE-1 here",
		"b.pdf": "HC-2 there",
		"c.pdf": "empty",
	}, []string{"HOLE-1", "HC-2"})

	deliveries := receiveAll(t, f.queue, 3)
	require.Len(t, deliveries, 3)

	// Three workers, one item each, racing the final increment.
	var wg sync.WaitGroup
	for i, d := range deliveries {
		wg.Add(1)
		go func(i int, d queue.Delivery) {
			defer wg.Done()
			New(i+1, f.deps, 0).ProcessBatch(ctx, []queue.Delivery{d})
		}(i, d)
	}
	wg.Wait()

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, sess.Status)
	assert.Equal(t, 3, sess.ProcessedCount)
	assert.NotEmpty(t, sess.ArtifactURL)

	completes := f.notifier.byType(protocol.TypeComplete)
	require.Len(t, completes, 1, "exactly one COMPLETE per session")
	c := completes[0].(protocol.Complete)
	assert.Equal(t, 3, c.TotalProcessed)
	assert.Equal(t, 2, c.TotalMatches)
	assert.Equal(t, sess.ArtifactURL, c.DownloadURL)

	// The artifact was actually written.
	assert.Len(t, f.blobs.objects, 1)
}

func TestFinalizeFailureParksSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.blobs.fail = true
	f.startSession(t, "s1", map[string]string{"a.pdf": "HOLE-1"}, []string{"HOLE-1"})

	New(1, f.deps, 0).ProcessBatch(ctx, receiveAll(t, f.queue, 1))

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleteFailed, sess.Status)
	assert.Empty(t, sess.ArtifactURL)

	assert.Empty(t, f.notifier.byType(protocol.TypeComplete))
	errs := f.notifier.byType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeFinalizeFailed, errs[0].(protocol.ErrorMsg).Code)
}

func TestProcessedCountNeverExceedsTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const total = 20
	payloads := make(map[string]string, total)
	for i := 0; i < total; i++ {
		payloads[fmt.Sprintf("f%02d.pdf", i)] = fmt.Sprintf("text HOLE-%d", i)
	}
	f.startSession(t, "s1", payloads, []string{"HOLE-3", "HOLE-7"})

	deliveries := receiveAll(t, f.queue, total)
	New(1, f.deps, 0).ProcessBatch(ctx, deliveries)

	// Every result is recorded; concurrent replays must all be suppressed.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := New(id, f.deps, 0)
			for _, d := range deliveries {
				w.ProcessBatch(ctx, []queue.Delivery{d})
			}
		}(i + 2)
	}
	wg.Wait()

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, total, sess.ProcessedCount)
	assert.Len(t, f.notifier.byType(protocol.TypeComplete), 1)
}

func TestWorkerNotifiesMatchBeforeGroupCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := &gateProcessor{inner: match.NewCodeMatcher(), release: make(chan struct{})}
	f.deps.Processor = gate

	require.NoError(t, f.store.CreateSession(ctx, &models.Session{
		ID:            "s1",
		ConnectionRef: "conn-1",
		TotalItems:    2,
		Status:        models.StatusInProgress,
		CreatedAt:     time.Now(),
	}))
	require.NoError(t, f.queue.Enqueue(ctx, []queue.Message{
		{SessionID: "s1", ItemRef: "a.pdf", ItemPayload: "weld at HOLE-1", SearchTargets: []string{"HOLE-1"}},
		{SessionID: "s1", ItemRef: "b.pdf", ItemPayload: "slow scan HOLE-1", SearchTargets: []string{"HOLE-1"}},
	}))

	ds := receiveAll(t, f.queue, 2)
	done := make(chan struct{})
	go func() {
		New(1, f.deps, 0).ProcessBatch(ctx, ds)
		close(done)
	}()

	// The first item's match goes out while the second is still in flight.
	require.Eventually(t, func() bool {
		return len(f.notifier.byType(protocol.TypeMatchFound)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.notifier.byType(protocol.TypeProgress), "the counter waits for the whole group")

	close(gate.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not finish")
	}

	assert.Len(t, f.notifier.byType(protocol.TypeMatchFound), 2)
	progress := f.notifier.byType(protocol.TypeProgress)
	require.Len(t, progress, 1)
	assert.Equal(t, protocol.Progress{Processed: 2, Total: 2, Value: 100}, progress[0])
}

func TestWorkerHoldsAcksWhenIncrementFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue = queue.NewMemory(100 * time.Millisecond)
	f.deps.Queue = f.queue
	f.deps.Store = &flakyStore{Store: f.store, fail: true}

	f.startSession(t, "s1", map[string]string{"a.pdf": "HOLE-1"}, []string{"HOLE-1"})

	w := New(1, f.deps, 0)
	w.ProcessBatch(ctx, receiveAll(t, f.queue, 1))

	// The result was recorded but the counter never moved, so the delivery
	// must stay unacked and reappear after the visibility timeout.
	redelivered := receiveAll(t, f.queue, 1)
	assert.Equal(t, "a.pdf", redelivered[0].Message.ItemRef)
	assert.Equal(t, 2, redelivered[0].Attempt)

	// Redelivered duplicates ack without touching the counter; the queue
	// drains for good.
	w.ProcessBatch(ctx, redelivered)
	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err := f.queue.Receive(shortCtx, 1)
	assert.Error(t, err, "acked delivery must not reappear")
}

func TestWorkerRunConsumesUntilCancel(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "s1", map[string]string{"a.pdf": "HOLE-1"}, []string{"HOLE-1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(1, f.deps, 0).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		sess, err := f.store.GetSession(context.Background(), "s1")
		return err == nil && sess.Status == models.StatusComplete
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
