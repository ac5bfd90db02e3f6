package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvn/holescan/internal/models"
	"github.com/minhvn/holescan/internal/protocol"
	"github.com/minhvn/holescan/internal/queue"
	"github.com/minhvn/holescan/internal/store"
)

// recordingNotifier captures Notify calls for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	ConnRef string
	Msg     protocol.ServerMessage
}

func (n *recordingNotifier) Notify(_ context.Context, connRef string, msg protocol.ServerMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{ConnRef: connRef, Msg: msg})
	return true
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func items(refs ...string) []models.WorkItem {
	out := make([]models.WorkItem, 0, len(refs))
	for _, r := range refs {
		out = append(out, models.WorkItem{Ref: r, Payload: "text for " + r})
	}
	return out
}

func TestStartEmptyBatch(t *testing.T) {
	st := store.NewMemory()
	q := queue.NewMemory(time.Second)
	n := &recordingNotifier{}
	d := New(st, q, n, 0, nil)

	_, err := d.Start(context.Background(), nil, []string{"HOLE-1"}, "conn-1")
	assert.ErrorIs(t, err, ErrEmptyBatch)

	// No session record and no notification for a rejected batch.
	assert.Empty(t, n.messages())
	assert.Equal(t, 0, q.Depth())
}

func TestStartCreatesSessionAndEnqueues(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	q := queue.NewMemory(time.Second)
	n := &recordingNotifier{}
	d := New(st, q, n, 2, nil)

	id, err := d.Start(ctx, items("a", "b", "c", "d", "e"), []string{"HOLE-1", "HC-2"}, "conn-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, sess.TotalItems)
	assert.Equal(t, 0, sess.ProcessedCount)
	assert.Equal(t, models.StatusInProgress, sess.Status)
	assert.Equal(t, "conn-1", sess.ConnectionRef)

	// One queue message per item, regardless of enqueue chunking.
	assert.Equal(t, 5, q.Depth())
	ds, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, ds, 5)
	assert.Equal(t, id, ds[0].Message.SessionID)
	assert.Equal(t, []string{"HOLE-1", "HC-2"}, ds[0].Message.SearchTargets)

	msgs := n.messages()
	require.Len(t, msgs, 1)
	started, ok := msgs[0].Msg.(protocol.Started)
	require.True(t, ok, "expected STARTED, got %T", msgs[0].Msg)
	assert.Equal(t, id, started.SessionID)
	assert.Equal(t, 5, started.TotalFiles)
	assert.Equal(t, "conn-1", msgs[0].ConnRef)
}

func TestStartDistinctSessionIDs(t *testing.T) {
	ctx := context.Background()
	d := New(store.NewMemory(), queue.NewMemory(time.Second), &recordingNotifier{}, 0, nil)

	a, err := d.Start(ctx, items("x"), nil, "c1")
	require.NoError(t, err)
	b, err := d.Start(ctx, items("x"), nil, "c1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
