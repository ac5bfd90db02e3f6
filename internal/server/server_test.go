package server

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvn/holescan/internal/blob"
	"github.com/minhvn/holescan/internal/dispatch"
	"github.com/minhvn/holescan/internal/listing"
	"github.com/minhvn/holescan/internal/match"
	"github.com/minhvn/holescan/internal/metrics"
	"github.com/minhvn/holescan/internal/notify"
	"github.com/minhvn/holescan/internal/protocol"
	"github.com/minhvn/holescan/internal/queue"
	"github.com/minhvn/holescan/internal/report"
	"github.com/minhvn/holescan/internal/store"
	"github.com/minhvn/holescan/internal/worker"
)

type testEnv struct {
	url string
}

// newTestEnv wires the full coordination path on in-memory backends: server,
// hub, dispatcher and a running three-worker pool.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemory()
	q := queue.NewMemory(time.Minute)
	hub := notify.NewHub(nil)
	coll := metrics.NewCollector()
	disp := dispatch.New(st, q, hub, 2, nil)

	srv := New(Deps{
		Store:      st,
		Lister:     listing.NewLocal(),
		Dispatcher: disp,
		Hub:        hub,
		Metrics:    coll,
	})

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	artifacts, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(3, worker.Deps{
		Store:     st,
		Queue:     q,
		Processor: match.NewCodeMatcher(),
		Reports:   report.NewExcelBuilder(),
		Blobs:     artifacts,
		Notifier:  hub,
		Metrics:   coll,
	}, 1)
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})

	return &testEnv{
		url: "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws",
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.EncodeClientMessage(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readMessage(t *testing.T, ws *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	return msg
}

// readUntil drains messages until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) protocol.ServerMessage {
	t.Helper()
	for {
		msg := readMessage(t, ws)
		if msg.Type() == typ {
			return msg
		}
		require.NotEqual(t, protocol.TypeError, msg.Type(), "unexpected ERROR while waiting for %s", typ)
	}
}

func seedScanDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"first.txt":  "pipe section HOLE-101 inspected",
		"second.txt": "HC-7 and HOLE-101 both present",
		"third.txt":  "nothing of interest",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestScanEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ws := dial(t, env.url)

	send(t, ws, protocol.StartScan{
		ItemSource:    "dir:" + seedScanDir(t),
		SearchTargets: []string{"HOLE-101", "HC-7"},
	})

	started := readUntil(t, ws, protocol.TypeStarted).(protocol.Started)
	assert.Equal(t, 3, started.TotalFiles)
	require.NotEmpty(t, started.SessionID)

	var matches []protocol.MatchFound
	var complete protocol.Complete
	maxProgress := 0
	for complete.TotalProcessed == 0 {
		msg := readMessage(t, ws)
		switch m := msg.(type) {
		case protocol.MatchFound:
			matches = append(matches, m)
		case protocol.Progress:
			assert.Equal(t, 3, m.Total)
			if m.Processed > maxProgress {
				maxProgress = m.Processed
			}
		case protocol.Complete:
			complete = m
		default:
			t.Fatalf("unexpected message %s", msg.Type())
		}
	}

	assert.Equal(t, 3, complete.TotalProcessed)
	assert.Equal(t, 2, complete.TotalMatches)
	assert.NotEmpty(t, complete.DownloadURL)
	assert.Len(t, matches, 2)
	assert.Equal(t, 3, maxProgress)
}

func TestScanEmptyDirectory(t *testing.T) {
	env := newTestEnv(t)
	ws := dial(t, env.url)

	send(t, ws, protocol.StartScan{ItemSource: "dir:" + t.TempDir()})

	errMsg := readMessage(t, ws).(protocol.ErrorMsg)
	assert.Equal(t, protocol.CodeEmptyBatch, errMsg.Code)
}

func TestScanUnreadableSource(t *testing.T) {
	env := newTestEnv(t)
	ws := dial(t, env.url)

	send(t, ws, protocol.StartScan{ItemSource: "dir:" + filepath.Join(t.TempDir(), "absent")})

	errMsg := readMessage(t, ws).(protocol.ErrorMsg)
	assert.Equal(t, protocol.CodeListFailed, errMsg.Code)
}

func TestReconnectUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	ws := dial(t, env.url)

	send(t, ws, protocol.Reconnect{SessionID: "no-such-session"})

	errMsg := readMessage(t, ws).(protocol.ErrorMsg)
	assert.Equal(t, protocol.CodeNotFound, errMsg.Code)
}

func TestReconnectDeliversSnapshot(t *testing.T) {
	env := newTestEnv(t)

	first := dial(t, env.url)
	send(t, first, protocol.StartScan{
		ItemSource:    "dir:" + seedScanDir(t),
		SearchTargets: []string{"HOLE-101", "HC-7"},
	})
	started := readUntil(t, first, protocol.TypeStarted).(protocol.Started)
	readUntil(t, first, protocol.TypeComplete)
	first.Close()

	// Fresh connection, as after a client restart.
	second := dial(t, env.url)
	send(t, second, protocol.Reconnect{SessionID: started.SessionID})

	state := readUntil(t, second, protocol.TypeSyncState).(protocol.SyncState)
	assert.Equal(t, 3, state.TotalFiles)
	assert.Equal(t, 3, state.ProcessedCount)
	assert.Equal(t, 100, state.Progress)
	assert.Equal(t, "COMPLETE", state.Status)
	assert.Len(t, state.Results, 3)

	// The artifact link is replayed for finished sessions.
	complete := readUntil(t, second, protocol.TypeComplete).(protocol.Complete)
	assert.Equal(t, 3, complete.TotalProcessed)
	assert.Equal(t, 2, complete.TotalMatches)
	assert.NotEmpty(t, complete.DownloadURL)
}

func TestBadFrame(t *testing.T) {
	env := newTestEnv(t)
	ws := dial(t, env.url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"explode"}`)))

	errMsg := readMessage(t, ws).(protocol.ErrorMsg)
	assert.Equal(t, protocol.CodeBadMessage, errMsg.Code)
}
