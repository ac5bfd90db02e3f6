package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvn/holescan/internal/protocol"
)

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCacheAt(filepath.Join(t.TempDir(), "holescan", "session.json"))

	got, err := cache.Load()
	require.NoError(t, err)
	assert.Nil(t, got, "empty cache loads as nil")

	saved := CachedSession{
		SessionID:  "abc-123",
		ItemSource: "dir:/data/reports",
		StartedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, cache.Save(saved))

	got, err = cache.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved, *got)
}

func TestCacheClear(t *testing.T) {
	cache := NewCacheAt(filepath.Join(t.TempDir(), "session.json"))

	require.NoError(t, cache.Clear(), "clearing an empty cache is fine")

	require.NoError(t, cache.Save(CachedSession{SessionID: "abc"}))
	require.NoError(t, cache.Clear())

	got, err := cache.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewCacheAt(path).Load()
	require.Error(t, err)
}

func TestCacheLoadEmptySessionID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"session_id":""}`), 0o600))

	got, err := NewCacheAt(path).Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSyncCacheDropsFinishedSessionPointer(t *testing.T) {
	cache := NewCacheAt(filepath.Join(t.TempDir(), "session.json"))
	c := New("", cache, nil)

	apply := func(status string) {
		require.NoError(t, cache.Save(CachedSession{SessionID: "s1", StartedAt: time.Now()}))
		var view View
		msg := protocol.SyncState{Status: status}
		view.Apply(msg)
		c.syncCache(msg, &view, "")
	}

	// An in-flight snapshot keeps the pointer.
	apply("IN_PROGRESS")
	got, err := cache.Load()
	require.NoError(t, err)
	assert.NotNil(t, got)

	// A finished session has nothing to resume, even when the session
	// stalled before its COMPLETE ever went out.
	for _, status := range []string{"COMPLETE", "COMPLETE_FAILED"} {
		apply(status)
		got, err = cache.Load()
		require.NoError(t, err)
		assert.Nil(t, got, status)
	}
}
