package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CachedSession is the client's persistent pointer to an unfinished scan.
// It survives process restarts so the CLI can resume after a crash or
// disconnect.
type CachedSession struct {
	SessionID  string    `json:"session_id"`
	ItemSource string    `json:"item_source"`
	StartedAt  time.Time `json:"started_at"`
}

// Cache persists the session pointer as JSON on disk.
type Cache struct {
	path string
}

// NewCache places the cache file under the user config directory.
func NewCache() (*Cache, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locate config dir: %w", err)
	}
	return NewCacheAt(filepath.Join(dir, "holescan", "session.json")), nil
}

// NewCacheAt uses an explicit file path, mainly for tests.
func NewCacheAt(path string) *Cache {
	return &Cache{path: path}
}

// Load returns the cached session, or nil when none is stored.
func (c *Cache) Load() (*CachedSession, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session cache: %w", err)
	}

	var cs CachedSession
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parse session cache: %w", err)
	}
	if cs.SessionID == "" {
		return nil, nil
	}
	return &cs, nil
}

// Save stores the session pointer, creating the parent directory if needed.
func (c *Cache) Save(cs CachedSession) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	return nil
}

// Clear removes the cached pointer. Removing an absent file is not an error.
func (c *Cache) Clear() error {
	err := os.Remove(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
