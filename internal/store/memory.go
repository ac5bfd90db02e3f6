package store

import (
	"context"
	"sort"
	"sync"

	"github.com/minhvn/holescan/internal/models"
)

// Memory is the in-process Store used for single-node mode and tests.
// All methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	results  map[string]map[string]models.ResultRecord // session id -> item ref -> record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*models.Session),
		results:  make(map[string]map[string]models.ResultRecord),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.results[s.ID] = make(map[string]models.ResultRecord)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) SetConnection(_ context.Context, id, connRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.ConnectionRef = connRef
	return nil
}

func (m *Memory) PutResult(_ context.Context, rec models.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRef, ok := m.results[rec.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	byRef[rec.ItemRef] = rec
	return nil
}

func (m *Memory) HasResult(_ context.Context, sessionID, itemRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRef, ok := m.results[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	_, ok = byRef[itemRef]
	return ok, nil
}

func (m *Memory) IncrementProcessed(_ context.Context, id string, delta int) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.ProcessedCount += delta
	cp := *s
	return &cp, nil
}

func (m *Memory) TryComplete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.Status != models.StatusInProgress {
		return false, nil
	}
	s.Status = models.StatusComplete
	return true, nil
}

func (m *Memory) MarkCompleteFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = models.StatusCompleteFailed
	return nil
}

func (m *Memory) SetArtifact(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.ArtifactURL = url
	return nil
}

func (m *Memory) ListResults(_ context.Context, sessionID string) ([]models.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRef, ok := m.results[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]models.ResultRecord, 0, len(byRef))
	for _, rec := range byRef {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemRef < out[j].ItemRef })
	return out, nil
}
