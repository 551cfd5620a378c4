package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps sessions for the life of the process. Nothing is ever
// evicted.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	turns    int
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, id, title string) (Session, bool, error) {
	if id == "" {
		return Session{}, false, errors.New("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return cloneSession(s), false, nil
	}
	s := &Session{ID: id, Title: title, CreatedAt: m.now().UTC(), Turns: []Turn{}}
	m.sessions[id] = s
	m.order = append(m.order, id)
	return cloneSession(s), true, nil
}

func (m *MemoryStore) AppendTurns(_ context.Context, id string, turns ...Turn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Turns = append(s.Turns, turns...)
	m.turns += len(turns)
	return nil
}

func (m *MemoryStore) History(_ context.Context, id string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Turn{}, s.Turns...), nil
}

func (m *MemoryStore) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.order))
	for _, id := range m.order {
		s := m.sessions[id]
		out = append(out, Summary{ID: s.ID, Title: s.Title})
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Sessions: len(m.sessions), Turns: m.turns}, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneSession(s *Session) Session {
	c := *s
	c.Turns = append([]Turn{}, s.Turns...)
	return c
}
