package store

import (
	"context"
	"sync"

	"stayassist/internal/types"
)

type MemoryTurnStore struct {
	mu       sync.RWMutex
	sessions map[string][]types.Turn
	maxTurns int
}

func NewMemoryTurnStore(maxTurns int) *MemoryTurnStore {
	return &MemoryTurnStore{
		sessions: make(map[string][]types.Turn),
		maxTurns: maxTurns,
	}
}

func (m *MemoryTurnStore) Save(_ context.Context, sessionID string, turn types.Turn) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], turn)
	m.trimLocked(sessionID)
	return nil
}

func (m *MemoryTurnStore) GetAll(_ context.Context, sessionID string) ([]types.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.sessions[sessionID]
	out := make([]types.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *MemoryTurnStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryTurnStore) Close() error { return nil }

func (m *MemoryTurnStore) trimLocked(sessionID string) {
	m.sessions[sessionID] = trim(m.sessions[sessionID], m.maxTurns)
}

// trim keeps the newest max turns. A non-positive max keeps everything.
func trim(turns []types.Turn, max int) []types.Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}
