package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Provider used by tests and single-node runs
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*PartySession // by session ID
	codes    map[string]string        // party code -> session ID
}

var _ Provider = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*PartySession),
		codes:    make(map[string]string),
	}
}

// Put stores a session, replacing any existing one with the same ID
func (m *MemoryStore) Put(s *PartySession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	m.codes[s.PartyCode] = s.ID
}

func (m *MemoryStore) GetSessionByPartyCode(ctx context.Context, partyCode string) (*PartySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[partyCode]
	if !ok {
		return nil, fmt.Errorf("%w: party %s", ErrSessionNotFound, partyCode)
	}
	return m.sessions[id].Clone(), nil
}

func (m *MemoryStore) SaveSessionState(ctx context.Context, sessionID string, players map[string]*PlayerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: id %s", ErrSessionNotFound, sessionID)
	}
	if s.Players == nil {
		s.Players = make(map[string]*PlayerStats)
	}
	for id, p := range players {
		s.Players[id] = p.Clone()
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}
