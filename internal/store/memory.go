package store

import (
	"context"
	"sort"
	"sync"
	"time"

	core "github.com/parallaxsearch/parallax/internal/agent/core"
)

// MemoryStore keeps turns in process memory. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	turns    map[string][]core.Outcome // session id -> turns
	sessions map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:    make(map[string][]core.Outcome),
		sessions: make(map[string]time.Time),
	}
}

func (m *MemoryStore) SaveTurn(_ context.Context, out core.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[out.SessionID] = append(m.turns[out.SessionID], out)
	return nil
}

func (m *MemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]core.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.turns[sessionID]
	out := make([]core.Outcome, len(all))
	copy(out, all)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) TouchSession(_ context.Context, sessionID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = time.Now()
	return nil
}
