package presence

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process SessionStore with the same TTL semantics as
// RedisSessions. Used by tests and single-process development runs.
type Memory struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]time.Time // userID -> expiry
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Memory{ttl: ttl, now: time.Now, sessions: make(map[string]time.Time)}
}

// WithClock replaces the time source. Tests use it to expire sessions.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Touch(_ context.Context, userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = m.now().Add(m.ttl)
	return nil
}

func (m *Memory) Remove(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *Memory) IsPresent(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.sessions[userID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.sessions, userID)
		return false, nil
	}
	return true, nil
}
