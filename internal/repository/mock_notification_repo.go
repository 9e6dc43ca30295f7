package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/collab-notify/internal/domain"
)

// MockNotificationRepository is a hand-written, in-memory implementation of
// NotificationRepository used in unit tests. No mock-generation library needed.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr        error
	GetByIDErr       error
	MarkSentErr      error
	RecordFailureErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		notifications: make(map[string]*domain.Notification),
	}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = clone(n)
	return nil
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(n), nil
}

func (m *MockNotificationRepository) ListByUser(_ context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	matched := m.filter(func(n *domain.Notification) bool {
		if n.UserID != f.UserID {
			return false
		}
		if f.Type != nil && n.Type != *f.Type {
			return false
		}
		return !f.Unread || !n.Read
	})

	total := len(matched)
	start := min(f.Offset(), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return matched[start:end], total, nil
}

func (m *MockNotificationRepository) ListUnread(_ context.Context, userID string, limit int) ([]*domain.Notification, error) {
	matched := m.filter(func(n *domain.Notification) bool {
		return n.UserID == userID && n.Type == domain.ChannelInApp && !n.Read
	})
	if l := unreadLimit(limit); len(matched) > l {
		matched = matched[:l]
	}
	return matched, nil
}

func (m *MockNotificationRepository) CountUnread(_ context.Context, userID string) (int, error) {
	unread := m.filter(func(n *domain.Notification) bool {
		return n.UserID == userID && n.Type == domain.ChannelInApp && !n.Read
	})
	return len(unread), nil
}

func (m *MockNotificationRepository) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	if m.MarkSentErr != nil {
		return m.MarkSentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.Status.CanTransition(domain.StatusSent) {
		n.Status = domain.StatusSent
		n.SentAt = &sentAt
	}
	return nil
}

func (m *MockNotificationRepository) RecordFailure(_ context.Context, id string, terminal bool) (int, error) {
	if m.RecordFailureErr != nil {
		return 0, m.RecordFailureErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if n.Status != domain.StatusPending {
		return n.RetryCount, nil
	}
	n.RetryCount++
	if terminal {
		n.Status = domain.StatusFailed
	}
	return n.RetryCount, nil
}

func (m *MockNotificationRepository) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.Status.CanTransition(domain.StatusFailed) {
		n.Status = domain.StatusFailed
	}
	return nil
}

func (m *MockNotificationRepository) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Read = true
	return nil
}

func (m *MockNotificationRepository) MarkAllRead(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && n.Type == domain.ChannelInApp && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

// All returns a snapshot of every stored notification, newest first.
func (m *MockNotificationRepository) All() []*domain.Notification {
	return m.filter(func(*domain.Notification) bool { return true })
}

func (m *MockNotificationRepository) filter(keep func(*domain.Notification) bool) []*domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if keep(n) {
			result = append(result, clone(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func clone(n *domain.Notification) *domain.Notification {
	c := *n
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	return &c
}

// MockUserDirectory is an in-memory UserDirectory.
type MockUserDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.User

	LookupErr error
}

func NewMockUserDirectory(users ...domain.User) *MockUserDirectory {
	d := &MockUserDirectory{users: make(map[string]domain.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *MockUserDirectory) Add(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MockUserDirectory) Lookup(_ context.Context, id string) (*domain.User, error) {
	if d.LookupErr != nil {
		return nil, d.LookupErr
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}
