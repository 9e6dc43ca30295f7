package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/notifyhub/collab-notify/internal/domain"
)

// NotificationRepository defines all persistence operations for notifications.
// Postgres lives in pg_notification_repo.go, SQLite in sqlite_notification_repo.go.
// Tests use a hand-written mock (mock_notification_repo.go).
//
// Every status write is conditioned on status = 'pending', so a notification
// never leaves sent or failed and duplicate deliveries are harmless.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ListByUser(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)
	ListUnread(ctx context.Context, userID string, limit int) ([]*domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkSent moves a pending notification to sent and stamps sent_at.
	// Calling it on an already-terminal notification is a no-op.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	// RecordFailure increments retry_count by exactly one and, when terminal
	// is true, moves the notification to failed. It returns the new count.
	RecordFailure(ctx context.Context, id string, terminal bool) (int, error)
	// MarkFailed fails a pending notification without counting an attempt.
	MarkFailed(ctx context.Context, id string) error

	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// UserDirectory is the read-only view of the users table owned by the CRUD side.
type UserDirectory interface {
	Lookup(ctx context.Context, id string) (*domain.User, error)
}

// defaultUnreadLimit caps the unread list pushed on connect.
const defaultUnreadLimit = 50

func marshalMetadata(md map[string]any) ([]byte, error) {
	if len(md) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

func unreadLimit(limit int) int {
	if limit <= 0 {
		return defaultUnreadLimit
	}
	return limit
}
