package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/realtime"
	"github.com/notifyhub/collab-notify/internal/repository"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// NotificationService is the read side of the store: history, unread state
// and read flags. Every call is scoped to the acting user.
// HTTP handlers and the real-time gateway depend on this service, not on the repository.
type NotificationService struct {
	repo   repository.NotificationRepository
	logger *zap.Logger
}

func NewNotificationService(repo repository.NotificationRepository, logger *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, logger: logger}
}

// Get returns one of userID's notifications.
func (s *NotificationService) Get(ctx context.Context, userID, id string) (*domain.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return n, nil
}

// History returns one page of a user's notifications, newest first.
// Page defaults to 1 and limit to 20, capped at 100.
func (s *NotificationService) History(ctx context.Context, filter domain.ListFilter) (domain.Page, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	if filter.Type != nil && !filter.Type.IsValid() {
		return domain.Page{}, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidRequest, *filter.Type)
	}

	items, total, err := s.repo.ListByUser(ctx, filter)
	if err != nil {
		return domain.Page{}, fmt.Errorf("list notifications: %w", err)
	}
	return domain.NewPage(items, total, filter.Page, filter.Limit), nil
}

// Unread returns the newest unread in-app notifications.
func (s *NotificationService) Unread(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	return s.repo.ListUnread(ctx, userID, limit)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead sets the read flag. Marking an already-read notification succeeds.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.MarkRead(ctx, id)
}

// MarkAllRead marks every unread in-app notification of userID and returns
// how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("marked all notifications read", zap.String("user_id", userID), zap.Int("count", n))
	return n, nil
}

var _ realtime.Inbox = (*NotificationService)(nil)
