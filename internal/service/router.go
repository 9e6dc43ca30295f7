package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/presence"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/repository"
)

var tracer = otel.Tracer("github.com/notifyhub/collab-notify/internal/service")

// RouterConfig holds the retry policy of each queue. Email priority is
// always taken from the request metadata.
type RouterConfig struct {
	Email queue.Options
	InApp queue.Options
}

// DefaultRouterConfig is 5 attempts from 5s for email and 3 from 2s for
// in-app, both exponential.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Email: queue.Options{Attempts: 5, Backoff: queue.Exponential(5 * time.Second)},
		InApp: queue.Options{Attempts: 3, Backoff: queue.Exponential(2 * time.Second)},
	}
}

// DeliveryRouter decides per notification whether it goes out in-app or by
// email, persists it as pending and hands it to the matching queue.
// Delivery itself happens later on a worker.
type DeliveryRouter struct {
	users    repository.UserDirectory
	repo     repository.NotificationRepository
	presence presence.Oracle
	q        queue.Queue
	cfg      RouterConfig
	logger   *zap.Logger
	onRouted func(domain.Channel)
}

func NewDeliveryRouter(
	users repository.UserDirectory,
	repo repository.NotificationRepository,
	oracle presence.Oracle,
	q queue.Queue,
	cfg RouterConfig,
	logger *zap.Logger,
) *DeliveryRouter {
	return &DeliveryRouter{
		users: users, repo: repo, presence: oracle, q: q, cfg: cfg, logger: logger,
		onRouted: func(domain.Channel) {},
	}
}

// OnRouted registers a callback run after every successful Send.
func (r *DeliveryRouter) OnRouted(fn func(domain.Channel)) *DeliveryRouter {
	if fn != nil {
		r.onRouted = fn
	}
	return r
}

// Send validates, routes, persists and enqueues a single notification.
// It returns once the pending row and its job are both durable. An unknown
// user fails with domain.ErrUserNotFound and writes nothing.
func (r *DeliveryRouter) Send(ctx context.Context, req domain.SendRequest) (*domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "router.send")
	defer span.End()

	n, err := r.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("notification.id", n.ID),
		attribute.String("notification.type", string(n.Type)),
	)
	return n, nil
}

func (r *DeliveryRouter) send(ctx context.Context, req domain.SendRequest) (*domain.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := r.users.Lookup(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup user %s: %w", req.UserID, err)
	}

	// Resolved for every request so bad metadata fails here on both channels.
	tmpl, err := domain.ResolveTemplate(req.Metadata)
	if err != nil {
		return nil, err
	}

	channel := r.route(ctx, user.ID)
	log := r.logger.With(zap.String("user_id", user.ID), zap.String("channel", string(channel)))

	n := &domain.Notification{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Type:      channel,
		Title:     req.Title,
		Message:   req.Message,
		Metadata:  req.Metadata,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("%w: persist notification: %w", domain.ErrPersistence, err)
	}

	if err := r.enqueue(ctx, n, user, tmpl); err != nil {
		// The row exists but no job will ever deliver it.
		if mErr := r.repo.MarkFailed(ctx, n.ID); mErr != nil {
			log.Error("failed to fail unqueued notification",
				zap.String("notification_id", n.ID), zap.Error(mErr))
		}
		return nil, fmt.Errorf("enqueue notification %s: %w", n.ID, err)
	}

	r.onRouted(channel)
	log.Info("notification routed", zap.String("notification_id", n.ID))
	return n, nil
}

// route asks the presence oracle. An oracle error means email: a user who is
// actually online still gets the message, just later.
func (r *DeliveryRouter) route(ctx context.Context, userID string) domain.Channel {
	present, err := r.presence.IsPresent(ctx, userID)
	if err != nil {
		r.logger.Warn("presence check failed, falling back to email",
			zap.String("user_id", userID), zap.Error(err))
		return domain.ChannelEmail
	}
	if present {
		return domain.ChannelInApp
	}
	return domain.ChannelEmail
}

func (r *DeliveryRouter) enqueue(ctx context.Context, n *domain.Notification, user *domain.User, tmpl domain.Template) error {
	if n.Type == domain.ChannelInApp {
		opts := r.cfg.InApp
		opts.Priority = domain.PriorityNormal
		_, err := r.q.Enqueue(ctx, domain.QueueInApp, n.ID, domain.InAppJob{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Title:          n.Title,
			Message:        n.Message,
			Metadata:       n.Metadata,
			CreatedAt:      n.CreatedAt,
		}, opts)
		return err
	}

	opts := r.cfg.Email
	opts.Priority = domain.PriorityFromMetadata(n.Metadata)
	_, err := r.q.Enqueue(ctx, domain.QueueEmail, n.ID, domain.EmailJob{
		NotificationID: n.ID,
		Email:          user.Email,
		Name:           user.Name,
		Title:          n.Title,
		Message:        n.Message,
		Metadata:       n.Metadata,
		Template:       tmpl,
	}, opts)
	return err
}

// SendBulk sends the same title and message to each user in order. It stops
// at the first failure and returns what was created before it.
func (r *DeliveryRouter) SendBulk(ctx context.Context, userIDs []string, title, message string) ([]*domain.Notification, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: user_ids must not be empty", domain.ErrInvalidRequest)
	}

	ctx, span := tracer.Start(ctx, "router.send_bulk")
	defer span.End()
	span.SetAttributes(attribute.Int("bulk.size", len(userIDs)))

	out := make([]*domain.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		n, err := r.Send(ctx, domain.SendRequest{UserID: id, Title: title, Message: message})
		if err != nil {
			span.RecordError(err)
			return out, fmt.Errorf("bulk send to %s: %w", id, err)
		}
		out = append(out, n)
	}
	return out, nil
}
