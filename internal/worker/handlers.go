package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/mailer"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/realtime"
	"github.com/notifyhub/collab-notify/internal/repository"
	"github.com/notifyhub/collab-notify/internal/templates"
)

var tracer = otel.Tracer("github.com/notifyhub/collab-notify/internal/worker")

// EmailHandler renders and sends one email job.
type EmailHandler struct {
	repo     repository.NotificationRepository
	renderer *templates.Renderer
	mailer   mailer.Mailer
	from     string
	logger   *zap.Logger
	now      func() time.Time
}

func NewEmailHandler(
	repo repository.NotificationRepository,
	renderer *templates.Renderer,
	m mailer.Mailer,
	from string,
	logger *zap.Logger,
) *EmailHandler {
	return &EmailHandler{repo: repo, renderer: renderer, mailer: m, from: from, logger: logger, now: time.Now}
}

func (h *EmailHandler) Handle(ctx context.Context, job *queue.Job) error {
	ctx, span := startSpan(ctx, "email.deliver", job)
	defer span.End()

	var p domain.EmailJob
	if err := job.Decode(&p); err != nil {
		return recordFailure(ctx, span, h.repo, h.logger, job, err)
	}

	email, err := h.renderer.Render(p.Template, p.Name, p.Title, p.Message)
	if err != nil {
		return recordFailure(ctx, span, h.repo, h.logger, job, err)
	}

	_, sendSpan := tracer.Start(ctx, "email.send")
	err = h.mailer.Send(ctx, mailer.Message{
		From:    h.from,
		To:      p.Email,
		Subject: email.Subject,
		HTML:    email.HTML,
	})
	if err != nil {
		sendSpan.RecordError(err)
		sendSpan.SetStatus(codes.Error, "mail transport failed")
	}
	sendSpan.End()
	if err != nil {
		return recordFailure(ctx, span, h.repo, h.logger, job, fmt.Errorf("send to %s: %w", p.Email, err))
	}

	if err := h.repo.MarkSent(ctx, job.NotificationID, h.now().UTC()); err != nil {
		return recordFailure(ctx, span, h.repo, h.logger, job, fmt.Errorf("%w: mark sent: %w", domain.ErrPersistence, err))
	}
	return nil
}

// InAppHandler pushes one in-app job to the recipient's real-time room.
type InAppHandler struct {
	repo      repository.NotificationRepository
	publisher realtime.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewInAppHandler(repo repository.NotificationRepository, publisher realtime.Publisher, logger *zap.Logger) *InAppHandler {
	return &InAppHandler{repo: repo, publisher: publisher, logger: logger, now: time.Now}
}

func (h *InAppHandler) Handle(ctx context.Context, job *queue.Job) error {
	ctx, span := startSpan(ctx, "in_app.deliver", job)
	defer span.End()

	var p domain.InAppJob
	if err := job.Decode(&p); err != nil {
		return recordFailure(ctx, span, h.repo, h.logger, job, err)
	}

	ev := realtime.Event{
		Name: realtime.EventNotification,
		Data: domain.PushedNotification{
			ID:        p.NotificationID,
			Title:     p.Title,
			Message:   p.Message,
			Metadata:  p.Metadata,
			CreatedAt: p.CreatedAt,
		},
	}
	// An empty room is not an error: the user reads it from history later.
	if err := h.publisher.Publish(ctx, p.UserID, ev); err != nil {
		return recordFailure(ctx, span, h.repo, h.logger, job, fmt.Errorf("publish to %s: %w", realtime.Room(p.UserID), err))
	}

	if err := h.repo.MarkSent(ctx, job.NotificationID, h.now().UTC()); err != nil {
		return recordFailure(ctx, span, h.repo, h.logger, job, fmt.Errorf("%w: mark sent: %w", domain.ErrPersistence, err))
	}
	return nil
}

func startSpan(ctx context.Context, name string, job *queue.Job) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("notification.id", job.NotificationID),
		attribute.String("job.id", job.ID),
		attribute.String("job.queue", job.Queue),
		attribute.Int("job.attempt", job.Attempt),
	))
}

// recordFailure counts the failed attempt on the notification, failing it
// for good on the last attempt, and returns the error the queue sees.
func recordFailure(
	ctx context.Context,
	span trace.Span,
	repo repository.NotificationRepository,
	logger *zap.Logger,
	job *queue.Job,
	cause error,
) error {
	terminal := job.Exhausted()
	sentinel := domain.ErrTransientDelivery
	if terminal {
		sentinel = domain.ErrTerminalDelivery
	}
	failure := fmt.Errorf("%w: attempt %d/%d: %w", sentinel, job.Attempt, job.MaxAttempts, cause)

	span.RecordError(cause)
	span.SetStatus(codes.Error, sentinel.Error())

	count, err := repo.RecordFailure(ctx, job.NotificationID, terminal)
	if err != nil {
		logger.Error("failed to record delivery failure",
			zap.String("notification_id", job.NotificationID), zap.Error(err))
		return errors.Join(failure, fmt.Errorf("%w: record failure: %w", domain.ErrPersistence, err))
	}
	span.SetAttributes(attribute.Int("notification.retry_count", count))
	return failure
}
