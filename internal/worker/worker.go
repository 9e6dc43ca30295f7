package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/deadletter"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/ratelimiter"
)

// reserveRetryDelay is the pause after Reserve fails for a reason other than
// shutdown, e.g. Redis being briefly unreachable.
const reserveRetryDelay = time.Second

// Handler delivers one reserved job. A nil return acks the job; an error
// counts as a failed attempt and the queue decides whether to retry.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error {
	return f(ctx, job)
}

// Worker is a single goroutine that continuously reserves jobs from its
// queue, applies the queue's rate limit, runs the handler and reports the
// outcome back to the queue.
type Worker struct {
	id      int
	name    string
	q       queue.Queue
	handler Handler
	limiter *ratelimiter.QueueLimiters
	dlq     deadletter.Publisher
	logger  *zap.Logger

	// Metric hooks injected by the pool.
	onSent   func(queue string, latency time.Duration)
	onFailed func(queue string, dead bool)
}

// NewWorker constructs a worker. onSent and onFailed are optional (nil = no-op).
func NewWorker(
	id int,
	name string,
	q queue.Queue,
	handler Handler,
	limiter *ratelimiter.QueueLimiters,
	dlq deadletter.Publisher,
	logger *zap.Logger,
	onSent func(string, time.Duration),
	onFailed func(string, bool),
) *Worker {
	if onSent == nil {
		onSent = func(string, time.Duration) {}
	}
	if onFailed == nil {
		onFailed = func(string, bool) {}
	}
	if dlq == nil {
		dlq = deadletter.Nop{}
	}
	return &Worker{
		id: id, name: name, q: q, handler: handler,
		limiter: limiter, dlq: dlq, logger: logger,
		onSent: onSent, onFailed: onFailed,
	}
}

// Run blocks until ctx is cancelled or the queue is closed, processing one
// job per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		// Take the rate limit token before reserving so a throttled worker
		// never sits on a leased job.
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx, w.name); err != nil {
				w.logger.Info("worker stopping")
				return
			}
		}

		job, err := w.q.Reserve(ctx, w.name)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Error("reserve failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reserveRetryDelay):
			}
			continue
		}

		// A reserved job runs to completion even if shutdown starts meanwhile.
		w.process(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	start := time.Now()
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("notification_id", job.NotificationID),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts),
	)

	handleErr := w.handler.Handle(ctx, job)
	elapsed := time.Since(start)

	if handleErr == nil {
		if err := w.q.Ack(ctx, job); err != nil {
			log.Warn("failed to ack job", zap.Error(err))
		}
		w.onSent(w.name, elapsed)
		log.Info("job completed", zap.Duration("latency", elapsed))
		return
	}

	dead, err := w.q.Fail(ctx, job, handleErr)
	if err != nil {
		log.Error("failed to record job failure", zap.NamedError("cause", handleErr), zap.Error(err))
		w.onFailed(w.name, false)
		return
	}
	w.onFailed(w.name, dead)

	if !dead {
		log.Warn("delivery attempt failed, retry scheduled",
			zap.Error(handleErr),
			zap.Duration("retry_in", job.Backoff.Duration(job.Attempt)),
		)
		return
	}

	log.Error("job exhausted its attempts", zap.Error(handleErr))
	if err := w.dlq.Publish(ctx, job, handleErr); err != nil {
		log.Error("failed to publish dead job", zap.Error(err))
	}
}
