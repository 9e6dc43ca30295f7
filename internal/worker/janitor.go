package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/deadletter"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/repository"
)

// JanitorConfig lists the queues to sweep and the optional observers.
type JanitorConfig struct {
	Queues   []string
	Interval time.Duration
	Observe  func(name string, s queue.Stats)
	OnFailed func(queue string, dead bool)
}

// Janitor returns jobs whose lease expired to their queue and samples queue
// sizes. A worker that crashes mid-delivery leaves its job active; the
// janitor is what makes such a job run again on another worker. A job that
// was on its last attempt is failed for good instead: its notification is
// marked failed and the job goes to the dead-letter topic.
type Janitor struct {
	q        queue.Queue
	repo     repository.NotificationRepository
	dlq      deadletter.Publisher
	queues   []string
	interval time.Duration
	observe  func(name string, s queue.Stats)
	onFailed func(queue string, dead bool)
	logger   *zap.Logger
}

// NewJanitor sweeps cfg.Queues every cfg.Interval. dlq may be nil.
func NewJanitor(
	q queue.Queue,
	repo repository.NotificationRepository,
	dlq deadletter.Publisher,
	cfg JanitorConfig,
	logger *zap.Logger,
) *Janitor {
	if cfg.Observe == nil {
		cfg.Observe = func(string, queue.Stats) {}
	}
	if cfg.OnFailed == nil {
		cfg.OnFailed = func(string, bool) {}
	}
	if dlq == nil {
		dlq = deadletter.Nop{}
	}
	return &Janitor{
		q: q, repo: repo, dlq: dlq,
		queues: cfg.Queues, interval: cfg.Interval,
		observe: cfg.Observe, onFailed: cfg.OnFailed,
		logger: logger,
	}
}

// Run ticks every interval and sweeps every queue.
// Stops cleanly when ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("queue janitor started", zap.Duration("interval", j.interval), zap.Strings("queues", j.queues))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("queue janitor stopping")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every queue.
func (j *Janitor) Sweep(ctx context.Context) {
	for _, name := range j.queues {
		res, err := j.q.Reclaim(ctx, name)
		if err != nil {
			j.logger.Error("reclaim error", zap.String("queue", name), zap.Error(err))
		} else if res.Requeued > 0 {
			j.logger.Warn("reclaimed jobs with expired leases", zap.String("queue", name), zap.Int("count", res.Requeued))
		}
		for _, job := range res.Dead {
			j.failExpired(ctx, name, job)
		}

		stats, err := j.q.Stats(ctx, name)
		if err != nil {
			j.logger.Error("queue stats error", zap.String("queue", name), zap.Error(err))
			continue
		}
		j.observe(name, stats)
	}
}

func (j *Janitor) failExpired(ctx context.Context, name string, job *queue.Job) {
	log := j.logger.With(
		zap.String("queue", name),
		zap.String("job_id", job.ID),
		zap.String("notification_id", job.NotificationID),
		zap.Int("attempt", job.Attempt),
	)
	log.Error("final attempt lease expired, job is dead")

	if _, err := j.repo.RecordFailure(ctx, job.NotificationID, true); err != nil {
		log.Error("failed to record delivery failure", zap.Error(err))
	}
	j.onFailed(name, true)
	if err := j.dlq.Publish(ctx, job, queue.ErrLeaseExpired); err != nil {
		log.Error("failed to publish dead job", zap.Error(err))
	}
}
