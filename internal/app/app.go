// Package app assembles the long-lived dependencies shared by the API server
// and the standalone worker process.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/config"
	"github.com/notifyhub/collab-notify/internal/db"
	"github.com/notifyhub/collab-notify/internal/deadletter"
	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/mailer"
	"github.com/notifyhub/collab-notify/internal/metrics"
	"github.com/notifyhub/collab-notify/internal/presence"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/ratelimiter"
	"github.com/notifyhub/collab-notify/internal/realtime"
	"github.com/notifyhub/collab-notify/internal/repository"
	"github.com/notifyhub/collab-notify/internal/service"
	"github.com/notifyhub/collab-notify/internal/templates"
	"github.com/notifyhub/collab-notify/internal/worker"
)

// Queues lists every delivery queue in the order the janitor sweeps them.
var Queues = []string{domain.QueueEmail, domain.QueueInApp}

// Store is the notification store plus the user directory it is paired with.
type Store struct {
	Notifications repository.NotificationRepository
	Users         repository.UserDirectory
	Ping          func(context.Context) error
	Close         func()
}

// OpenStore connects to the configured database and applies migrations.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		sdb, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return &Store{
			Notifications: repository.NewSQLiteNotificationRepository(sdb),
			Users:         repository.NewSQLiteUserDirectory(sdb),
			Ping:          sdb.PingContext,
			Close:         func() { sdb.Close() },
		}, nil
	default:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
		return &Store{
			Notifications: repository.NewPgNotificationRepository(pool),
			Users:         repository.NewPgUserDirectory(pool),
			Ping:          pool.Ping,
			Close:         pool.Close,
		}, nil
	}
}

// Presence is the session store the auth layer writes and the router reads.
type Presence struct {
	Sessions presence.SessionStore
	Ping     func(context.Context) error
	Close    func()
}

// OpenPresence dials a dedicated Redis client for sessions, even when
// PRESENCE_REDIS_ADDR names the queue's server. The memory queue backend
// keeps sessions in process.
func OpenPresence(ctx context.Context, cfg *config.Config) (*Presence, error) {
	if cfg.QueueBackend == "memory" {
		return &Presence{
			Sessions: presence.NewMemory(cfg.SessionTTL),
			Ping:     func(context.Context) error { return nil },
			Close:    func() {},
		}, nil
	}
	rdb, err := db.ConnectRedis(ctx, cfg.PresenceRedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	return &Presence{
		Sessions: presence.NewRedisSessions(rdb, cfg.SessionTTL),
		Ping:     func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Close:    func() { rdb.Close() },
	}, nil
}

// OpenQueue returns the configured queue backend. rdb is ignored for the
// memory backend.
func OpenQueue(cfg *config.Config, rdb *redis.Client) queue.Queue {
	if cfg.QueueBackend == "memory" {
		return queue.NewMemory()
	}
	return queue.NewRedis(rdb, queue.RedisOptions{
		Prefix:       cfg.QueuePrefix,
		Lease:        cfg.QueueLease,
		PollInterval: 100 * time.Millisecond,
	})
}

// RouterConfig maps the retry settings onto per-channel queue options.
func RouterConfig(cfg *config.Config) service.RouterConfig {
	return service.RouterConfig{
		Email: queue.Options{Attempts: cfg.EmailAttempts, Backoff: queue.Exponential(cfg.EmailBackoff)},
		InApp: queue.Options{Attempts: cfg.InAppAttempts, Backoff: queue.Exponential(cfg.InAppBackoff)},
	}
}

// NewMailer picks the mail transport named by MAIL_PROVIDER.
func NewMailer(cfg *config.Config, logger *zap.Logger) (mailer.Mailer, error) {
	switch cfg.MailProvider {
	case "smtp":
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			Timeout:  cfg.SMTPTimeout,
			Insecure: cfg.SMTPInsecure,
		}), nil
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("SENDGRID_API_KEY is required for MAIL_PROVIDER=sendgrid")
		}
		return mailer.NewSendGridMailer(cfg.SendGridAPIKey, cfg.BrandName, cfg.SMTPTimeout), nil
	case "log":
		return mailer.NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported MAIL_PROVIDER %q", cfg.MailProvider)
	}
}

// NewDeadLetters publishes to Kafka when brokers are configured.
func NewDeadLetters(cfg *config.Config, logger *zap.Logger) deadletter.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("dead-letter topic disabled, no KAFKA_BROKERS configured")
		return deadletter.Nop{}
	}
	logger.Info("dead letters go to kafka",
		zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.DLQTopic))
	return deadletter.NewKafka(cfg.KafkaBrokers, cfg.DLQTopic)
}

// Workers are the email and in-app pools plus the janitor.
type Workers struct {
	email, inApp *worker.Pool
	janitor      *worker.Janitor
	dlq          deadletter.Publisher
	done         chan struct{}
	logger       *zap.Logger
}

// StartWorkers launches both pools and the janitor. In-app events go to
// publisher, which is the local hub or the Redis relay.
func StartWorkers(
	ctx context.Context,
	cfg *config.Config,
	q queue.Queue,
	repo repository.NotificationRepository,
	publisher realtime.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Workers, error) {
	mail, err := NewMailer(cfg, logger)
	if err != nil {
		return nil, err
	}
	renderer, err := templates.New(cfg.BrandName)
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}

	limiter := ratelimiter.New().Limit(domain.QueueEmail, cfg.EmailRateMax, cfg.EmailRateWindow)
	dlq := NewDeadLetters(cfg, logger)
	onSent, onFailed := m.WorkerHooks()
	hooks := worker.MetricHooks{OnSent: onSent, OnFailed: onFailed}

	w := &Workers{
		email: worker.NewPool(q, domain.QueueEmail, cfg.EmailConcurrency,
			worker.NewEmailHandler(repo, renderer, mail, cfg.EmailFrom, logger),
			limiter, dlq, logger, hooks),
		inApp: worker.NewPool(q, domain.QueueInApp, cfg.InAppConcurrency,
			worker.NewInAppHandler(repo, publisher, logger),
			limiter, dlq, logger, hooks),
		janitor: worker.NewJanitor(q, repo, dlq, worker.JanitorConfig{
			Queues:   Queues,
			Interval: cfg.JanitorInterval,
			Observe:  m.ObserveQueue,
			OnFailed: onFailed,
		}, logger),
		dlq:     dlq,
		done:    make(chan struct{}),
		logger:  logger,
	}

	w.email.Start(ctx)
	w.inApp.Start(ctx)
	go func() {
		defer close(w.done)
		w.janitor.Run(ctx)
	}()
	return w, nil
}

// Wait blocks until every worker has finished its current job, then closes
// the dead-letter writer. Cancel the start context first.
func (w *Workers) Wait() {
	w.email.Wait()
	w.inApp.Wait()
	<-w.done
	if err := w.dlq.Close(); err != nil {
		w.logger.Error("close dead-letter writer", zap.Error(err))
	}
}
