package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/api"
	"github.com/notifyhub/collab-notify/internal/api/handler"
	apimw "github.com/notifyhub/collab-notify/internal/api/middleware"
	"github.com/notifyhub/collab-notify/internal/app"
	"github.com/notifyhub/collab-notify/internal/config"
	"github.com/notifyhub/collab-notify/internal/db"
	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/metrics"
	"github.com/notifyhub/collab-notify/internal/presence"
	"github.com/notifyhub/collab-notify/internal/realtime"
	"github.com/notifyhub/collab-notify/internal/service"
	"github.com/notifyhub/collab-notify/internal/tracing"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// ---- database ----
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open notification store", zap.Error(err))
	}
	defer store.Close()

	health := map[string]handler.Check{"database": store.Ping}

	// ---- redis: queue and relay ----
	local := cfg.QueueBackend == "memory"
	var rdb *redis.Client
	if local {
		// Single-process mode: nothing leaves this binary.
		cfg.RunWorkers = true
	} else {
		rdb, err = db.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// ---- presence sessions, on their own client ----
	pres, err := app.OpenPresence(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open presence store", zap.Error(err))
	}
	defer pres.Close()
	sessions := pres.Sessions
	if !local {
		health["presence"] = pres.Ping
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := app.OpenQueue(cfg, rdb)
	defer q.Close()

	notifications := service.NewNotificationService(store.Notifications, logger)
	hub := realtime.NewHub(notifications, logger,
		realtime.WithIdentity(apimw.TokenIdentity(cfg.JWTSecret)),
	)

	var oracle presence.Oracle = sessions
	if cfg.PresenceMode == config.PresenceModeSessionSocket {
		oracle = presence.RequireAll(sessions, hub)
	}

	router := service.NewDeliveryRouter(store.Users, store.Notifications, oracle, q, app.RouterConfig(cfg), logger).
		OnRouted(func(ch domain.Channel) { m.NotificationsRouted.WithLabelValues(string(ch)).Inc() })

	// Context for all background goroutines; cancelled on shutdown signal.
	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-t.C:
				m.WebSocketClients.Set(float64(hub.Connections()))
			}
		}
	}()

	// ---- real-time fan-in from worker processes ----
	var publisher realtime.Publisher = hub
	relayDone := make(chan struct{})
	if local {
		close(relayDone)
	} else {
		relay := realtime.NewRedisRelay(rdb, realtime.DefaultRelayChannel, logger)
		publisher = relay
		ready := make(chan struct{})
		go func() {
			defer close(relayDone)
			if err := relay.Run(bgCtx, hub, ready); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime relay stopped", zap.Error(err))
			}
		}()
		select {
		case <-ready:
		case <-relayDone:
			logger.Fatal("realtime relay failed to subscribe")
		}
	}

	// ---- worker pools ----
	var workers *app.Workers
	if cfg.RunWorkers {
		workers, err = app.StartWorkers(bgCtx, cfg, q, store.Notifications, publisher, m, logger)
		if err != nil {
			logger.Fatal("failed to start workers", zap.Error(err))
		}
	}

	// ---- HTTP server ----
	httpHandler := api.NewRouter(api.Deps{
		Router:        router,
		Notifications: notifications,
		Queue:         q,
		Queues:        app.Queues,
		Sessions:      sessions,
		Gateway:       hub,
		JWTSecret:     cfg.JWTSecret,
		Health:        health,
		Registry:      reg,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpHandler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("queue_backend", cfg.QueueBackend),
			zap.String("presence_mode", cfg.PresenceMode),
			zap.Bool("workers", cfg.RunWorkers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop reserving jobs and relaying events.
	cancelBackground()

	// 3. Wait for in-flight jobs, then drop the sockets.
	if workers != nil {
		workers.Wait()
	}
	<-relayDone
	hub.Close()

	logger.Info("server stopped cleanly")
}
