// Command worker runs the delivery pools without the HTTP surface. In-app
// events reach the API servers' gateways through the Redis relay.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/app"
	"github.com/notifyhub/collab-notify/internal/config"
	"github.com/notifyhub/collab-notify/internal/db"
	"github.com/notifyhub/collab-notify/internal/metrics"
	"github.com/notifyhub/collab-notify/internal/realtime"
	"github.com/notifyhub/collab-notify/internal/tracing"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.QueueBackend != "redis" {
		logger.Fatal("the standalone worker needs QUEUE_BACKEND=redis")
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open notification store", zap.Error(err))
	}
	defer store.Close()

	rdb, err := db.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := app.OpenQueue(cfg, rdb)
	defer q.Close()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	relay := realtime.NewRedisRelay(rdb, realtime.DefaultRelayChannel, logger)
	workers, err := app.StartWorkers(workerCtx, cfg, q, store.Notifications, relay, m, logger)
	if err != nil {
		logger.Fatal("failed to start workers", zap.Error(err))
	}

	// Scrape endpoint only; the worker serves no API.
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadTimeout: cfg.ReadTimeout,
	}
	go func() {
		logger.Info("worker metrics listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	cancelWorkers()
	workers.Wait()

	logger.Info("worker stopped cleanly")
}
