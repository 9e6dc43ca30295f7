package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/api/handler"
	apimw "github.com/notifyhub/collab-notify/internal/api/middleware"
	"github.com/notifyhub/collab-notify/internal/presence"
	"github.com/notifyhub/collab-notify/internal/queue"
	"github.com/notifyhub/collab-notify/internal/service"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Router        *service.DeliveryRouter
	Notifications *service.NotificationService
	Queue         queue.Queue
	Queues        []string
	Sessions      presence.SessionStore
	// Gateway serves WebSocket upgrades on /ws.
	Gateway   http.Handler
	JWTSecret string
	Health    map[string]handler.Check
	Registry  prometheus.Gatherer
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(d.Router, d.Notifications, logger)
	bh := handler.NewBulkHandler(d.Router, logger)
	sh := handler.NewSessionHandler(d.Sessions, logger)
	mh := handler.NewMetricsHandler(d.Queue, d.Queues)
	hh := handler.NewHealthHandler(d.Health)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	if d.Gateway != nil {
		r.Handle("/ws", d.Gateway)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)

		r.Group(func(r chi.Router) {
			r.Use(apimw.Authenticate(d.JWTSecret, d.Sessions, logger))

			// Literal segments are registered before /{id} so chi does not
			// treat "unread-count" or "read-all" as an ID.
			r.Post("/notifications/send", nh.Send)
			r.Post("/notifications/bulk", bh.SendBulk)
			r.Get("/notifications/unread-count", nh.UnreadCount)
			r.Put("/notifications/read-all", nh.MarkAllRead)
			r.Get("/notifications", nh.List)
			r.Get("/notifications/{id}", nh.GetByID)
			r.Put("/notifications/{id}/read", nh.MarkRead)

			r.Delete("/session", sh.Logout)
		})
	})

	return r
}
