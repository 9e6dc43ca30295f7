package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/collab-notify/internal/queue"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsRouted *prometheus.CounterVec
	DeliveriesSent      *prometheus.CounterVec
	DeliveryFailures    *prometheus.CounterVec
	DeliveriesDead      *prometheus.CounterVec
	DeliveryLatency     *prometheus.HistogramVec
	QueueJobs           *prometheus.GaugeVec
	WebSocketClients    prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_routed_total",
			Help: "Notifications accepted by the delivery router, by chosen channel.",
		}, []string{"channel"}),

		DeliveriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_sent_total",
			Help: "Successful delivery attempts.",
		}, []string{"queue"}),

		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_delivery_failures_total",
			Help: "Failed delivery attempts, including ones that will be retried.",
		}, []string{"queue"}),

		DeliveriesDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_dead_total",
			Help: "Jobs that exhausted their attempts.",
		}, []string{"queue"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_delivery_seconds",
			Help:    "Handler latency from reserve to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),

		QueueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notification_queue_jobs",
			Help: "Jobs per queue and state, sampled by the janitor.",
		}, []string{"queue", "state"}),

		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_websocket_connections",
			Help: "Open WebSocket connections on this process.",
		}),
	}

	reg.MustRegister(
		m.NotificationsRouted,
		m.DeliveriesSent,
		m.DeliveryFailures,
		m.DeliveriesDead,
		m.DeliveryLatency,
		m.QueueJobs,
		m.WebSocketClients,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so the worker package stays import-free.
func (m *Metrics) WorkerHooks() (
	onSent func(queue string, latency time.Duration),
	onFailed func(queue string, dead bool),
) {
	onSent = func(q string, latency time.Duration) {
		m.DeliveriesSent.WithLabelValues(q).Inc()
		m.DeliveryLatency.WithLabelValues(q).Observe(latency.Seconds())
	}
	onFailed = func(q string, dead bool) {
		m.DeliveryFailures.WithLabelValues(q).Inc()
		if dead {
			m.DeliveriesDead.WithLabelValues(q).Inc()
		}
	}
	return
}

// ObserveQueue records a Stats snapshot for one queue.
func (m *Metrics) ObserveQueue(name string, s queue.Stats) {
	m.QueueJobs.WithLabelValues(name, "ready").Set(float64(s.Ready))
	m.QueueJobs.WithLabelValues(name, "delayed").Set(float64(s.Delayed))
	m.QueueJobs.WithLabelValues(name, "active").Set(float64(s.Active))
	m.QueueJobs.WithLabelValues(name, "dead").Set(float64(s.Dead))
}
