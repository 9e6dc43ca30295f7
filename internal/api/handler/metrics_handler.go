package handler

import (
	"net/http"

	"github.com/notifyhub/collab-notify/internal/queue"
)

// MetricsHandler serves a human-readable JSON queue snapshot.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	q      queue.Queue
	queues []string
}

func NewMetricsHandler(q queue.Queue, queues []string) *MetricsHandler {
	return &MetricsHandler{q: q, queues: queues}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Per-queue job counts
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]queue.Stats, len(h.queues))
	for _, name := range h.queues {
		s, err := h.q.Stats(r.Context(), name)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "queue stats unavailable")
			return
		}
		out[name] = s
	}
	respondJSON(w, http.StatusOK, map[string]any{"queues": out})
}
