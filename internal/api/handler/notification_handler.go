package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/collab-notify/internal/api/middleware"
	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/service"
)

// NotificationHandler handles sending and reading notifications.
type NotificationHandler struct {
	router *service.DeliveryRouter
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(router *service.DeliveryRouter, svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{router: router, svc: svc, logger: logger}
}

// Send handles POST /api/v1/notifications/send
//
// @Summary     Route and enqueue a notification
// @Description user_id defaults to the caller. The response carries the pending record; delivery happens asynchronously.
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.SendRequest   true  "Notification payload"
// @Success     201   {object}  domain.Notification
// @Failure     404   {object}  map[string]string
// @Failure     422   {object}  map[string]string
// @Failure     503   {object}  map[string]string
// @Router      /api/v1/notifications/send [post]
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		req.UserID = apimw.UserID(r.Context())
	}

	n, err := h.router.Send(r.Context(), req)
	if err != nil {
		h.logger.Warn("send notification failed",
			apimw.CorrelationField(r.Context()),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

// GetByID handles GET /api/v1/notifications/{id}
//
// @Summary  Get one of the caller's notifications
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification UUID"
// @Success  200  {object}  domain.Notification
// @Failure  403  {object}  map[string]string
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(r.Context(), apimw.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// List handles GET /api/v1/notifications
//
// @Summary  The caller's notification history, newest first
// @Tags     notifications
// @Produce  json
// @Param    type    query     string  false  "email or in_app"
// @Param    unread  query     bool    false  "Only unread notifications"
// @Param    page    query     int     false  "Page number (default 1)"
// @Param    limit   query     int     false  "Items per page (default 20, max 100)"
// @Success  200     {object}  domain.Page
// @Failure  422     {object}  map[string]string
// @Router   /api/v1/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.History(r.Context(), parseListFilter(r))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// UnreadCount handles GET /api/v1/notifications/unread-count
//
// @Summary  Number of unread in-app notifications
// @Tags     notifications
// @Produce  json
// @Success  200  {object}  map[string]int
// @Router   /api/v1/notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.UnreadCount(r.Context(), apimw.UserID(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkRead handles PUT /api/v1/notifications/{id}/read
//
// @Summary  Mark one notification read
// @Tags     notifications
// @Param    id   path  string  true  "Notification UUID"
// @Success  204
// @Failure  403  {object}  map[string]string
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/notifications/{id}/read [put]
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkRead(r.Context(), apimw.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles PUT /api/v1/notifications/read-all
//
// @Summary  Mark every in-app notification of the caller read
// @Tags     notifications
// @Produce  json
// @Success  200  {object}  map[string]int
// @Router   /api/v1/notifications/read-all [put]
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAllRead(r.Context(), apimw.UserID(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{UserID: apimw.UserID(r.Context()), Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if t := q.Get("type"); t != "" {
		ch := domain.Channel(t)
		filter.Type = &ch
	}
	if u, err := strconv.ParseBool(q.Get("unread")); err == nil {
		filter.Unread = u
	}
	return filter
}
