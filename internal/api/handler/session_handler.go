package handler

import (
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/collab-notify/internal/api/middleware"
	"github.com/notifyhub/collab-notify/internal/presence"
)

// SessionHandler ends presence sessions on logout.
type SessionHandler struct {
	sessions presence.SessionStore
	logger   *zap.Logger
}

func NewSessionHandler(sessions presence.SessionStore, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// Logout handles DELETE /api/v1/session
//
// @Summary  Drop the caller's presence session so new notifications go by email
// @Tags     session
// @Success  204
// @Router   /api/v1/session [delete]
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := apimw.UserID(r.Context())
	if err := h.sessions.Remove(r.Context(), userID); err != nil {
		h.logger.Error("failed to remove session", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
