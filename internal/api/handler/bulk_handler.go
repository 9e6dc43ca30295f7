package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/collab-notify/internal/api/middleware"
	"github.com/notifyhub/collab-notify/internal/domain"
	"github.com/notifyhub/collab-notify/internal/service"
)

// maxBulkRecipients bounds one bulk request; sends are sequential.
const maxBulkRecipients = 1000

// BulkHandler fans one message out to many users.
type BulkHandler struct {
	router *service.DeliveryRouter
	logger *zap.Logger
}

func NewBulkHandler(router *service.DeliveryRouter, logger *zap.Logger) *BulkHandler {
	return &BulkHandler{router: router, logger: logger}
}

// SendBulk handles POST /api/v1/notifications/bulk
//
// @Summary     Send the same notification to many users
// @Description Users are processed in order and the request stops at the first failure.
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.BulkSendRequest  true  "Recipients and content"
// @Success     201   {object}  map[string]any
// @Success     207   {object}  map[string]any  "Stopped part way; notifications lists what was created"
// @Failure     404   {object}  map[string]string
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/notifications/bulk [post]
func (h *BulkHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.UserIDs) > maxBulkRecipients {
		respondError(w, http.StatusUnprocessableEntity, "too many recipients")
		return
	}

	sent, err := h.router.SendBulk(r.Context(), req.UserIDs, req.Title, req.Message)
	if err != nil {
		h.logger.Warn("bulk send stopped",
			apimw.CorrelationField(r.Context()),
			zap.Int("sent", len(sent)),
			zap.Int("requested", len(req.UserIDs)),
			zap.Error(err),
		)
		if len(sent) == 0 {
			mapError(w, err)
			return
		}
		respondJSON(w, http.StatusMultiStatus, map[string]any{
			"notifications": sent,
			"error":         err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"notifications": sent})
}
