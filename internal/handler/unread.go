package handler

import (
	"net/http"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// UnreadHandler serves unread counts.
type UnreadHandler struct {
	service *service.UnreadService
	logger  *logger.Logger
}

// NewUnreadHandler creates an unread handler.
func NewUnreadHandler(svc *service.UnreadService, log *logger.Logger) *UnreadHandler {
	return &UnreadHandler{service: svc, logger: log}
}

// Get handles GET /api/v1/unread
func (h *UnreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if summary := middleware.GetUnreadSummary(ctx); summary != nil {
		writeJSON(w, http.StatusOK, summary)
		return
	}

	summary, err := h.service.Compute(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to compute unread counts")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
