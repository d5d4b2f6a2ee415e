// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Open handles POST /api/v1/conversations/with/{userID}
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, true)
}

// Get handles GET /api/v1/conversations/with/{userID}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, false)
}

func (h *ConversationHandler) view(w http.ResponseWriter, r *http.Request, open bool) {
	ctx := r.Context()
	counterpartID, err := middleware.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	callerID := middleware.GetUserID(ctx)
	resolve := h.service.Get
	if open {
		resolve = h.service.Open
	}

	view, err := resolve(ctx, callerID, counterpartID)
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, err := middleware.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	marked, err := h.service.MarkRead(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to mark conversation read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": marked})
}
