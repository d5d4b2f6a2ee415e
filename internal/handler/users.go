package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// UserHandler handles blocks and device registration for the caller.
type UserHandler struct {
	blocks  *service.BlockService
	devices *service.DeviceService
	logger  *logger.Logger
}

// NewUserHandler creates a user handler.
func NewUserHandler(blocks *service.BlockService, devices *service.DeviceService, log *logger.Logger) *UserHandler {
	return &UserHandler{blocks: blocks, devices: devices, logger: log}
}

// Block handles POST /api/v1/users/{id}/block
func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.setBlock(w, r, true)
}

// Unblock handles DELETE /api/v1/users/{id}/block
func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.setBlock(w, r, false)
}

func (h *UserHandler) setBlock(w http.ResponseWriter, r *http.Request, block bool) {
	ctx := r.Context()
	targetID, err := middleware.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if block {
		err = h.blocks.Block(ctx, middleware.GetUserID(ctx), targetID)
	} else {
		err = h.blocks.Unblock(ctx, middleware.GetUserID(ctx), targetID)
	}
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to update block")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPushToken handles PUT /api/v1/me/push-token
func (h *UserHandler) SetPushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req model.PushTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.devices.RegisterPushToken(ctx, middleware.GetUserID(ctx), req.Token); err != nil {
		writeAppError(w, r, h.logger, err, "failed to save push token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearPushToken handles DELETE /api/v1/me/push-token
func (h *UserHandler) ClearPushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.devices.ClearPushToken(ctx, middleware.GetUserID(ctx)); err != nil {
		writeAppError(w, r, h.logger, err, "failed to clear push token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
