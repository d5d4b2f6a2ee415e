package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/realtime"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// ChannelAuthorizer decides whether a principal may join a channel.
type ChannelAuthorizer interface {
	Authorize(ctx context.Context, channelName string, p *model.Principal) bool
}

// BroadcastingHandler issues channel grants for the websocket gateway.
type BroadcastingHandler struct {
	resolver   middleware.PrincipalResolver
	authorizer ChannelAuthorizer
	grants     *realtime.GrantSigner
	logger     *logger.Logger
}

// NewBroadcastingHandler creates a broadcasting auth handler.
func NewBroadcastingHandler(
	resolver middleware.PrincipalResolver,
	authorizer ChannelAuthorizer,
	grants *realtime.GrantSigner,
	log *logger.Logger,
) *BroadcastingHandler {
	return &BroadcastingHandler{
		resolver:   resolver,
		authorizer: authorizer,
		grants:     grants,
		logger:     log,
	}
}

type channelAuthRequest struct {
	ChannelName string `json:"channel_name"`
	SocketID    string `json:"socket_id"`
}

// Auth handles POST /broadcasting/auth. It answers {"auth": grant} or 403.
func (h *BroadcastingHandler) Auth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req channelAuthRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		req.ChannelName = r.FormValue("channel_name")
		req.SocketID = r.FormValue("socket_id")
	}

	if err := middleware.ValidateChannelName(req.ChannelName); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := middleware.ValidateSocketID(req.SocketID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	p, err := h.resolver.Resolve(r)
	if err != nil {
		middleware.RequestLogger(ctx, h.logger).Error("principal resolution failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if p != nil {
		ctx = middleware.WithPrincipal(ctx, p)
	}

	if !h.authorizer.Authorize(ctx, req.ChannelName, p) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	grant, err := h.grants.Sign(p.UserID, req.ChannelName, req.SocketID)
	if err != nil {
		middleware.RequestLogger(ctx, h.logger).Error("failed to sign channel grant", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth": grant})
}
