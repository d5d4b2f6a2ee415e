package handler

import (
	"net/http"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/auth"
	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// AuthHandler handles login, logout and token issuing.
type AuthHandler struct {
	authenticator *auth.Authenticator
	cookie        CookieConfig
	logger        *logger.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(a *auth.Authenticator, cookie CookieConfig, log *logger.Logger) *AuthHandler {
	return &AuthHandler{authenticator: a, cookie: cookie, logger: log}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, sess, err := h.authenticator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to log in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(h.cookie.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, u.Summary())
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cookie.Name); err == nil {
		if err := h.authenticator.Logout(r.Context(), c.Value); err != nil {
			writeAppError(w, r, h.logger, err, "failed to log out")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// IssueToken handles POST /auth/tokens
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateDeviceName(req.DeviceName); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	token, u, err := h.authenticator.IssueToken(r.Context(), req.Email, req.Password, req.DeviceName)
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusCreated, &model.IssueTokenResponse{Token: token, User: u.Summary()})
}
