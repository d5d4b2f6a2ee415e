package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeAppError maps a service error to its status. Server errors are logged
// and answered with fallback instead of the internal message.
func writeAppError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error, fallback string) {
	status := apperror.HTTPStatus(apperror.KindOf(err))
	if status >= http.StatusInternalServerError {
		middleware.RequestLogger(r.Context(), log).Error(fallback, zap.Error(err))
	}
	writeError(w, status, apperror.PublicMessage(err, fallback))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
