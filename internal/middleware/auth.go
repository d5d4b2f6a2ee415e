// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// PrincipalKey is the context key for the authenticated principal.
	PrincipalKey ContextKey = "principal"
)

// PrincipalResolver resolves the caller of a request. A nil principal with a
// nil error means the request is anonymous.
type PrincipalResolver interface {
	Resolve(r *http.Request) (*model.Principal, error)
}

// RequireAuth rejects anonymous requests and stores the principal in the context.
func RequireAuth(resolver PrincipalResolver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolver.Resolve(r)
			if err != nil {
				log.Error("principal resolution failed",
					zap.String("correlation_id", GetCorrelationID(r.Context())),
					zap.Error(err),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if p == nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal returns a context carrying p. The request log line picks up
// the user id as well.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	if st, ok := ctx.Value(requestStateKey).(*requestState); ok && p != nil {
		st.userID = p.UserID
	}
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal gets the principal from context.
func GetPrincipal(ctx context.Context) *model.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

// GetUserID gets the authenticated user id from context, or 0.
func GetUserID(ctx context.Context) int64 {
	if p := GetPrincipal(ctx); p != nil {
		return p.UserID
	}
	return 0
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
