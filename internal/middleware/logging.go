package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

const (
	// CorrelationIDKey is the context key for correlation ID.
	CorrelationIDKey ContextKey = "correlation_id"

	requestStateKey ContextKey = "request_state"
)

// requestState is filled in by inner middleware so the outer log line can see it.
type requestState struct {
	userID int64
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack lets the websocket gateway take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// quietPaths are probed constantly and only recorded in metrics.
var quietPaths = map[string]bool{"/health": true, "/ready": true, "/metrics": true}

// Logging assigns a correlation id, then logs and measures every request.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get("X-Correlation-ID")
			if _, err := uuid.Parse(correlationID); err != nil {
				correlationID = uuid.NewString()
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			rw.Header().Set("X-Correlation-ID", correlationID)

			state := &requestState{}
			ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
			ctx = context.WithValue(ctx, requestStateKey, state)
			r = r.WithContext(ctx)

			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			route := routePattern(r)
			metrics.RecordRequest(r.Method, route, strconv.Itoa(rw.statusCode), elapsed.Seconds())

			if quietPaths[r.URL.Path] && rw.statusCode < http.StatusInternalServerError {
				return
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Int64("bytes", rw.written),
				zap.Duration("duration", elapsed),
				zap.String("correlation_id", correlationID),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if state.userID != 0 {
				fields = append(fields, zap.Int64("user_id", state.userID))
			}
			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				log.Error("request failed", fields...)
			case rw.statusCode >= http.StatusBadRequest:
				log.Warn("request rejected", fields...)
			default:
				log.Info("request completed", fields...)
			}
		})
	}
}

// routePattern keeps metric labels bounded by using the matched chi route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// GetCorrelationID gets correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestLogger returns log scoped to the request's correlation id and user.
func RequestLogger(ctx context.Context, log *logger.Logger) *logger.Logger {
	return log.WithRequest(GetCorrelationID(ctx), GetUserID(ctx))
}
