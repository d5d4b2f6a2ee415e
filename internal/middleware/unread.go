package middleware

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// UnreadTotalHeader carries the caller's total unread count on API responses.
const UnreadTotalHeader = "X-Unread-Total"

const unreadKey ContextKey = "unread"

// UnreadComputer computes a user's unread counts.
type UnreadComputer interface {
	Compute(ctx context.Context, userID int64) (*model.UnreadSummary, error)
}

// UnreadSummary annotates authenticated responses with the unread total.
// A failed computation fails the request.
func UnreadSummary(unread UnreadComputer, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if userID == 0 {
				next.ServeHTTP(w, r)
				return
			}

			summary, err := unread.Compute(r.Context(), userID)
			if err != nil {
				RequestLogger(r.Context(), log).Error("unread computation failed", zap.Error(err))
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			w.Header().Set(UnreadTotalHeader, strconv.Itoa(summary.Total))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), unreadKey, summary)))
		})
	}
}

// GetUnreadSummary returns the summary computed for this request, if any.
func GetUnreadSummary(ctx context.Context) *model.UnreadSummary {
	if s, ok := ctx.Value(unreadKey).(*model.UnreadSummary); ok {
		return s
	}
	return nil
}
