package service

import (
	"context"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
	"github.com/capitalize-ai/messaging-platform/pkg/tracing"
)

// UnreadService computes unread counts. Counts are derived from the message
// rows on every call and never cached.
type UnreadService struct {
	store store.Store
}

// NewUnreadService creates an unread tracker.
func NewUnreadService(s store.Store) *UnreadService {
	return &UnreadService{store: s}
}

// Compute returns the per-conversation unread counts and their total for a user.
func (s *UnreadService) Compute(ctx context.Context, userID int64) (summary *model.UnreadSummary, err error) {
	ctx, span := tracer.Start(ctx, "UnreadService.Compute")
	defer func() { tracing.End(span, err) }()

	start := time.Now()
	counts, err := s.store.UnreadCounts(ctx, userID)
	metrics.UnreadComputeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to compute unread counts", err)
	}

	summary = &model.UnreadSummary{PerConversation: make([]model.ConversationUnread, 0, len(counts))}
	for _, c := range counts {
		summary.PerConversation = append(summary.PerConversation, c)
		summary.Total += c.Count
	}
	return summary, nil
}
