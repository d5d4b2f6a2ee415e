package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// MembershipChecker reports conversation membership.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID int64) (bool, error)
}

// Authorizer decides whether a principal may subscribe to a channel.
type Authorizer struct {
	members MembershipChecker
	logger  *logger.Logger
}

// NewAuthorizer creates a channel authorizer.
func NewAuthorizer(members MembershipChecker, log *logger.Logger) *Authorizer {
	return &Authorizer{members: members, logger: log.Named("authorizer")}
}

// Authorize applies the channel predicates to an already resolved principal.
// A nil principal is never authorized. Lookup errors deny.
func (a *Authorizer) Authorize(ctx context.Context, channelName string, p *model.Principal) bool {
	ch, ok := ParseChannel(channelName)
	allowed := ok && p != nil && a.allow(ctx, ch, p)
	metrics.RecordAuthorization(string(ch.Kind), allowed)
	return allowed
}

func (a *Authorizer) allow(ctx context.Context, ch Channel, p *model.Principal) bool {
	switch ch.Kind {
	case KindUser:
		return p.UserID == ch.ID
	case KindConversation:
		member, err := a.members.IsMember(ctx, ch.ID, p.UserID)
		if err != nil {
			a.logger.Error("membership lookup failed",
				zap.Int64("conversation_id", ch.ID),
				zap.Int64("user_id", p.UserID),
				zap.Error(err),
			)
			return false
		}
		return member
	case KindNotifications:
		return true
	default:
		return false
	}
}
