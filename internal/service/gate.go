// Package service provides business logic for direct messaging.
package service

import (
	"context"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/capitalize-ai/messaging-platform/internal/service")

// Gate holds the capability checks for conversations.
type Gate struct {
	store store.Store
}

// NewGate creates a capability gate.
func NewGate(s store.Store) *Gate {
	return &Gate{store: s}
}

// CanView allows members of an active conversation.
func (g *Gate) CanView(ctx context.Context, conv *model.Conversation, userID int64) error {
	member, err := g.store.IsMember(ctx, conv.ID, userID)
	if err != nil {
		return apperror.Wrap(apperror.Internal, "failed to check membership", err)
	}
	if !member || !conv.Active() {
		return apperror.NewForbidden("you cannot access this conversation")
	}
	return nil
}

// CanSend is the same predicate as CanView.
func (g *Gate) CanSend(ctx context.Context, conv *model.Conversation, userID int64) error {
	return g.CanView(ctx, conv, userID)
}
