package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
	"github.com/capitalize-ai/messaging-platform/pkg/tracing"
)

// maxResolveAttempts bounds find-or-create retries after losing a creation race.
const maxResolveAttempts = 3

// ConversationService resolves and reads private conversations.
type ConversationService struct {
	store  store.Store
	gate   *Gate
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(s store.Store, gate *Gate, log *logger.Logger) *ConversationService {
	return &ConversationService{store: s, gate: gate, logger: log.Named("conversations")}
}

// Open resolves the conversation between caller and counterpart, creating it
// on first contact, and marks the counterpart's messages read.
func (s *ConversationService) Open(ctx context.Context, callerID, counterpartID int64) (view *model.ConversationView, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.Open")
	defer func() { tracing.End(span, err) }()
	span.SetAttributes(attribute.Int64("caller_id", callerID), attribute.Int64("counterpart_id", counterpartID))

	return s.view(ctx, callerID, counterpartID, true)
}

// Get resolves the conversation like Open but leaves read state untouched.
func (s *ConversationService) Get(ctx context.Context, callerID, counterpartID int64) (view *model.ConversationView, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.Get")
	defer func() { tracing.End(span, err) }()

	return s.view(ctx, callerID, counterpartID, false)
}

func (s *ConversationService) view(ctx context.Context, callerID, counterpartID int64, markRead bool) (*model.ConversationView, error) {
	conv, other, err := s.resolve(ctx, callerID, counterpartID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanView(ctx, conv, callerID); err != nil {
		return nil, err
	}

	if markRead {
		if _, err := s.store.MarkConversationRead(ctx, conv.ID, callerID); err != nil {
			return nil, apperror.Wrap(apperror.Internal, "failed to mark conversation read", err)
		}
	}

	messages, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to load messages", err)
	}

	return &model.ConversationView{
		Conversation: *conv,
		OtherUser:    other.Summary(),
		Messages:     messages,
	}, nil
}

// resolve finds the private conversation of the pair or creates it. A unique
// violation means a concurrent request created it first, so the lookup is retried.
func (s *ConversationService) resolve(ctx context.Context, callerID, counterpartID int64) (*model.Conversation, *model.User, error) {
	if callerID == counterpartID {
		return nil, nil, apperror.NewValidation("you cannot start a conversation with yourself")
	}

	other, err := s.store.GetUser(ctx, counterpartID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, nil, apperror.Wrap(apperror.Internal, "failed to load user", err)
	}

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		conv, err := s.store.FindPrivateConversation(ctx, callerID, counterpartID)
		if err == nil {
			return conv, other, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, apperror.Wrap(apperror.Internal, "failed to find conversation", err)
		}

		blocked, err := s.store.BlockExists(ctx, callerID, counterpartID)
		if err != nil {
			return nil, nil, apperror.Wrap(apperror.Internal, "failed to check blocks", err)
		}
		if blocked {
			return nil, nil, apperror.NewForbidden("you cannot message this user")
		}

		conv, err = s.store.CreatePrivateConversation(ctx, callerID, counterpartID)
		if err == nil {
			metrics.ConversationsCreated.Inc()
			s.logger.Info("conversation created",
				zap.Int64("conversation_id", conv.ID),
				zap.Int64("creator_id", callerID),
				zap.Int64("counterpart_id", counterpartID),
			)
			return conv, other, nil
		}
		if !errors.Is(err, store.ErrUniqueViolation) {
			return nil, nil, apperror.Wrap(apperror.Internal, "failed to create conversation", err)
		}

		metrics.ConversationCreateConflicts.Inc()
		s.logger.Debug("conversation created concurrently, retrying lookup",
			zap.Int64("caller_id", callerID),
			zap.Int64("counterpart_id", counterpartID),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, nil, apperror.New(apperror.Internal, "conversation could not be resolved")
}

// List returns the caller's active conversations, newest activity first.
func (s *ConversationService) List(ctx context.Context, callerID int64) (resp *model.ListConversationsResponse, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.List")
	defer func() { tracing.End(span, err) }()

	items, err := s.store.ListConversationsForUser(ctx, callerID)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to list conversations", err)
	}
	if items == nil {
		items = []model.ConversationListItem{}
	}
	return &model.ListConversationsResponse{Conversations: items, Total: len(items)}, nil
}

// MarkRead marks every message the caller received in a conversation as read.
func (s *ConversationService) MarkRead(ctx context.Context, callerID, conversationID int64) (marked int64, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.MarkRead")
	defer func() { tracing.End(span, err) }()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apperror.NewNotFound("conversation not found")
	}
	if err != nil {
		return 0, apperror.Wrap(apperror.Internal, "failed to load conversation", err)
	}
	if err := s.gate.CanView(ctx, conv, callerID); err != nil {
		return 0, err
	}

	marked, err = s.store.MarkConversationRead(ctx, conversationID, callerID)
	if err != nil {
		return 0, apperror.Wrap(apperror.Internal, "failed to mark conversation read", err)
	}
	return marked, nil
}
