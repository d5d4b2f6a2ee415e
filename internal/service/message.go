package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/media"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/push"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
	"github.com/capitalize-ai/messaging-platform/pkg/tracing"
)

// MaxContentLength is the longest accepted message body, in characters.
const MaxContentLength = 5000

// EventDispatcher emits the events that follow a committed message.
type EventDispatcher interface {
	MessageSent(ctx context.Context, msg *model.Message)
	MessageNotification(ctx context.Context, conversationID int64)
}

// PushQueue schedules device notifications.
type PushQueue interface {
	EnqueueMessagePush(ctx context.Context, p push.MessagePushPayload) (string, error)
}

// SendMessageInput is a message to send.
type SendMessageInput struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Attachments    []media.Upload
}

// MessageService persists messages and fans them out.
type MessageService struct {
	store      store.Store
	gate       *Gate
	storage    media.Storage
	validator  media.Validator
	dispatcher EventDispatcher
	pushQueue  PushQueue
	logger     *logger.Logger
}

// NewMessageService creates a new message service. pushQueue may be nil.
func NewMessageService(
	s store.Store,
	gate *Gate,
	storage media.Storage,
	validator media.Validator,
	dispatcher EventDispatcher,
	pushQueue PushQueue,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		store:      s,
		gate:       gate,
		storage:    storage,
		validator:  validator,
		dispatcher: dispatcher,
		pushQueue:  pushQueue,
		logger:     log.Named("messages"),
	}
}

// Send validates and stores a message with its attachments, then publishes
// the conversation and notification events and schedules a push for the
// recipient. Delivery failures after the commit never fail the send.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (msg *model.Message, err error) {
	ctx, span := tracer.Start(ctx, "MessageService.Send")
	defer func() { tracing.End(span, err) }()
	span.SetAttributes(
		attribute.Int64("conversation_id", in.ConversationID),
		attribute.Int("attachments", len(in.Attachments)),
	)

	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NewNotFound("conversation not found")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to load conversation", err)
	}
	if err := s.gate.CanSend(ctx, conv, in.SenderID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(in.Content)
	if err := s.validate(content, in.Attachments); err != nil {
		return nil, err
	}

	sender, err := s.store.GetUser(ctx, in.SenderID)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to load sender", err)
	}

	attachments, err := s.saveFiles(ctx, in.Attachments)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to send message", err)
	}

	msg = &model.Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Content:        content,
		Attachments:    attachments,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		s.removeFiles(ctx, attachments)
		s.logger.Error("message persistence failed",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("sender_id", sender.ID),
			zap.Error(err),
		)
		return nil, apperror.Wrap(apperror.Internal, "failed to send message", err)
	}
	msg.SenderName = sender.Name
	if msg.Attachments == nil {
		msg.Attachments = []model.Attachment{}
	}

	metrics.RecordMessageSent(len(msg.Attachments))
	s.logger.Debug("message sent",
		zap.Int64("message_id", msg.ID),
		zap.Int64("conversation_id", conv.ID),
		zap.Int("attachments", len(msg.Attachments)),
	)

	// The message is committed; the rest must outlive a cancelled request.
	after := context.WithoutCancel(ctx)
	s.dispatcher.MessageSent(after, msg)
	s.dispatcher.MessageNotification(after, conv.ID)
	s.enqueuePush(after, msg)

	return msg, nil
}

func (s *MessageService) validate(content string, uploads []media.Upload) error {
	if content == "" && len(uploads) == 0 {
		return apperror.NewValidation("message content or an attachment is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return apperror.NewValidation(fmt.Sprintf("message content may not exceed %d characters", MaxContentLength))
	}
	if err := s.validator.Validate(uploads); err != nil {
		var verr *media.ValidationError
		if errors.As(err, &verr) {
			return apperror.Wrap(apperror.ValidationFailed, verr.Error(), err)
		}
		return apperror.Wrap(apperror.Internal, "failed to validate attachments", err)
	}
	return nil
}

func (s *MessageService) saveFiles(ctx context.Context, uploads []media.Upload) ([]model.Attachment, error) {
	saved := make([]model.Attachment, 0, len(uploads))
	for _, u := range uploads {
		a, err := s.storage.Save(ctx, u)
		if err != nil {
			s.removeFiles(ctx, saved)
			return nil, err
		}
		saved = append(saved, a)
	}
	return saved, nil
}

func (s *MessageService) removeFiles(ctx context.Context, attachments []model.Attachment) {
	for _, a := range attachments {
		if err := s.storage.Remove(ctx, a.Path); err != nil {
			s.logger.Warn("orphaned attachment", zap.String("path", a.Path), zap.Error(err))
		}
	}
}

// enqueuePush schedules a push to the other member when they have a device token.
func (s *MessageService) enqueuePush(ctx context.Context, msg *model.Message) {
	if s.pushQueue == nil {
		return
	}

	members, err := s.store.ListMembers(ctx, msg.ConversationID)
	if err != nil {
		s.logger.Warn("push skipped: members unavailable", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		return
	}

	for _, m := range members {
		if m.UserID == msg.SenderID {
			continue
		}
		recipient, err := s.store.GetUser(ctx, m.UserID)
		if err != nil {
			s.logger.Warn("push skipped: recipient unavailable", zap.Int64("user_id", m.UserID), zap.Error(err))
			continue
		}
		if recipient.PushToken == nil || *recipient.PushToken == "" {
			continue
		}

		_, err = s.pushQueue.EnqueueMessagePush(ctx, push.NewMessagePushPayload(msg, recipient.ID, *recipient.PushToken))
		metrics.RecordPushEnqueue(err)
		if err != nil {
			s.logger.Warn("push enqueue failed",
				zap.Int64("message_id", msg.ID),
				zap.Int64("recipient_id", recipient.ID),
				zap.Error(err),
			)
		}
	}
}
