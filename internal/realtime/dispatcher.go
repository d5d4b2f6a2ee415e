package realtime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// Publisher publishes an envelope on its channel.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) (uint64, error)
}

// EventSource loads what the notification event summarises.
type EventSource interface {
	ListMembers(ctx context.Context, conversationID int64) ([]model.Membership, error)
	LatestMessage(ctx context.Context, conversationID int64) (*model.Message, error)
}

// Dispatcher shapes and publishes the events emitted after a message is committed.
// Publish failures are logged and counted, never returned.
type Dispatcher struct {
	publisher Publisher
	source    EventSource
	logger    *logger.Logger
}

// NewDispatcher creates an event dispatcher.
func NewDispatcher(publisher Publisher, source EventSource, log *logger.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, source: source, logger: log.Named("dispatcher")}
}

// MessageSent publishes the conversation-scoped event for msg.
func (d *Dispatcher) MessageSent(ctx context.Context, msg *model.Message) {
	d.publish(ctx, model.Envelope{
		Event:   model.EventMessageSent,
		Channel: ConversationChannel(msg.ConversationID),
		Data: model.MessageSentEvent{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Content:        msg.Content,
			SenderID:       msg.SenderID,
			SenderName:     msg.SenderName,
		},
	})
}

// MessageNotification publishes the shared notification event for a conversation.
func (d *Dispatcher) MessageNotification(ctx context.Context, conversationID int64) {
	d.publish(ctx, model.Envelope{
		Event:   model.EventMessageNotification,
		Channel: NotificationsChannel,
		Data:    d.BuildNotification(ctx, conversationID),
	})
}

// BuildNotification summarises the newest message of a conversation. A missing
// conversation or an empty one yields no recipients and null message fields.
func (d *Dispatcher) BuildNotification(ctx context.Context, conversationID int64) model.MessageNotificationEvent {
	empty := model.MessageNotificationEvent{UserIDs: []int64{}}

	members, err := d.source.ListMembers(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("load members failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		}
		return empty
	}
	latest, err := d.source.LatestMessage(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("load latest message failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		}
		return empty
	}

	event := model.MessageNotificationEvent{UserIDs: make([]int64, 0, len(members))}
	var receiver *int64
	for _, m := range members {
		event.UserIDs = append(event.UserIDs, m.UserID)
		if m.UserID != latest.SenderID && receiver == nil {
			id := m.UserID
			receiver = &id
		}
	}

	content := latest.Content
	sender := latest.SenderID
	createdAt := latest.CreatedAt
	convID := latest.ConversationID
	event.Message = model.NotificationMessage{
		Content:        &content,
		SenderID:       &sender,
		ReceiverID:     receiver,
		CreatedAt:      &createdAt,
		ConversationID: &convID,
	}
	return event
}

func (d *Dispatcher) publish(ctx context.Context, env model.Envelope) {
	_, err := d.publisher.Publish(ctx, env)
	metrics.RecordBroadcast(string(env.Event), err)
	if err != nil {
		d.logger.Warn("broadcast failed",
			zap.String("event", string(env.Event)),
			zap.String("channel", env.Channel),
			zap.Error(err),
		)
	}
}
