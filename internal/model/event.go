package model

import (
	"time"
)

// EventName is the name of a broadcast event.
type EventName string

const (
	EventMessageSent         EventName = "message.sent"
	EventMessageNotification EventName = "message.notification"

	EventConnectionEstablished EventName = "connection_established"
	EventSubscriptionSucceeded EventName = "subscription_succeeded"
	EventSubscriptionError     EventName = "subscription_error"
	EventPong                  EventName = "pong"
	EventError                 EventName = "error"
)

// Envelope is the wire shape of every broadcast and gateway frame.
type Envelope struct {
	Event   EventName `json:"event"`
	Channel string    `json:"channel,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// MessageSentEvent is delivered to clients viewing a conversation.
type MessageSentEvent struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name"`
}

// NotificationMessage summarises the newest message of a conversation.
// Fields are null when the conversation has no messages.
type NotificationMessage struct {
	Content        *string    `json:"content"`
	SenderID       *int64     `json:"sender_id"`
	ReceiverID     *int64     `json:"receiver_id"`
	CreatedAt      *time.Time `json:"created_at"`
	ConversationID *int64     `json:"conversation_id"`
}

// MessageNotificationEvent is delivered on the shared notification channel.
type MessageNotificationEvent struct {
	UserIDs []int64             `json:"user_ids"`
	Message NotificationMessage `json:"message"`
}

// ErrorEvent represents an error frame.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
