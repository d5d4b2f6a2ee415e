// Package push delivers message notifications to mobile devices through a
// background queue.
package push

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// TypeMessagePush is the task type for a new-message push.
const TypeMessagePush = "push:message"

// MessagePushPayload is the JSON payload carried by a push task.
type MessagePushPayload struct {
	Token       string            `json:"token"`
	RecipientID int64             `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data"`
}

// NewMessagePushPayload builds the payload announcing msg to recipient.
func NewMessagePushPayload(msg *model.Message, recipientID int64, token string) MessagePushPayload {
	body := msg.Content
	if body == "" {
		body = "Sent an attachment"
	}
	return MessagePushPayload{
		Token:       token,
		RecipientID: recipientID,
		Title:       msg.SenderName,
		Body:        body,
		Data: map[string]string{
			"type":            "message",
			"conversation_id": strconv.FormatInt(msg.ConversationID, 10),
			"message_id":      strconv.FormatInt(msg.ID, 10),
			"sender_id":       strconv.FormatInt(msg.SenderID, 10),
		},
	}
}

// NewMessagePushTask wraps a payload in an asynq task.
func NewMessagePushTask(p MessagePushPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal push payload: %w", err)
	}
	return asynq.NewTask(TypeMessagePush, data), nil
}
