package model

import (
	"time"
)

// Message represents a message in a conversation.
type Message struct {
	// Identity
	ID             int64 `json:"id"`
	ConversationID int64 `json:"conversation_id"`
	SenderID       int64 `json:"sender_id"`

	// Content
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	IsRead      bool         `json:"is_read"`

	// Resolved on read
	SenderName string `json:"sender_name,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is a media file attached to a message.
type Attachment struct {
	ID           int64     `json:"id"`
	MessageID    int64     `json:"message_id"`
	Path         string    `json:"path"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

// SendMessageRequest is the JSON request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}
