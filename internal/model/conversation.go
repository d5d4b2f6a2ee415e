// Package model defines data structures for the messaging platform.
package model

import (
	"fmt"
	"time"
)

// ConversationType is the kind of conversation. Only private conversations exist today.
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
)

// ConversationStatus controls visibility. Hidden conversations belong to a
// blocked pair and are invisible to both members until restored.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationHidden ConversationStatus = "hidden"
)

// MemberRole is the role of a user inside a conversation.
type MemberRole string

const (
	RoleMember MemberRole = "member"
)

// Conversation represents a conversation thread.
type Conversation struct {
	ID        int64              `json:"id"`
	Type      ConversationType   `json:"type"`
	CreatorID int64              `json:"creator_id"`
	Status    ConversationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Active reports whether the conversation is visible.
func (c *Conversation) Active() bool {
	return c != nil && c.Status == ConversationActive
}

// Membership links a user to a conversation.
type Membership struct {
	ConversationID int64      `json:"conversation_id"`
	UserID         int64      `json:"user_id"`
	Role           MemberRole `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
}

// PairKey returns the canonical key for an unordered pair of users.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// ConversationView is a conversation with its counterpart and message history.
type ConversationView struct {
	Conversation Conversation `json:"conversation"`
	OtherUser    UserSummary  `json:"other_user"`
	Messages     []Message    `json:"messages"`
}

// ConversationListItem is one row of a user's conversation list.
type ConversationListItem struct {
	ConversationID int64       `json:"conversation_id"`
	OtherUser      UserSummary `json:"other_user"`
	LastMessage    *Message    `json:"last_message,omitempty"`
	UnreadCount    int         `json:"unread_count"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationListItem `json:"conversations"`
	Total         int                    `json:"total"`
}

// ConversationUnread is the unread count of a single conversation.
type ConversationUnread struct {
	ConversationID int64 `json:"conversation_id"`
	Count          int   `json:"count"`
}

// UnreadSummary is the unread breakdown for a user.
type UnreadSummary struct {
	PerConversation []ConversationUnread `json:"per_conversation"`
	Total           int                  `json:"total"`
}
