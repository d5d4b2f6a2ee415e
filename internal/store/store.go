// Package store persists users, conversations, messages, blocks and access tokens.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUniqueViolation is returned when an insert collides with a unique constraint.
	ErrUniqueViolation = errors.New("store: unique violation")
)

// Store is the persistence boundary used by services.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	// Users
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetPushToken(ctx context.Context, userID int64, token string) error
	// ClearPushToken clears the user's push token. A non-empty token only
	// clears a stored token equal to it.
	ClearPushToken(ctx context.Context, userID int64, token string) error

	// Conversations
	FindPrivateConversation(ctx context.Context, a, b int64) (*model.Conversation, error)
	CreatePrivateConversation(ctx context.Context, creatorID, otherID int64) (*model.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID int64) (bool, error)
	ListMembers(ctx context.Context, conversationID int64) ([]model.Membership, error)
	SetConversationStatus(ctx context.Context, conversationID int64, status model.ConversationStatus) error
	ListConversationsForUser(ctx context.Context, userID int64) ([]model.ConversationListItem, error)

	// Messages
	CreateMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error)
	LatestMessage(ctx context.Context, conversationID int64) (*model.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error)
	UnreadCounts(ctx context.Context, userID int64) ([]model.ConversationUnread, error)

	// Blocks
	CreateBlock(ctx context.Context, blockerID, blockedID int64) error
	DeleteBlock(ctx context.Context, blockerID, blockedID int64) error
	// BlockExists reports whether either user blocks the other.
	BlockExists(ctx context.Context, a, b int64) (bool, error)

	// Personal access tokens
	CreateAccessToken(ctx context.Context, token *model.PersonalAccessToken) error
	GetAccessToken(ctx context.Context, id int64) (*model.PersonalAccessToken, error)
	TouchAccessToken(ctx context.Context, id int64, at time.Time) error
}
